package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "expected int64 sum, got %T", data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRecorderInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	rec, err := New(Meter(provider))
	require.NoError(t, err)

	ctx := context.Background()
	rec.RecordingStarted(ctx, "audio/wav")
	rec.RecordingStarted(ctx, "audio/ogg")
	rec.RecordingFinalized(ctx, "audio/wav", 1024, 2*time.Second)
	rec.DeviceFailure(ctx, "permission_denied")
	rec.Submission(ctx, "http", nil)
	rec.Submission(ctx, "http", errors.New("file too large"))

	data := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, data["recorder.recordings.started"]))
	assert.Equal(t, int64(1), sumOf(t, data["recorder.recordings.finalized"]))
	assert.Equal(t, int64(1), sumOf(t, data["recorder.device.failures"]))
	assert.Equal(t, int64(2), sumOf(t, data["recorder.submissions"]))

	hist, ok := data["recorder.artifact.size"].(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, int64(1024), hist.DataPoints[0].Sum)
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	ctx := context.Background()
	assert.NotPanics(t, func() {
		rec.RecordingStarted(ctx, "audio/wav")
		rec.RecordingFinalized(ctx, "audio/wav", 1, time.Second)
		rec.DeviceFailure(ctx, "no_device")
		rec.Submission(ctx, "http", nil)
	})
}

func TestSetup(t *testing.T) {
	provider, handler, err := Setup(context.Background(), "theranotes-test")
	require.NoError(t, err)
	defer provider.Shutdown(context.Background())
	assert.NotNil(t, handler)
}
