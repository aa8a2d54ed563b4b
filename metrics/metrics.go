// Package metrics exposes recorder and submission instruments over OpenTelemetry.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const instrumentationName = "github.com/d1nch8g/theranotes"

// Recorder holds the instruments. A nil *Recorder records nothing.
type Recorder struct {
	recordingsStarted   metric.Int64Counter
	recordingsFinalized metric.Int64Counter
	deviceFailures      metric.Int64Counter
	artifactBytes       metric.Int64Histogram
	recordingSeconds    metric.Float64Histogram
	submissions         metric.Int64Counter
}

func New(meter metric.Meter) (*Recorder, error) {
	var (
		r   Recorder
		err error
	)
	if r.recordingsStarted, err = meter.Int64Counter("recorder.recordings.started",
		metric.WithDescription("Recordings that acquired a device and began capturing")); err != nil {
		return nil, fmt.Errorf("recordings.started: %w", err)
	}
	if r.recordingsFinalized, err = meter.Int64Counter("recorder.recordings.finalized",
		metric.WithDescription("Recordings finalized into an artifact")); err != nil {
		return nil, fmt.Errorf("recordings.finalized: %w", err)
	}
	if r.deviceFailures, err = meter.Int64Counter("recorder.device.failures",
		metric.WithDescription("Failed attempts to acquire the input device")); err != nil {
		return nil, fmt.Errorf("device.failures: %w", err)
	}
	if r.artifactBytes, err = meter.Int64Histogram("recorder.artifact.size",
		metric.WithUnit("By"),
		metric.WithDescription("Size of finalized artifacts")); err != nil {
		return nil, fmt.Errorf("artifact.size: %w", err)
	}
	if r.recordingSeconds, err = meter.Float64Histogram("recorder.recording.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Elapsed capture time of finalized recordings")); err != nil {
		return nil, fmt.Errorf("recording.duration: %w", err)
	}
	if r.submissions, err = meter.Int64Counter("recorder.submissions",
		metric.WithDescription("Transcription submissions by backend and outcome")); err != nil {
		return nil, fmt.Errorf("submissions: %w", err)
	}
	return &r, nil
}

func (r *Recorder) RecordingStarted(ctx context.Context, mediaType string) {
	if r == nil {
		return
	}
	r.recordingsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("media_type", mediaType)))
}

func (r *Recorder) RecordingFinalized(ctx context.Context, mediaType string, size int, elapsed time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("media_type", mediaType))
	r.recordingsFinalized.Add(ctx, 1, attrs)
	r.artifactBytes.Record(ctx, int64(size), attrs)
	r.recordingSeconds.Record(ctx, elapsed.Seconds(), attrs)
}

func (r *Recorder) DeviceFailure(ctx context.Context, reason string) {
	if r == nil {
		return
	}
	r.deviceFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (r *Recorder) Submission(ctx context.Context, backend string, err error) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	r.submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("outcome", outcome),
	))
}

// Setup builds a meter provider exporting through Prometheus and the handler
// serving it. Callers shut the provider down on exit.
func Setup(ctx context.Context, serviceName string) (*sdkmetric.MeterProvider, http.Handler, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, err
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	return provider, promhttp.Handler(), nil
}

// Meter returns the meter used by this module's instruments
func Meter(provider metric.MeterProvider) metric.Meter {
	return provider.Meter(instrumentationName)
}
