package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/d1nch8g/theranotes/audio"
	"github.com/d1nch8g/theranotes/engine"
	"github.com/d1nch8g/theranotes/recorder"
	"github.com/d1nch8g/theranotes/stt"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		d        time.Duration
		expected string
	}{
		{0, "00:00.00"},
		{1500 * time.Millisecond, "00:01.50"},
		{61*time.Second + 230*time.Millisecond, "01:01.23"},
		{-time.Second, "00:00.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatElapsed(tt.d))
	}
}

func TestDescribeError(t *testing.T) {
	devErr := &recorder.DeviceAccessError{Err: audio.ErrPermissionDenied}
	assert.Equal(t, "Could not access microphone. Please check permissions.", describeError(devErr))
	assert.Equal(t, "file too large", describeError(&stt.SubmissionError{StatusCode: 413, Detail: "file too large"}))
	assert.Equal(t, "Nothing recorded yet.", describeError(recorder.ErrNoArtifact))
	assert.Equal(t, "boom", describeError(errors.New("boom")))
}

type deniedSource struct{}

func (deniedSource) Acquire(context.Context, audio.Constraints) (audio.Stream, error) {
	return nil, audio.ErrPermissionDenied
}

type nopTranscriber struct{}

func (nopTranscriber) Transcribe(context.Context, stt.Audio) (*stt.Result, error) {
	return &stt.Result{}, nil
}

func (nopTranscriber) Close() error { return nil }

func TestRunRecorderReportsErrors(t *testing.T) {
	session, err := recorder.NewSession(recorder.Options{Source: deniedSource{}})
	require.NoError(t, err)
	e := engine.NewEngine(engine.EngineConfig{}, session, nopTranscriber{}, nil, nil)
	defer e.Close()

	var out bytes.Buffer
	a := &app{logger: zap.NewNop(), engine: e, out: &out}
	in := strings.NewReader("r\nu\nq\n")

	require.NoError(t, runRecorder(context.Background(), a, in, &out))
	assert.Contains(t, out.String(), "Could not access microphone")
	assert.Contains(t, out.String(), "Nothing recorded yet.")
}
