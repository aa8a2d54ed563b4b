package audio

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied means the runtime refused access to the input device
	ErrPermissionDenied = errors.New("microphone access denied")

	// ErrNoDevice means no input device is available
	ErrNoDevice = errors.New("no input device available")

	// ErrUnsupportedConstraints means the device cannot satisfy the requested format
	ErrUnsupportedConstraints = errors.New("input device does not support the requested constraints")
)

// Constraints describes the requested input stream
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	SampleRate       int
	Channels         int

	// FramesPerBuffer is how many frames each capture callback delivers
	FramesPerBuffer int
}

// DefaultConstraints returns the constraints used for voice recordings
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		SampleRate:       44100,
		Channels:         1,
		FramesPerBuffer:  4096,
	}
}

// Source acquires input streams from an audio runtime
type Source interface {
	// Acquire opens an input stream satisfying c. Failures wrap one of
	// ErrPermissionDenied, ErrNoDevice or ErrUnsupportedConstraints.
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an exclusively owned, open input device
type Stream interface {
	// SampleRate is the effective capture rate in Hz
	SampleRate() int

	// Channels is the number of interleaved channels per frame
	Channels() int

	// StartCapture sends captured sample frames to frames.
	// The method blocks until the context is cancelled or the device fails.
	// Every block read from the device is delivered, including one read
	// while the context was being cancelled; the caller keeps receiving
	// until StartCapture returns.
	StartCapture(ctx context.Context, frames chan<- []float32) error

	// Close releases the device
	Close() error
}
