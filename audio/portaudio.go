package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// PortaudioSource opens microphone streams through PortAudio
type PortaudioSource struct {
	logger *zap.Logger
}

var _ Source = (*PortaudioSource)(nil)

func NewPortaudioSource(logger *zap.Logger) *PortaudioSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortaudioSource{logger: logger}
}

func (s *PortaudioSource) Acquire(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.SampleRate <= 0 || c.Channels <= 0 || c.FramesPerBuffer <= 0 {
		return nil, fmt.Errorf("%w: rate=%d channels=%d frames=%d",
			ErrUnsupportedConstraints, c.SampleRate, c.Channels, c.FramesPerBuffer)
	}

	// PortAudio keeps its own init refcount, so every stream pairs one
	// Initialize with one Terminate.
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", classify(err))
	}

	stream, err := s.open(c)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	if c.EchoCancellation || c.NoiseSuppression {
		s.logger.Debug("echo cancellation and noise suppression are advisory on PortAudio",
			zap.Bool("echo_cancellation", c.EchoCancellation),
			zap.Bool("noise_suppression", c.NoiseSuppression),
		)
	}

	return stream, nil
}

func (s *PortaudioSource) open(c Constraints) (*PortaudioStream, error) {
	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if device.MaxInputChannels < c.Channels {
		return nil, fmt.Errorf("%w: device %q has %d input channels, need %d",
			ErrUnsupportedConstraints, device.Name, device.MaxInputChannels, c.Channels)
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = c.Channels
	params.SampleRate = float64(c.SampleRate)
	params.FramesPerBuffer = c.FramesPerBuffer

	buffer := make([]float32, c.FramesPerBuffer*c.Channels)
	if err := portaudio.IsFormatSupported(params, buffer); err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", device.Name, classify(err))
	}

	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", device.Name, classify(err))
	}

	s.logger.Info("input device acquired",
		zap.String("device", device.Name),
		zap.Int("sample_rate", c.SampleRate),
		zap.Int("channels", c.Channels),
		zap.Int("frames_per_buffer", c.FramesPerBuffer),
	)

	return &PortaudioStream{
		stream:      stream,
		audioBuffer: buffer,
		sampleRate:  c.SampleRate,
		channels:    c.Channels,
		logger:      s.logger,
	}, nil
}

// PortaudioStream is an open PortAudio input stream
type PortaudioStream struct {
	stream      *portaudio.Stream
	audioBuffer []float32
	sampleRate  int
	channels    int
	logger      *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ Stream = (*PortaudioStream)(nil)

func (a *PortaudioStream) SampleRate() int { return a.sampleRate }

func (a *PortaudioStream) Channels() int { return a.channels }

func (a *PortaudioStream) StartCapture(ctx context.Context, frames chan<- []float32) error {
	if err := a.stream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", classify(err))
	}
	defer a.stream.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := a.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				a.logger.Warn("input overflowed, frames were dropped")
				continue
			}
			return fmt.Errorf("failed to read input stream: %w", err)
		}

		// The PortAudio buffer is reused on every read.
		block := make([]float32, len(a.audioBuffer))
		copy(block, a.audioBuffer)

		// A block read before cancellation is still part of the take, and
		// the consumer drains frames until StartCapture returns.
		frames <- block
	}
}

func (a *PortaudioStream) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.stream.Close()
		if err := portaudio.Terminate(); err != nil && a.closeErr == nil {
			a.closeErr = err
		}
	})
	return a.closeErr
}

// classify maps PortAudio errors onto the package sentinels
func classify(err error) error {
	var paErr portaudio.Error
	if !errors.As(err, &paErr) {
		return err
	}
	switch paErr {
	case portaudio.InvalidSampleRate,
		portaudio.InvalidChannelCount,
		portaudio.SampleFormatNotSupported,
		portaudio.BadIODeviceCombination:
		return fmt.Errorf("%w: %v", ErrUnsupportedConstraints, err)
	case portaudio.InvalidDevice:
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	case portaudio.DeviceUnavailable, portaudio.UnanticipatedHostError:
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	default:
		return err
	}
}
