package sound

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

type PlayerConfig struct {
	FramesPerBuffer int
}

func GetDefaultConfig() PlayerConfig {
	return PlayerConfig{
		FramesPerBuffer: 1024,
	}
}

// PortaudioPlayer plays decoded artifacts on the default output device
type PortaudioPlayer struct {
	config PlayerConfig
	logger *zap.Logger
}

var _ Player = (*PortaudioPlayer)(nil)

func NewPortaudioPlayer(config PlayerConfig, logger *zap.Logger) *PortaudioPlayer {
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = GetDefaultConfig().FramesPerBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortaudioPlayer{config: config, logger: logger}
}

func (p *PortaudioPlayer) Bind(data []byte, mediaType string, notify func(Event)) (Playback, error) {
	pcm, err := Decode(data, mediaType)
	if err != nil {
		return nil, err
	}
	if notify == nil {
		notify = func(Event) {}
	}

	p.logger.Debug("artifact bound for playback",
		zap.String("media_type", mediaType),
		zap.Int("sample_rate", pcm.SampleRate),
		zap.Int("channels", pcm.Channels),
		zap.Duration("duration", pcm.Duration()),
	)

	return &portaudioPlayback{
		pcm:             pcm,
		framesPerBuffer: p.config.FramesPerBuffer,
		notify:          notify,
		logger:          p.logger,
	}, nil
}

type portaudioPlayback struct {
	pcm             *PCM
	framesPerBuffer int
	notify          func(Event)
	logger          *zap.Logger

	mu          sync.Mutex
	stream      *portaudio.Stream
	audioBuffer []int16
	position    int // frames
	cancel      context.CancelFunc
	done        chan struct{}
	closed      bool
}

func (p *portaudioPlayback) Play() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("playback closed")
	}
	if p.cancel != nil {
		p.mu.Unlock()
		return nil
	}
	if err := p.openLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.position >= p.pcm.Frames() {
		p.position = 0
	}
	if err := p.stream.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("failed to start output stream: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	p.mu.Unlock()

	go p.run(ctx, done)
	p.notify(EventStarted)
	return nil
}

func (p *portaudioPlayback) Pause() error {
	if !p.halt() {
		return nil
	}
	p.notify(EventPaused)
	return nil
}

func (p *portaudioPlayback) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pcm.SampleRate == 0 {
		return 0
	}
	return time.Duration(p.position) * time.Second / time.Duration(p.pcm.SampleRate)
}

func (p *portaudioPlayback) Close() error {
	p.halt()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.stream == nil {
		return nil
	}
	err := p.stream.Close()
	p.stream = nil
	if termErr := portaudio.Terminate(); termErr != nil && err == nil {
		err = termErr
	}
	return err
}

func (p *portaudioPlayback) openLocked() error {
	if p.stream != nil {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p.audioBuffer = make([]int16, p.framesPerBuffer*p.pcm.Channels)
	stream, err := portaudio.OpenDefaultStream(
		0,
		p.pcm.Channels,
		float64(p.pcm.SampleRate),
		p.framesPerBuffer,
		p.audioBuffer,
	)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	p.stream = stream
	return nil
}

// halt stops a running playback goroutine. It reports whether one was running.
func (p *portaudioPlayback) halt() bool {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return false
	}
	cancel()
	<-done

	p.mu.Lock()
	if p.stream != nil {
		_ = p.stream.Stop()
	}
	p.mu.Unlock()
	return true
}

func (p *portaudioPlayback) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	channels := p.pcm.Channels
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.mu.Lock()
		start := p.position * channels
		if start >= len(p.pcm.Samples) {
			p.mu.Unlock()
			break
		}
		n := copy(p.audioBuffer, p.pcm.Samples[start:])
		// Zero-fill the tail of the last buffer
		for i := n; i < len(p.audioBuffer); i++ {
			p.audioBuffer[i] = 0
		}
		p.position += n / channels
		stream := p.stream
		p.mu.Unlock()

		if err := stream.Write(); err != nil {
			if errors.Is(err, portaudio.OutputUnderflowed) {
				continue
			}
			p.logger.Warn("error writing audio", zap.Error(err))
			break
		}
	}

	p.mu.Lock()
	owned := p.done == done
	if owned {
		p.cancel, p.done = nil, nil
		p.position = 0
		if p.stream != nil {
			_ = p.stream.Stop()
		}
	}
	p.mu.Unlock()

	if owned {
		p.notify(EventEnded)
	}
}
