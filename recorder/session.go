// Package recorder drives a single microphone capture session: acquiring the
// device, collecting encoded chunks while recording, finalizing them into an
// artifact on stop, and exposing playback and download of the result.
//
// All session state is owned by one event-loop goroutine. Public methods post
// closures to it and wait for the reply, so callers never observe a
// half-applied transition.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/d1nch8g/theranotes/audio"
	"github.com/d1nch8g/theranotes/codec"
	"github.com/d1nch8g/theranotes/metrics"
	"github.com/d1nch8g/theranotes/sound"
)

const DefaultTimerResolution = 10 * time.Millisecond

// Options configures a Session. Only Source is required.
type Options struct {
	Source      audio.Source
	Constraints audio.Constraints

	// Encoders resolves container encoders, NewDefaultRegistry when nil
	Encoders    *codec.Registry
	Preferences []string
	Format      Format

	// TimerResolution is how often the elapsed display is refreshed
	TimerResolution time.Duration

	Player  sound.Player
	Saver   Saver
	Logger  *zap.Logger
	Metrics *metrics.Recorder
	Clock   func() time.Time

	// OnTick receives the elapsed time on every timer tick while recording.
	// It runs on the session loop and must not call back into the Session.
	OnTick func(elapsed time.Duration)
}

// Snapshot is a consistent view of the session
type Snapshot struct {
	ID           string
	State        State
	Elapsed      time.Duration
	MediaType    string
	Chunks       int
	ArtifactSize int
	IsPlaying    bool
}

// Session is the recording state machine
type Session struct {
	id     string
	opts   Options
	logger *zap.Logger
	clock  func() time.Time

	mailbox   *mailbox
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the loop goroutine.
	state      State
	take       int
	mediaType  string
	rawPCM     bool
	sampleRate int
	startedAt  time.Time
	elapsed    time.Duration
	chunks     [][]byte
	frames     [][]float32
	artifact   *Artifact

	stream        audio.Stream
	cancelCapture context.CancelFunc
	captureDone   chan struct{}
	stopping      bool
	finalized     chan struct{}
	ticker        *time.Ticker

	playback  sound.Playback
	isPlaying bool
}

func NewSession(opts Options) (*Session, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("audio source is required")
	}
	switch opts.Format {
	case "":
		opts.Format = FormatAuto
	case FormatAuto, FormatWAV:
	default:
		return nil, fmt.Errorf("unknown recording format %q", opts.Format)
	}
	if opts.Encoders == nil {
		opts.Encoders = codec.NewDefaultRegistry()
	}
	if opts.Preferences == nil {
		opts.Preferences = codec.DefaultPreferences
	}
	if opts.Constraints.SampleRate == 0 {
		opts.Constraints = audio.DefaultConstraints()
	}
	if opts.TimerResolution <= 0 {
		opts.TimerResolution = DefaultTimerResolution
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	id := uuid.NewString()
	s := &Session{
		id:      id,
		opts:    opts,
		logger:  opts.Logger.With(zap.String("session_id", id)),
		clock:   opts.Clock,
		mailbox: newMailbox(),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// Start acquires the microphone and begins recording. Starting from Stopped
// discards the previous artifact once the device is acquired; if acquisition
// fails the session is left exactly as it was.
func (s *Session) Start(ctx context.Context) error {
	return s.call(func() error { return s.start(ctx) })
}

// Stop ends the recording and waits until the artifact is finalized and the
// device released. It is a no-op unless the session is recording.
func (s *Session) Stop(ctx context.Context) error {
	var wait chan struct{}
	err := s.call(func() error {
		if s.state != StateRecording {
			return nil
		}
		wait = s.finalized
		if !s.stopping {
			s.stopping = true
			s.elapsed = s.clock().Sub(s.startedAt)
			s.stopTimer()
			s.cancelCapture()
			s.logger.Debug("stop requested", zap.Int("take", s.take))
		}
		return nil
	})
	if err != nil || wait == nil {
		return err
	}

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// TogglePlayback plays the artifact, or pauses it if it is playing
func (s *Session) TogglePlayback() error {
	return s.call(func() error {
		if s.artifact == nil {
			return ErrNoArtifact
		}
		if s.playback == nil {
			if err := s.bindPlayback(); err != nil {
				return err
			}
		}
		if s.isPlaying {
			return s.playback.Pause()
		}
		return s.playback.Play()
	})
}

// Download hands the artifact to the configured Saver under a timestamped
// name and returns the saved location.
func (s *Session) Download() (string, error) {
	var artifact *Artifact
	err := s.call(func() error {
		if s.artifact == nil {
			return ErrNoArtifact
		}
		artifact = s.artifact
		return nil
	})
	if err != nil {
		return "", err
	}
	if s.opts.Saver == nil {
		return "", ErrNoSaver
	}

	name := Filename(s.clock(), artifact.MediaType)
	path, err := s.opts.Saver.Save(name, artifact.Data)
	if err != nil {
		return "", err
	}
	s.logger.Info("recording downloaded", zap.String("path", path), zap.Int("size", artifact.Size()))
	return path, nil
}

// Reset returns the session to Idle from any state, releasing the device,
// the timer, the playback handle and all captured data.
func (s *Session) Reset() error {
	return s.call(func() error {
		s.reset()
		return nil
	})
}

// Close resets the session and stops its loop. Further calls return ErrClosed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.call(func() error {
			s.reset()
			return nil
		})
		close(s.quit)
		<-s.done
	})
	return nil
}

func (s *Session) State() State {
	var state State
	_ = s.call(func() error {
		state = s.state
		return nil
	})
	return state
}

// Elapsed is the capture time so far, frozen once recording stops
func (s *Session) Elapsed() time.Duration {
	var elapsed time.Duration
	_ = s.call(func() error {
		elapsed = s.currentElapsed()
		return nil
	})
	return elapsed
}

// Artifact returns the finalized recording, or nil unless the session is Stopped
func (s *Session) Artifact() *Artifact {
	var artifact *Artifact
	_ = s.call(func() error {
		artifact = s.artifact
		return nil
	})
	return artifact
}

func (s *Session) IsPlaying() bool {
	var playing bool
	_ = s.call(func() error {
		playing = s.isPlaying
		return nil
	})
	return playing
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{ID: s.id}
	_ = s.call(func() error {
		snap.State = s.state
		snap.Elapsed = s.currentElapsed()
		snap.MediaType = s.mediaType
		snap.Chunks = len(s.chunks)
		if s.rawPCM {
			snap.Chunks = len(s.frames)
		}
		if s.artifact != nil {
			snap.ArtifactSize = s.artifact.Size()
		}
		snap.IsPlaying = s.isPlaying
		return nil
	})
	return snap
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.C
		}

		select {
		case <-s.mailbox.signal:
			for _, fn := range s.mailbox.drain() {
				fn()
			}
		case <-tick:
			s.onTick()
		case <-s.quit:
			return
		}
	}
}

// call runs fn on the loop goroutine and returns its result
func (s *Session) call(fn func() error) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	reply := make(chan error, 1)
	s.mailbox.push(func() { reply <- fn() })

	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) start(ctx context.Context) error {
	if s.state == StateRecording {
		return ErrAlreadyRecording
	}

	stream, err := s.opts.Source.Acquire(ctx, s.opts.Constraints)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		devErr := &DeviceAccessError{Err: err}
		s.logger.Warn("failed to acquire microphone", zap.String("reason", devErr.Reason()), zap.Error(err))
		s.opts.Metrics.DeviceFailure(ctx, devErr.Reason())
		return devErr
	}

	mediaType, encoder := s.selectEncoder(stream)

	s.discardTake()
	s.take++
	s.state = StateRecording
	s.stopping = false
	s.mediaType = mediaType
	s.rawPCM = encoder == nil
	s.sampleRate = stream.SampleRate()
	s.startedAt = s.clock()
	s.elapsed = 0
	s.stream = stream
	s.finalized = make(chan struct{})

	captureCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancelCapture = cancel
	s.captureDone = done
	s.ticker = time.NewTicker(s.opts.TimerResolution)

	go s.capture(captureCtx, cancel, done, s.take, stream, encoder)

	s.logger.Info("recording started",
		zap.Int("take", s.take),
		zap.String("media_type", mediaType),
		zap.Int("sample_rate", s.sampleRate),
	)
	s.opts.Metrics.RecordingStarted(ctx, mediaType)
	return nil
}

func (s *Session) selectEncoder(stream audio.Stream) (string, codec.Encoder) {
	if s.opts.Format == FormatWAV {
		return codec.WAVMediaType, nil
	}

	mediaType, ok := s.opts.Encoders.Select(s.opts.Preferences)
	if !ok {
		s.logger.Info("no preferred container is supported, recording WAV")
		return codec.WAVMediaType, nil
	}

	encoder, err := s.opts.Encoders.New(mediaType, stream.SampleRate(), stream.Channels())
	if err != nil {
		s.logger.Warn("failed to create encoder, recording WAV",
			zap.String("media_type", mediaType),
			zap.Error(err),
		)
		return codec.WAVMediaType, nil
	}
	return mediaType, encoder
}

func (s *Session) appendChunk(take int, chunk []byte) {
	if take != s.take || s.state != StateRecording {
		return
	}
	s.chunks = append(s.chunks, chunk)
}

func (s *Session) appendFrames(take int, frames []float32) {
	if take != s.take || s.state != StateRecording {
		return
	}
	s.frames = append(s.frames, frames)
}

// finalize runs once the capture goroutine has flushed its encoder
func (s *Session) finalize(take int, tail []byte, failure error) {
	if take != s.take || s.state != StateRecording {
		return
	}
	if len(tail) > 0 {
		s.chunks = append(s.chunks, tail)
	}
	if failure != nil {
		s.logger.Warn("capture ended early, keeping what was recorded", zap.Error(failure))
	}
	if !s.stopping {
		s.elapsed = s.clock().Sub(s.startedAt)
		s.stopTimer()
	}

	var data []byte
	if s.rawPCM {
		data = codec.EncodeWAV(codec.ConcatFrames(s.frames), s.sampleRate)
	} else {
		data = joinChunks(s.chunks)
	}

	s.artifact = &Artifact{
		ID:        uuid.NewString(),
		Data:      data,
		MediaType: s.mediaType,
		CreatedAt: s.clock(),
		Duration:  s.elapsed,
	}
	s.state = StateStopped
	s.stopping = false
	s.releaseDevice()
	s.signalFinalized()

	if err := s.bindPlayback(); err != nil && !errors.Is(err, ErrNoPlayer) {
		s.logger.Warn("recording is not playable", zap.Error(err))
	}

	s.logger.Info("recording finalized",
		zap.Int("take", s.take),
		zap.String("media_type", s.artifact.MediaType),
		zap.Int("size", s.artifact.Size()),
		zap.Duration("elapsed", s.elapsed),
	)
	s.opts.Metrics.RecordingFinalized(context.Background(), s.artifact.MediaType, s.artifact.Size(), s.elapsed)
}

func (s *Session) reset() {
	s.stopTimer()
	s.releaseDevice()
	s.take++
	s.signalFinalized()
	s.discardTake()
	s.state = StateIdle
	s.stopping = false
	s.mediaType = ""
	s.rawPCM = false
	s.logger.Debug("session reset")
}

// discardTake drops the artifact, playback handle and captured data
func (s *Session) discardTake() {
	if s.playback != nil {
		if err := s.playback.Close(); err != nil {
			s.logger.Warn("failed to close playback", zap.Error(err))
		}
		s.playback = nil
	}
	s.isPlaying = false
	s.artifact = nil
	s.chunks = nil
	s.frames = nil
	s.elapsed = 0
}

// releaseDevice stops the capture goroutine and closes the stream. The
// capture goroutine never waits on the loop, so blocking here is safe.
func (s *Session) releaseDevice() {
	if s.cancelCapture != nil {
		s.cancelCapture()
		s.cancelCapture = nil
	}
	if s.captureDone != nil {
		<-s.captureDone
		s.captureDone = nil
	}
	if s.stream != nil {
		if err := s.stream.Close(); err != nil {
			s.logger.Warn("failed to release microphone", zap.Error(err))
		}
		s.stream = nil
	}
}

func (s *Session) signalFinalized() {
	if s.finalized != nil {
		close(s.finalized)
		s.finalized = nil
	}
}

func (s *Session) stopTimer() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Session) onTick() {
	if s.state != StateRecording || s.stopping {
		return
	}
	s.elapsed = s.clock().Sub(s.startedAt)
	if s.opts.OnTick != nil {
		s.opts.OnTick(s.elapsed)
	}
}

func (s *Session) currentElapsed() time.Duration {
	if s.state == StateRecording && !s.stopping {
		return s.clock().Sub(s.startedAt)
	}
	return s.elapsed
}

func (s *Session) bindPlayback() error {
	if s.opts.Player == nil {
		return ErrNoPlayer
	}

	take := s.take
	playback, err := s.opts.Player.Bind(s.artifact.Data, s.artifact.MediaType, func(ev sound.Event) {
		s.mailbox.push(func() { s.onPlaybackEvent(take, ev) })
	})
	if err != nil {
		return fmt.Errorf("failed to prepare playback: %w", err)
	}
	s.playback = playback
	return nil
}

func (s *Session) onPlaybackEvent(take int, ev sound.Event) {
	if take != s.take || s.playback == nil {
		return
	}
	switch ev {
	case sound.EventStarted:
		s.isPlaying = true
	case sound.EventPaused, sound.EventEnded:
		s.isPlaying = false
	}
	s.logger.Debug("playback event", zap.Stringer("event", ev))
}
