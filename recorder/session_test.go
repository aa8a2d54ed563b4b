package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d1nch8g/theranotes/audio"
	"github.com/d1nch8g/theranotes/codec"
	"github.com/d1nch8g/theranotes/sound"
)

const testMediaType = "audio/webm"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 17, 12, 30, 45, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeStream struct {
	rate       int
	channels   int
	blocks     [][]float32
	captureErr error
	// late blocks are delivered after cancellation, like a device read in flight
	late [][]float32

	mu     sync.Mutex
	closed bool
}

func (f *fakeStream) SampleRate() int { return f.rate }

func (f *fakeStream) Channels() int { return f.channels }

func (f *fakeStream) StartCapture(ctx context.Context, frames chan<- []float32) error {
	for _, b := range f.blocks {
		frames <- b
	}
	if f.captureErr != nil {
		return f.captureErr
	}
	<-ctx.Done()
	for _, b := range f.late {
		frames <- b
	}
	return ctx.Err()
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSource struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
}

func (f *fakeSource) Acquire(ctx context.Context, _ audio.Constraints) (audio.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	stream := &fakeStream{rate: 8000, channels: 1}
	if len(f.streams) > 0 {
		stream = f.streams[0]
		f.streams = f.streams[1:]
	}
	return stream, nil
}

func (f *fakeSource) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// fakeEncoder emits one chunk of sizes[i] bytes per Encode call
type fakeEncoder struct {
	sizes []int
	tail  int
}

func (e *fakeEncoder) MediaType() string { return testMediaType }

func (e *fakeEncoder) Encode(_ []float32) ([]byte, error) {
	if len(e.sizes) == 0 {
		return nil, nil
	}
	n := e.sizes[0]
	e.sizes = e.sizes[1:]
	return make([]byte, n), nil
}

func (e *fakeEncoder) Close() ([]byte, error) {
	return make([]byte, e.tail), nil
}

func encoderRegistry(sizes []int, tail int) *codec.Registry {
	reg := codec.NewRegistry()
	reg.Register(testMediaType, func(string, int, int) (codec.Encoder, error) {
		return &fakeEncoder{sizes: append([]int(nil), sizes...), tail: tail}, nil
	})
	return reg
}

type fakePlayback struct {
	notify func(sound.Event)

	mu     sync.Mutex
	closed bool
}

func (p *fakePlayback) Play() error {
	p.notify(sound.EventStarted)
	return nil
}

func (p *fakePlayback) Pause() error {
	p.notify(sound.EventPaused)
	return nil
}

func (p *fakePlayback) Position() time.Duration { return 0 }

func (p *fakePlayback) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePlayback) end() {
	p.notify(sound.EventEnded)
}

func (p *fakePlayback) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakePlayer struct {
	mu    sync.Mutex
	bound []*fakePlayback
}

func (f *fakePlayer) Bind(data []byte, mediaType string, notify func(sound.Event)) (sound.Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pb := &fakePlayback{notify: notify}
	f.bound = append(f.bound, pb)
	return pb, nil
}

func (f *fakePlayer) last() *fakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bound) == 0 {
		return nil
	}
	return f.bound[len(f.bound)-1]
}

func blocks(n, size int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, size)
	}
	return out
}

type harness struct {
	session *Session
	source  *fakeSource
	clock   *fakeClock
	player  *fakePlayer
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		source: &fakeSource{},
		clock:  newFakeClock(),
		player: &fakePlayer{},
	}
	if opts.Source == nil {
		opts.Source = h.source
	}
	if opts.Encoders == nil {
		opts.Encoders = encoderRegistry(nil, 0)
	}
	if opts.Preferences == nil {
		opts.Preferences = []string{testMediaType}
	}
	if opts.Clock == nil {
		opts.Clock = h.clock.Now
	}
	if opts.Player == nil {
		opts.Player = h.player
	}

	session, err := NewSession(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	h.session = session
	return h
}

func (h *harness) record(t *testing.T, stream *fakeStream) {
	t.Helper()
	h.source.streams = append(h.source.streams, stream)
	require.NoError(t, h.session.Start(context.Background()))
	require.NoError(t, h.session.Stop(context.Background()))
}

func TestRecordingConcatenatesChunks(t *testing.T) {
	h := newHarness(t, Options{Encoders: encoderRegistry([]int{10, 20, 15}, 0)})
	stream := &fakeStream{rate: 8000, channels: 1, blocks: blocks(3, 160)}

	h.source.streams = append(h.source.streams, stream)
	require.NoError(t, h.session.Start(context.Background()))
	assert.Equal(t, StateRecording, h.session.State())
	assert.Nil(t, h.session.Artifact())

	require.NoError(t, h.session.Stop(context.Background()))

	assert.Equal(t, StateStopped, h.session.State())
	artifact := h.session.Artifact()
	require.NotNil(t, artifact)
	assert.Len(t, artifact.Data, 45)
	assert.Equal(t, testMediaType, artifact.MediaType)
	assert.True(t, stream.isClosed(), "device should be released after finalization")
}

func TestStopIncludesEncoderFlush(t *testing.T) {
	h := newHarness(t, Options{Encoders: encoderRegistry([]int{10, 20}, 15)})
	h.record(t, &fakeStream{rate: 8000, channels: 1, blocks: blocks(2, 160)})

	artifact := h.session.Artifact()
	require.NotNil(t, artifact)
	assert.Equal(t, 45, artifact.Size())
}

func TestStopKeepsBlockReadDuringCancel(t *testing.T) {
	h := newHarness(t, Options{Encoders: encoderRegistry([]int{10, 7}, 3)})
	h.record(t, &fakeStream{rate: 8000, channels: 1, blocks: blocks(1, 160), late: blocks(1, 160)})

	artifact := h.session.Artifact()
	require.NotNil(t, artifact)
	assert.Equal(t, 20, artifact.Size())
}

func TestEmptyCaptureYieldsEmptyArtifact(t *testing.T) {
	h := newHarness(t, Options{})
	h.record(t, &fakeStream{rate: 8000, channels: 1})

	assert.Equal(t, StateStopped, h.session.State())
	artifact := h.session.Artifact()
	require.NotNil(t, artifact)
	assert.Empty(t, artifact.Data)
}

func TestStopIsNoopUnlessRecording(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.session.Stop(context.Background()))
	assert.Equal(t, StateIdle, h.session.State())
	assert.Nil(t, h.session.Artifact())

	h.record(t, &fakeStream{rate: 8000, channels: 1, blocks: blocks(1, 160)})
	before := h.session.Artifact()

	require.NoError(t, h.session.Stop(context.Background()))
	assert.Equal(t, StateStopped, h.session.State())
	assert.Same(t, before, h.session.Artifact())
}

func TestStartFailureLeavesSessionIdle(t *testing.T) {
	var ticks atomic.Int64
	h := newHarness(t, Options{
		TimerResolution: time.Millisecond,
		OnTick: func(time.Duration) {
			ticks.Add(1)
		},
	})
	h.source.fail(audio.ErrPermissionDenied)

	err := h.session.Start(context.Background())
	require.Error(t, err)

	var devErr *DeviceAccessError
	require.True(t, errors.As(err, &devErr))
	assert.ErrorIs(t, err, audio.ErrPermissionDenied)
	assert.Equal(t, "permission_denied", devErr.Reason())

	h.clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	snap := h.session.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Zero(t, snap.Elapsed)
	assert.Nil(t, h.session.Artifact())
	assert.Zero(t, ticks.Load(), "no timer should run after a failed start")
}

func TestDeviceAccessErrorReasons(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{audio.ErrPermissionDenied, "permission_denied"},
		{audio.ErrNoDevice, "no_device"},
		{audio.ErrUnsupportedConstraints, "unsupported_constraints"},
		{errors.New("boom"), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			err := &DeviceAccessError{Err: tt.err}
			assert.Equal(t, tt.expected, err.Reason())
			assert.Contains(t, err.Error(), tt.err.Error())
		})
	}
}

func TestFailedRestartKeepsPreviousArtifact(t *testing.T) {
	h := newHarness(t, Options{Encoders: encoderRegistry([]int{7}, 0)})
	h.record(t, &fakeStream{rate: 8000, channels: 1, blocks: blocks(1, 160)})
	previous := h.session.Artifact()
	require.NotNil(t, previous)

	h.source.fail(audio.ErrNoDevice)
	err := h.session.Start(context.Background())
	assert.ErrorIs(t, err, audio.ErrNoDevice)

	assert.Equal(t, StateStopped, h.session.State())
	assert.Same(t, previous, h.session.Artifact())
}

func TestRestartDiscardsPreviousArtifact(t *testing.T) {
	h := newHarness(t, Options{Encoders: encoderRegistry([]int{7}, 0)})
	h.record(t, &fakeStream{rate: 8000, channels: 1, blocks: blocks(1, 160)})
	first := h.player.last()
	require.NotNil(t, first)

	h.source.streams = append(h.source.streams, &fakeStream{rate: 8000, channels: 1})
	require.NoError(t, h.session.Start(context.Background()))

	assert.Nil(t, h.session.Artifact())
	assert.Zero(t, h.session.Elapsed())
	assert.True(t, first.isClosed(), "previous playback handle should be released")
}

func TestStartWhileRecording(t *testing.T) {
	h := newHarness(t, Options{})
	h.source.streams = append(h.source.streams, &fakeStream{rate: 8000, channels: 1})
	require.NoError(t, h.session.Start(context.Background()))

	err := h.session.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	assert.Equal(t, StateRecording, h.session.State())
}

func TestElapsedFreezesOnStop(t *testing.T) {
	h := newHarness(t, Options{})
	h.source.streams = append(h.source.streams, &fakeStream{rate: 8000, channels: 1})
	require.NoError(t, h.session.Start(context.Background()))

	h.clock.Advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, h.session.Elapsed())

	require.NoError(t, h.session.Stop(context.Background()))
	h.clock.Advance(5 * time.Second)

	assert.Equal(t, 3*time.Second, h.session.Elapsed())
	assert.Equal(t, 3*time.Second, h.session.Artifact().Duration)
}

func TestOnTickReportsElapsed(t *testing.T) {
	var last atomic.Int64
	h := newHarness(t, Options{
		TimerResolution: time.Millisecond,
		OnTick: func(elapsed time.Duration) {
			last.Store(int64(elapsed))
		},
	})
	h.source.streams = append(h.source.streams, &fakeStream{rate: 8000, channels: 1})
	require.NoError(t, h.session.Start(context.Background()))

	h.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		return time.Duration(last.Load()) == 2*time.Second
	}, time.Second, time.Millisecond)
}

func TestResetFromEveryState(t *testing.T) {
	t.Run("idle", func(t *testing.T) {
		h := newHarness(t, Options{})
		require.NoError(t, h.session.Reset())
		assert.Equal(t, StateIdle, h.session.State())
	})

	t.Run("recording", func(t *testing.T) {
		h := newHarness(t, Options{Encoders: encoderRegistry([]int{10}, 0)})
		stream := &fakeStream{rate: 8000, channels: 1, blocks: blocks(1, 160)}
		h.source.streams = append(h.source.streams, stream)
		require.NoError(t, h.session.Start(context.Background()))
		h.clock.Advance(time.Second)

		require.NoError(t, h.session.Reset())

		snap := h.session.Snapshot()
		assert.Equal(t, StateIdle, snap.State)
		assert.Zero(t, snap.Elapsed)
		assert.Zero(t, snap.Chunks)
		assert.Nil(t, h.session.Artifact())
		assert.True(t, stream.isClosed())
	})

	t.Run("stopped", func(t *testing.T) {
		h := newHarness(t, Options{Encoders: encoderRegistry([]int{10}, 0)})
		h.record(t, &fakeStream{rate: 8000, channels: 1, blocks: blocks(1, 160)})
		require.NoError(t, h.session.TogglePlayback())
		require.True(t, h.session.IsPlaying())

		require.NoError(t, h.session.Reset())

		snap := h.session.Snapshot()
		assert.Equal(t, StateIdle, snap.State)
		assert.Zero(t, snap.Elapsed)
		assert.False(t, snap.IsPlaying)
		assert.Nil(t, h.session.Artifact())
		assert.True(t, h.player.last().isClosed())
	})
}

func TestWAVFormat(t *testing.T) {
	h := newHarness(t, Options{Format: FormatWAV})
	h.record(t, &fakeStream{rate: 8000, channels: 1, blocks: [][]float32{
		make([]float32, 100),
		make([]float32, 50),
	}})

	artifact := h.session.Artifact()
	require.NotNil(t, artifact)
	assert.Equal(t, codec.WAVMediaType, artifact.MediaType)
	assert.Len(t, artifact.Data, codec.WAVHeaderSize+2*150)
	assert.Equal(t, "RIFF", string(artifact.Data[:4]))
}

func TestWAVFormatDownmixesStereo(t *testing.T) {
	h := newHarness(t, Options{Format: FormatWAV})
	h.record(t, &fakeStream{rate: 8000, channels: 2, blocks: [][]float32{
		{1, 0, 1, 0},
	}})

	artifact := h.session.Artifact()
	require.NotNil(t, artifact)
	assert.Len(t, artifact.Data, codec.WAVHeaderSize+2*2)
}

func TestFallsBackToWAVWithoutSupportedContainer(t *testing.T) {
	h := newHarness(t, Options{Encoders: codec.NewRegistry()})
	h.record(t, &fakeStream{rate: 8000, channels: 1, blocks: blocks(1, 10)})

	artifact := h.session.Artifact()
	require.NotNil(t, artifact)
	assert.Equal(t, codec.WAVMediaType, artifact.MediaType)
	assert.Len(t, artifact.Data, codec.WAVHeaderSize+20)
}

func TestCaptureErrorFinalizesPartialRecording(t *testing.T) {
	h := newHarness(t, Options{Encoders: encoderRegistry([]int{10, 20}, 0)})
	stream := &fakeStream{
		rate:       8000,
		channels:   1,
		blocks:     blocks(2, 160),
		captureErr: errors.New("device unplugged"),
	}
	h.source.streams = append(h.source.streams, stream)
	require.NoError(t, h.session.Start(context.Background()))

	require.Eventually(t, func() bool {
		return h.session.State() == StateStopped
	}, time.Second, time.Millisecond)

	assert.Equal(t, 30, h.session.Artifact().Size())
	assert.True(t, stream.isClosed())
}

func TestPlaybackEventsDriveIsPlaying(t *testing.T) {
	h := newHarness(t, Options{Encoders: encoderRegistry([]int{10}, 0)})
	h.record(t, &fakeStream{rate: 8000, channels: 1, blocks: blocks(1, 160)})
	assert.False(t, h.session.IsPlaying())

	require.NoError(t, h.session.TogglePlayback())
	assert.True(t, h.session.IsPlaying())

	require.NoError(t, h.session.TogglePlayback())
	assert.False(t, h.session.IsPlaying())

	require.NoError(t, h.session.TogglePlayback())
	assert.True(t, h.session.IsPlaying())

	h.player.last().end()
	assert.False(t, h.session.IsPlaying())
}

func TestTogglePlaybackWithoutArtifact(t *testing.T) {
	h := newHarness(t, Options{})
	assert.ErrorIs(t, h.session.TogglePlayback(), ErrNoArtifact)
}

func TestDownload(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, Options{
		Encoders: encoderRegistry([]int{4}, 0),
		Saver:    DirSaver{Dir: dir},
	})
	h.record(t, &fakeStream{rate: 8000, channels: 1, blocks: blocks(1, 160)})

	path, err := h.session.Download()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "recording-2026-10-17T12-30-45.webm"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, h.session.Artifact().Data, data)
}

func TestDownloadWithoutArtifact(t *testing.T) {
	h := newHarness(t, Options{Saver: DirSaver{Dir: t.TempDir()}})
	_, err := h.session.Download()
	assert.ErrorIs(t, err, ErrNoArtifact)
}

func TestDownloadWithoutSaver(t *testing.T) {
	h := newHarness(t, Options{})
	h.record(t, &fakeStream{rate: 8000, channels: 1})
	_, err := h.session.Download()
	assert.ErrorIs(t, err, ErrNoSaver)
}

func TestClosedSessionRejectsCalls(t *testing.T) {
	h := newHarness(t, Options{})
	h.source.streams = append(h.source.streams, &fakeStream{rate: 8000, channels: 1})
	require.NoError(t, h.session.Start(context.Background()))

	require.NoError(t, h.session.Close())
	require.NoError(t, h.session.Close())

	assert.ErrorIs(t, h.session.Start(context.Background()), ErrClosed)
	assert.ErrorIs(t, h.session.Reset(), ErrClosed)
}

func TestNewSessionValidation(t *testing.T) {
	_, err := NewSession(Options{})
	assert.Error(t, err)

	_, err = NewSession(Options{Source: &fakeSource{}, Format: "flac"})
	assert.Error(t, err)
}
