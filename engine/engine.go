package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d1nch8g/theranotes/metrics"
	"github.com/d1nch8g/theranotes/recorder"
	"github.com/d1nch8g/theranotes/stt"
)

// ErrSubmissionInProgress is returned while another submission is running
var ErrSubmissionInProgress = errors.New("a submission is already in progress")

// TranscriptEntry is one submitted recording and its transcript
type TranscriptEntry struct {
	ArtifactID string
	Filename   string
	MediaType  string
	Size       int
	Transcript string
	Language   string
	Confidence float64
	Timestamp  time.Time
}

// EngineConfig holds the configuration for the recording workflow
type EngineConfig struct {
	MaxHistorySize int

	// Backend labels submissions in metrics
	Backend string
}

// Engine ties a recording session to a transcription backend
type Engine struct {
	config      EngineConfig
	session     *recorder.Session
	transcriber stt.Transcriber
	logger      *zap.Logger
	metrics     *metrics.Recorder

	history      []TranscriptEntry
	historyMutex sync.RWMutex

	isSubmitting    bool
	submittingMutex sync.RWMutex
}

func NewEngine(
	config EngineConfig,
	session *recorder.Session,
	transcriber stt.Transcriber,
	logger *zap.Logger,
	m *metrics.Recorder,
) *Engine {
	if config.MaxHistorySize == 0 {
		config.MaxHistorySize = 10
	}
	if config.Backend == "" {
		config.Backend = "http"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		config:      config,
		session:     session,
		transcriber: transcriber,
		logger:      logger,
		metrics:     m,
		history:     make([]TranscriptEntry, 0),
	}
}

func (e *Engine) Session() *recorder.Session {
	return e.session
}

// Record starts a new take
func (e *Engine) Record(ctx context.Context) error {
	return e.session.Start(ctx)
}

// Finish stops the take and returns the finalized artifact
func (e *Engine) Finish(ctx context.Context) (*recorder.Artifact, error) {
	if err := e.session.Stop(ctx); err != nil {
		return nil, err
	}
	artifact := e.session.Artifact()
	if artifact == nil {
		return nil, recorder.ErrNoArtifact
	}
	return artifact, nil
}

// Submit sends the current artifact for transcription. On failure the
// session and its artifact are left untouched so the user can retry.
func (e *Engine) Submit(ctx context.Context) (*TranscriptEntry, error) {
	artifact := e.session.Artifact()
	if artifact == nil {
		return nil, recorder.ErrNoArtifact
	}
	return e.submit(ctx, artifact.ID, stt.Audio{
		Data:      artifact.Data,
		MediaType: artifact.MediaType,
		Filename:  artifact.Filename(),
	})
}

// SubmitFile transcribes an audio file from disk
func (e *Engine) SubmitFile(ctx context.Context, path string) (*TranscriptEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file: %w", err)
	}
	return e.submit(ctx, "", stt.Audio{
		Data:      data,
		MediaType: MediaTypeForFile(path),
		Filename:  filepath.Base(path),
	})
}

func (e *Engine) submit(ctx context.Context, artifactID string, audio stt.Audio) (*TranscriptEntry, error) {
	e.submittingMutex.Lock()
	if e.isSubmitting {
		e.submittingMutex.Unlock()
		return nil, ErrSubmissionInProgress
	}
	e.isSubmitting = true
	e.submittingMutex.Unlock()

	defer func() {
		e.submittingMutex.Lock()
		e.isSubmitting = false
		e.submittingMutex.Unlock()
	}()

	result, err := e.transcriber.Transcribe(ctx, audio)
	e.metrics.Submission(ctx, e.config.Backend, err)
	if err != nil {
		e.logger.Warn("submission failed",
			zap.String("filename", audio.Filename),
			zap.Error(err),
		)
		return nil, err
	}

	entry := TranscriptEntry{
		ArtifactID: artifactID,
		Filename:   audio.Filename,
		MediaType:  audio.MediaType,
		Size:       len(audio.Data),
		Transcript: result.Transcript,
		Language:   result.Language,
		Confidence: result.Confidence,
		Timestamp:  time.Now(),
	}
	e.addToHistory(entry)

	e.logger.Info("transcription received",
		zap.String("filename", audio.Filename),
		zap.Int("chars", len(result.Transcript)),
	)
	return &entry, nil
}

func (e *Engine) IsSubmitting() bool {
	e.submittingMutex.RLock()
	defer e.submittingMutex.RUnlock()
	return e.isSubmitting
}

// addToHistory adds an entry, dropping the oldest past MaxHistorySize
func (e *Engine) addToHistory(entry TranscriptEntry) {
	e.historyMutex.Lock()
	defer e.historyMutex.Unlock()

	e.history = append(e.history, entry)

	if len(e.history) > e.config.MaxHistorySize {
		e.history = e.history[len(e.history)-e.config.MaxHistorySize:]
	}
}

// History returns a copy of the transcript history
func (e *Engine) History() []TranscriptEntry {
	e.historyMutex.RLock()
	defer e.historyMutex.RUnlock()

	history := make([]TranscriptEntry, len(e.history))
	copy(history, e.history)
	return history
}

func (e *Engine) ClearHistory() {
	e.historyMutex.Lock()
	defer e.historyMutex.Unlock()

	e.history = e.history[:0]
}

// FormatHistory renders the history as plain text, oldest first
func (e *Engine) FormatHistory() string {
	e.historyMutex.RLock()
	defer e.historyMutex.RUnlock()

	var b strings.Builder
	for _, entry := range e.history {
		fmt.Fprintf(&b, "[%s] %s\n%s\n\n",
			entry.Timestamp.Format(time.RFC3339), entry.Filename, entry.Transcript)
	}
	return b.String()
}

// Close releases the session and the transcriber
func (e *Engine) Close() error {
	sessionErr := e.session.Close()
	if err := e.transcriber.Close(); err != nil {
		return err
	}
	return sessionErr
}

// MediaTypeForFile guesses an audio media type from a file extension
func MediaTypeForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".mp4", ".m4a":
		return "audio/mp4"
	case ".flac":
		return "audio/flac"
	case ".aac":
		return "audio/aac"
	default:
		return "audio/mpeg"
	}
}
