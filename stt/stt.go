package stt

import (
	"context"
	"fmt"
)

// Audio is a finalized recording handed to a transcriber
type Audio struct {
	Data      []byte
	MediaType string
	Filename  string
}

// Result is the outcome of a transcription
type Result struct {
	Transcript string  `json:"transcript"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	Duration   float64 `json:"duration"`
	Filename   string  `json:"filename"`
	FileSize   int64   `json:"file_size"`
}

// Transcriber defines the interface for speech-to-text collaborators
type Transcriber interface {
	// Transcribe submits audio and returns its transcript.
	// Failures are returned as *SubmissionError; the audio stays valid
	// and may be submitted again.
	Transcribe(ctx context.Context, audio Audio) (*Result, error)

	// Close releases connections held by the transcriber
	Close() error
}

// SubmissionError is a recoverable failure to submit audio for transcription
type SubmissionError struct {
	// StatusCode is the HTTP status, or zero when no response was received
	StatusCode int
	// Detail is the user-facing message
	Detail string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("submission failed with status %d", e.StatusCode)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}
