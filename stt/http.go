package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	TranscribePath = "/api/transcribe"
	HealthPath     = "/health"

	// AudioFileField is the multipart field carrying the recording
	AudioFileField = "audio_file"

	DefaultMaxUploadBytes = 25 * 1024 * 1024
)

// SupportedExtensions lists file extensions the transcription service accepts
var SupportedExtensions = []string{".mp3", ".mp4", ".m4a", ".wav", ".webm", ".ogg", ".flac", ".aac"}

type HTTPConfig struct {
	Endpoint       string
	Timeout        time.Duration
	MaxUploadBytes int64
}

// HTTPClient submits recordings to the transcription service as multipart uploads
type HTTPClient struct {
	client         *resty.Client
	maxUploadBytes int64
	logger         *zap.Logger
}

var _ Transcriber = (*HTTPClient)(nil)

type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
}

// HealthStatus is the body of the service health endpoint
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func NewHTTPClient(config HTTPConfig, logger *zap.Logger) (*HTTPClient, error) {
	if strings.TrimSpace(config.Endpoint) == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(config.Endpoint, "/")).
		SetTimeout(config.Timeout).
		SetHeader("Accept", "application/json")

	return &HTTPClient{
		client:         client,
		maxUploadBytes: config.MaxUploadBytes,
		logger:         logger,
	}, nil
}

func (c *HTTPClient) Transcribe(ctx context.Context, audio Audio) (*Result, error) {
	if err := c.validate(audio); err != nil {
		return nil, err
	}

	c.logger.Info("submitting audio for transcription",
		zap.String("filename", audio.Filename),
		zap.String("media_type", audio.MediaType),
		zap.Int("size", len(audio.Data)),
	)

	resp, err := c.client.R().
		SetContext(ctx).
		SetMultipartField(AudioFileField, audio.Filename, audio.MediaType, bytes.NewReader(audio.Data)).
		ForceContentType("application/json").
		SetResult(&Result{}).
		Post(TranscribePath)
	if err != nil {
		return nil, &SubmissionError{
			Detail: fmt.Sprintf("upload failed: %v", err),
			Err:    err,
		}
	}

	if !resp.IsSuccess() {
		subErr := &SubmissionError{
			StatusCode: resp.StatusCode(),
			Detail:     errorDetail(resp),
		}
		c.logger.Warn("transcription request rejected",
			zap.Int("status", subErr.StatusCode),
			zap.String("detail", subErr.Detail),
		)
		return nil, subErr
	}

	result, ok := resp.Result().(*Result)
	if !ok || result == nil {
		return nil, &SubmissionError{
			StatusCode: resp.StatusCode(),
			Detail:     "failed to decode transcription response",
		}
	}
	return result, nil
}

// Health queries the service health endpoint
func (c *HTTPClient) Health(ctx context.Context) (*HealthStatus, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&HealthStatus{}).
		Get(HealthPath)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("health check failed with status %d", resp.StatusCode())
	}
	status, ok := resp.Result().(*HealthStatus)
	if !ok || status == nil {
		return nil, fmt.Errorf("failed to decode health response")
	}
	return status, nil
}

func (c *HTTPClient) Close() error {
	c.client.GetClient().CloseIdleConnections()
	return nil
}

func (c *HTTPClient) validate(audio Audio) error {
	if len(audio.Data) == 0 {
		return &SubmissionError{Detail: "no audio to submit"}
	}
	if !hasSupportedExtension(audio.Filename) {
		return &SubmissionError{
			Detail: "Invalid audio file. Supported formats: MP3, MP4, WAV, M4A, WEBM, OGG",
		}
	}
	if int64(len(audio.Data)) > c.maxUploadBytes {
		return &SubmissionError{
			Detail: fmt.Sprintf("File too large. Maximum size is %dMB", c.maxUploadBytes/(1024*1024)),
		}
	}
	return nil
}

func hasSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}

// errorDetail extracts the "detail" message from an error response body,
// whatever Content-Type the server labelled it with.
// String details are returned verbatim; structured ones as raw JSON.
func errorDetail(resp *resty.Response) string {
	var body errorResponse
	if err := json.Unmarshal(resp.Body(), &body); err == nil && len(body.Detail) > 0 && string(body.Detail) != "null" {
		var detail string
		if err := json.Unmarshal(body.Detail, &detail); err == nil {
			return detail
		}
		return string(body.Detail)
	}
	return fmt.Sprintf("upload failed with status %d", resp.StatusCode())
}
