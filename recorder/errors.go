package recorder

import (
	"errors"

	"github.com/d1nch8g/theranotes/audio"
)

var (
	ErrAlreadyRecording = errors.New("recording already in progress")
	ErrNoArtifact       = errors.New("no recording available")
	ErrNoPlayer         = errors.New("playback is not configured")
	ErrNoSaver          = errors.New("download target is not configured")
	ErrClosed           = errors.New("session is closed")
	ErrDownloadExists   = errors.New("download target already exists")
)

// DeviceAccessError reports that the microphone could not be acquired.
// The session stays idle when Start returns it.
type DeviceAccessError struct {
	Err error
}

func (e *DeviceAccessError) Error() string {
	return "could not access microphone: " + e.Err.Error()
}

func (e *DeviceAccessError) Unwrap() error {
	return e.Err
}

// Reason is a short machine-friendly cause, used as a metric label
func (e *DeviceAccessError) Reason() string {
	switch {
	case errors.Is(e.Err, audio.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(e.Err, audio.ErrNoDevice):
		return "no_device"
	case errors.Is(e.Err, audio.ErrUnsupportedConstraints):
		return "unsupported_constraints"
	default:
		return "unknown"
	}
}
