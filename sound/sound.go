package sound

import "time"

// Event is a playback lifecycle notification
type Event int

const (
	EventStarted Event = iota
	EventPaused
	EventEnded
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventPaused:
		return "paused"
	case EventEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Player defines the interface for audio playback
type Player interface {
	// Bind prepares encoded audio for playback. notify receives lifecycle
	// events for the returned handle and may be called from any goroutine.
	Bind(data []byte, mediaType string, notify func(Event)) (Playback, error)
}

// Playback is a handle over one bound piece of audio
type Playback interface {
	// Play starts or resumes playback
	Play() error

	// Pause stops playback and keeps the current position
	Pause() error

	// Position is the current offset into the audio
	Position() time.Duration

	// Close stops playback and releases the output device
	Close() error
}
