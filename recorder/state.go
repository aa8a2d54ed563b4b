package recorder

// State is the lifecycle phase of a Session
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Format selects how captured audio is turned into an artifact
type Format string

const (
	// FormatAuto uses the first supported container from the preference list
	// and falls back to WAV when none is available.
	FormatAuto Format = "auto"

	// FormatWAV keeps raw frames and encodes a 16-bit PCM WAV on stop
	FormatWAV Format = "wav"
)
