package recorder

import "time"

// Artifact is a finalized recording. Data must be treated as read-only.
type Artifact struct {
	ID        string
	Data      []byte
	MediaType string
	CreatedAt time.Time

	// Duration is the elapsed capture time when the recording stopped
	Duration time.Duration
}

func (a *Artifact) Size() int {
	return len(a.Data)
}

// Filename is the download name for the artifact
func (a *Artifact) Filename() string {
	return Filename(a.CreatedAt, a.MediaType)
}
