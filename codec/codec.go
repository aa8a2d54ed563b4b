// Package codec turns captured float PCM into finalized audio artifacts.
//
// Two paths exist. Container encoders (see Registry) emit encoded chunks while
// recording and are chosen by probing a preference-ordered list of media
// types. The WAV path keeps raw frames and encodes them once with EncodeWAV,
// which needs no codec support at all.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnsupportedType is returned when no encoder is registered for a media type
var ErrUnsupportedType = errors.New("unsupported media type")

// DefaultPreferences lists container/codec pairs in the order they are probed
var DefaultPreferences = []string{
	"audio/mp4;codecs=mp4a.40.2",
	"audio/webm;codecs=opus",
	"audio/webm",
	"audio/ogg;codecs=opus",
	"audio/ogg",
}

// Encoder converts float PCM into a stream of encoded chunks
type Encoder interface {
	// MediaType is the declared media type of the produced stream
	MediaType() string

	// Encode consumes samples and returns whatever encoded bytes are ready.
	// An empty result is valid and means nothing was flushed yet.
	Encode(samples []float32) ([]byte, error)

	// Close flushes buffered audio and returns the final chunk
	Close() ([]byte, error)
}

// Factory builds an encoder for a given capture format
type Factory func(mediaType string, sampleRate, channels int) (Encoder, error)

// Registry maps media types to encoder factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// NewDefaultRegistry returns a registry with the built-in encoders
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(OggOpusMediaType, NewOggOpusEncoder)
	r.Register("audio/ogg", NewOggOpusEncoder)
	return r
}

// Register binds a factory to a media type, replacing any previous binding
func (r *Registry) Register(mediaType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(mediaType)] = factory
}

// IsTypeSupported reports whether an encoder exists for the media type
func (r *Registry) IsTypeSupported(mediaType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalize(mediaType)]
	return ok
}

// Select returns the first supported media type from prefs
func (r *Registry) Select(prefs []string) (string, bool) {
	for _, p := range prefs {
		if r.IsTypeSupported(p) {
			return p, true
		}
	}
	return "", false
}

// New builds an encoder for mediaType
func (r *Registry) New(mediaType string, sampleRate, channels int) (Encoder, error) {
	r.mu.RLock()
	factory, ok := r.factories[normalize(mediaType)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}
	return factory(mediaType, sampleRate, channels)
}

// Types lists registered media types in sorted order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ExtensionFor picks a file extension from a declared media type
func ExtensionFor(mediaType string) string {
	switch {
	case strings.Contains(mediaType, "mp4"):
		return "m4a"
	case strings.Contains(mediaType, "webm"):
		return "webm"
	case strings.Contains(mediaType, "ogg"):
		return "ogg"
	case strings.Contains(mediaType, "wav"):
		return "wav"
	default:
		return "mp3"
	}
}

// normalize lowercases a media type and strips whitespace around parameters
func normalize(mediaType string) string {
	parts := strings.Split(mediaType, ";")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return strings.Join(parts, ";")
}
