package sound

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"gopkg.in/hraban/opus.v2"
)

// ErrUnsupportedMediaType is returned for media types that cannot be decoded
var ErrUnsupportedMediaType = errors.New("unsupported media type for playback")

const opusDecodeRate = 48000

// PCM is interleaved signed 16-bit audio
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Frames is the number of sample frames
func (p *PCM) Frames() int {
	if p.Channels == 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Duration is the playing time of the audio
func (p *PCM) Duration() time.Duration {
	if p.SampleRate == 0 {
		return 0
	}
	return time.Duration(p.Frames()) * time.Second / time.Duration(p.SampleRate)
}

// Decode converts an encoded artifact into PCM
func Decode(data []byte, mediaType string) (*PCM, error) {
	mt := strings.ToLower(mediaType)
	switch {
	case strings.Contains(mt, "wav"):
		return decodeWAV(data)
	case strings.Contains(mt, "ogg"):
		return decodeOggOpus(data)
	case strings.Contains(mt, "mpeg"), strings.Contains(mt, "mp3"):
		return decodeMP3(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}
}

func decodeWAV(data []byte) (*PCM, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV data")
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV samples: %w", err)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch d.BitDepth {
		case 8:
			samples[i] = int16((v - 128) << 8)
		case 24:
			samples[i] = int16(v >> 8)
		case 32:
			samples[i] = int16(v >> 16)
		default:
			samples[i] = int16(v)
		}
	}

	return &PCM{
		Samples:    samples,
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
	}, nil
}

func decodeMP3(data []byte) (*PCM, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 stream: %w", err)
	}

	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3 stream: %w", err)
	}

	// go-mp3 always yields 16-bit little-endian stereo
	return &PCM{
		Samples:    bytesToSamples(raw),
		SampleRate: d.SampleRate(),
		Channels:   2,
	}, nil
}

func decodeOggOpus(data []byte) (*PCM, error) {
	s, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open Ogg/Opus stream: %w", err)
	}
	defer s.Close()

	var samples []int16
	buf := make([]int16, 16384)
	for {
		n, err := s.Read(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode Ogg/Opus stream: %w", err)
		}
		samples = append(samples, buf[:n]...)
	}

	// Recordings are captured mono; the stream reader does not report layout.
	return &PCM{
		Samples:    samples,
		SampleRate: opusDecodeRate,
		Channels:   1,
	}, nil
}

func bytesToSamples(audioBytes []byte) []int16 {
	samples := make([]int16, len(audioBytes)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(uint16(audioBytes[i*2]) | uint16(audioBytes[i*2+1])<<8)
	}
	return samples
}
