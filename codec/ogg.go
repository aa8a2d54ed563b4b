package codec

import (
	"bytes"
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"
)

// OggOpusMediaType is the media type produced by the Ogg/Opus encoder
const OggOpusMediaType = "audio/ogg;codecs=opus"

const (
	opusSampleRate = 48000
	opusFrameSize  = 960 // 20ms at 48kHz
	maxOpusPacket  = 4000
)

// OggOpusEncoder encodes mono PCM into Opus packets wrapped in Ogg pages.
// Capture audio is resampled to 48kHz because libopus rejects 44.1kHz input.
type OggOpusEncoder struct {
	mediaType string
	channels  int

	opus *opus.Encoder
	ogg  *oggwriter.OggWriter
	out  bytes.Buffer
	rate *rateConverter

	resampled []float32
	frame     []int16
	packet    []byte
	timestamp uint32
	closed    bool
}

var _ Encoder = (*OggOpusEncoder)(nil)

// NewOggOpusEncoder satisfies Factory
func NewOggOpusEncoder(mediaType string, sampleRate, channels int) (Encoder, error) {
	if channels != 1 {
		return nil, fmt.Errorf("ogg/opus encoder supports mono only, got %d channels", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	enc, err := opus.NewEncoder(opusSampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	rate, err := newRateConverter(sampleRate, opusSampleRate)
	if err != nil {
		return nil, err
	}

	e := &OggOpusEncoder{
		mediaType: mediaType,
		channels:  channels,
		opus:      enc,
		rate:      rate,
		frame:     make([]int16, 0, opusFrameSize),
		packet:    make([]byte, maxOpusPacket),
	}

	// The writer emits the OpusHead and OpusTags pages straight away, so the
	// first chunk handed out always starts a valid Ogg stream.
	ogg, err := oggwriter.NewWith(&e.out, uint32(sampleRate), uint16(channels))
	if err != nil {
		return nil, fmt.Errorf("failed to create ogg writer: %w", err)
	}
	e.ogg = ogg

	return e, nil
}

func (e *OggOpusEncoder) MediaType() string {
	return e.mediaType
}

func (e *OggOpusEncoder) Encode(samples []float32) ([]byte, error) {
	if e.closed {
		return nil, fmt.Errorf("encoder closed")
	}

	resampled, err := e.rate.Process(e.resampled[:0], samples)
	if err != nil {
		return nil, err
	}
	e.resampled = resampled
	if err := e.feed(e.resampled); err != nil {
		return nil, err
	}

	return e.drain(), nil
}

func (e *OggOpusEncoder) feed(samples []float32) error {
	for _, s := range samples {
		e.frame = append(e.frame, Quantize(s))
		if len(e.frame) == opusFrameSize {
			if err := e.writeFrame(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *OggOpusEncoder) Close() ([]byte, error) {
	if e.closed {
		return nil, nil
	}
	e.closed = true

	tail, err := e.rate.Flush(e.resampled[:0])
	if err != nil {
		return nil, err
	}
	if err := e.feed(tail); err != nil {
		return nil, err
	}

	if len(e.frame) > 0 {
		for len(e.frame) < opusFrameSize {
			e.frame = append(e.frame, 0)
		}
		if err := e.writeFrame(); err != nil {
			return nil, err
		}
	}

	// The writer only marks end of stream when it owns a file, so the held
	// back final page is flagged here.
	if err := e.ogg.Close(); err != nil {
		return nil, fmt.Errorf("failed to close ogg writer: %w", err)
	}
	data := e.out.Bytes()
	if last := lastPageOffset(data); last >= 0 {
		markEndOfStream(data[last:])
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)
	e.out.Reset()
	return chunk, nil
}

func (e *OggOpusEncoder) writeFrame() error {
	n, err := e.opus.Encode(e.frame, e.packet)
	if err != nil {
		return fmt.Errorf("failed to encode opus frame: %w", err)
	}

	payload := make([]byte, n)
	copy(payload, e.packet[:n])

	packet := &rtp.Packet{
		Header:  rtp.Header{Timestamp: e.timestamp},
		Payload: payload,
	}
	if err := e.ogg.WriteRTP(packet); err != nil {
		return fmt.Errorf("failed to write ogg page: %w", err)
	}

	e.timestamp += opusFrameSize
	e.frame = e.frame[:0]
	return nil
}

// drain hands out every page written since the previous call except the
// newest one, which stays buffered until Close can flag it as the last.
func (e *OggOpusEncoder) drain() []byte {
	last := lastPageOffset(e.out.Bytes())
	if last <= 0 {
		return nil
	}
	chunk := make([]byte, last)
	copy(chunk, e.out.Next(last))
	return chunk
}
