package codec

import (
	"bytes"
	"encoding/binary"
)

const (
	// WAVHeaderSize is the size of a canonical RIFF/WAVE header
	WAVHeaderSize = 44

	wavFormatPCM     = 1
	wavChannels      = 1
	wavBitsPerSample = 16
	wavBlockAlign    = wavChannels * wavBitsPerSample / 8
)

// WAVMediaType is the media type attached to artifacts produced by EncodeWAV
const WAVMediaType = "audio/wav"

// wavHeader mirrors the on-disk layout of a canonical PCM WAV header
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// Quantize clips a float sample to [-1, 1] and converts it to signed 16-bit PCM.
// Negative samples scale by 32768 and non-negative ones by 32767, so both ends
// of the range map exactly onto the int16 limits.
func Quantize(sample float32) int16 {
	if sample > 1 {
		sample = 1
	} else if sample < -1 {
		sample = -1
	}
	if sample < 0 {
		return int16(sample * 32768)
	}
	return int16(sample * 32767)
}

// ConcatFrames joins buffered sample frames into a single sample buffer
func ConcatFrames(frames [][]float32) []float32 {
	total := 0
	for _, f := range frames {
		total += len(f)
	}
	samples := make([]float32, 0, total)
	for _, f := range frames {
		samples = append(samples, f...)
	}
	return samples
}

// EncodeWAV wraps mono float samples in a 16-bit PCM WAV container.
// The result is always WAVHeaderSize + 2*len(samples) bytes long.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataSize := uint32(len(samples) * 2)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   wavFormatPCM,
		NumChannels:   wavChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * wavBlockAlign,
		BlockAlign:    wavBlockAlign,
		BitsPerSample: wavBitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(samples)*2))
	// Writes into a bytes.Buffer cannot fail for fixed-size values.
	_ = binary.Write(buf, binary.LittleEndian, header)

	pcm := make([]byte, 2)
	for _, s := range samples {
		binary.LittleEndian.PutUint16(pcm, uint16(Quantize(s)))
		buf.Write(pcm)
	}

	return buf.Bytes()
}
