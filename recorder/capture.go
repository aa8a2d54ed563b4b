package recorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/d1nch8g/theranotes/audio"
	"github.com/d1nch8g/theranotes/codec"
)

const captureBacklog = 16

// capture pumps frames from the stream through the encoder and posts the
// results to the session loop. It finishes by posting finalize, after the
// encoder has flushed, so the last chunk always precedes finalization.
func (s *Session) capture(
	ctx context.Context,
	cancel context.CancelFunc,
	done chan struct{},
	take int,
	stream audio.Stream,
	encoder codec.Encoder,
) {
	defer close(done)

	blocks := make(chan []float32, captureBacklog)
	result := make(chan error, 1)
	go func() {
		defer close(blocks)
		result <- stream.StartCapture(ctx, blocks)
	}()

	channels := stream.Channels()
	var failure error
	for block := range blocks {
		if failure != nil {
			continue
		}
		if encoder == nil {
			frames := downmix(block, channels)
			s.mailbox.push(func() { s.appendFrames(take, frames) })
			continue
		}

		chunk, err := encoder.Encode(block)
		if err != nil {
			failure = fmt.Errorf("failed to encode audio: %w", err)
			cancel()
			continue
		}
		if len(chunk) > 0 {
			s.mailbox.push(func() { s.appendChunk(take, chunk) })
		}
	}

	if err := <-result; err != nil && failure == nil && !errors.Is(err, context.Canceled) {
		failure = err
	}

	var tail []byte
	if encoder != nil {
		var err error
		tail, err = encoder.Close()
		if err != nil && failure == nil {
			failure = fmt.Errorf("failed to flush encoder: %w", err)
		}
	}

	s.mailbox.push(func() { s.finalize(take, tail, failure) })
}

// downmix averages interleaved channels into mono
func downmix(block []float32, channels int) []float32 {
	if channels <= 1 {
		return block
	}
	out := make([]float32, len(block)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += block[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func joinChunks(chunks [][]byte) []byte {
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	data := make([]byte, 0, size)
	for _, c := range chunks {
		data = append(data, c...)
	}
	return data
}
