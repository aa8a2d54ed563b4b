package codec

import (
	"fmt"

	resampler "github.com/tphakala/go-audio-resampler"
)

// rateConverter moves a mono stream between sample rates. It keeps filter
// state across calls so consecutive blocks produce a continuous signal.
// Equal rates pass samples through untouched.
type rateConverter struct {
	r   resampler.Resampler
	buf []float64
}

func newRateConverter(inRate, outRate int) (*rateConverter, error) {
	if inRate == outRate {
		return &rateConverter{}, nil
	}

	r, err := resampler.New(&resampler.Config{
		InputRate:  float64(inRate),
		OutputRate: float64(outRate),
		Channels:   1,
		Quality:    resampler.QualitySpec{Preset: resampler.QualityMedium},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler %d->%d: %w", inRate, outRate, err)
	}
	return &rateConverter{r: r}, nil
}

func (c *rateConverter) passthrough() bool {
	return c.r == nil
}

// Process appends converted output for in to dst and returns it
func (c *rateConverter) Process(dst, in []float32) ([]float32, error) {
	if c.passthrough() {
		return append(dst, in...), nil
	}

	c.buf = c.buf[:0]
	for _, s := range in {
		c.buf = append(c.buf, float64(s))
	}
	out, err := c.r.Process(c.buf)
	if err != nil {
		return dst, fmt.Errorf("failed to resample: %w", err)
	}
	return appendFloat32(dst, out), nil
}

// Flush appends the samples still held by the filter
func (c *rateConverter) Flush(dst []float32) ([]float32, error) {
	if c.passthrough() {
		return dst, nil
	}
	out, err := c.r.Flush()
	if err != nil {
		return dst, fmt.Errorf("failed to flush resampler: %w", err)
	}
	return appendFloat32(dst, out), nil
}

func appendFloat32(dst []float32, src []float64) []float32 {
	for _, s := range src {
		dst = append(dst, float32(s))
	}
	return dst
}
