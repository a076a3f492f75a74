// ABOUTME: TPDF dither stage for low bit-depth integer output
// ABOUTME: Runs last so quantization noise is not reprocessed
package dsp

import (
	"math/rand/v2"

	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

// Dither adds triangular PDF noise scaled to one LSB of the target
// encoding, masking quantization distortion on 16-bit output.
type Dither struct {
	active bool
	lsb    float64
	rng    *rand.Rand
}

func (d *Dither) initialize(cfg Config) {
	d.active = cfg.Settings != nil &&
		cfg.Settings.DitherEnabled() &&
		cfg.Output.Encoding == audio.EncodingPCM16
	d.lsb = 1.0 / 32768.0
	if d.rng == nil {
		d.rng = rand.New(rand.NewPCG(0x5eed, 0xd17e))
	}
}

func (d *Dither) Active() bool { return d.active }
func (d *Dither) Name() string { return "Dither" }

func (d *Dither) Process(c *audio.Chunk) error {
	if c.Empty() {
		return nil
	}
	s := c.Samples()
	for i := range s {
		// Two uniform draws sum to a triangular distribution.
		n := (d.rng.Float64() - d.rng.Float64()) * d.lsb
		s[i] += n
	}
	return nil
}

func (d *Dither) Finish(c *audio.Chunk) error {
	return d.Process(c)
}
