// ABOUTME: Software volume and balance stage
// ABOUTME: Skipped in exclusive mode at full volume to stay bit-exact
package dsp

import (
	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

// GainFunc supplies the live volume in [0, 1] and balance in [-1, 1].
type GainFunc func() (volume, balance float64)

// Volume applies software gain. In exclusive mode at unity gain the
// stage stays inactive so the output remains bit-exact.
type Volume struct {
	gain      GainFunc
	exclusive bool
	channels  int
}

func (v *Volume) initialize(cfg Config) {
	v.exclusive = cfg.Exclusive
	v.channels = cfg.Output.Channels
}

func (v *Volume) Active() bool {
	if v.gain == nil {
		return false
	}
	volume, balance := v.gain()
	if v.exclusive && volume == 1.0 && balance == 0.0 {
		return false
	}
	return true
}

func (v *Volume) Name() string { return "Volume" }

func (v *Volume) Process(c *audio.Chunk) error {
	if c.Empty() || v.gain == nil {
		return nil
	}
	volume, balance := v.gain()
	left, right := volume, volume
	if balance > 0 {
		left *= 1 - balance
	} else if balance < 0 {
		right *= 1 + balance
	}

	s := c.Samples()
	if v.channels == 2 {
		for i := 0; i+1 < len(s); i += 2 {
			s[i] *= left
			s[i+1] *= right
		}
		return nil
	}
	for i := range s {
		s[i] *= volume
	}
	return nil
}

func (v *Volume) Finish(c *audio.Chunk) error {
	return v.Process(c)
}
