// ABOUTME: Peak limiter stage protecting integer output from clipping
// ABOUTME: Engages a soft knee only after a peak actually exceeds it
package dsp

import (
	"math"

	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

const limiterThreshold = 0.98

// Limiter soft-clips peaks above threshold. It stays transparent until
// the first over-threshold peak, then keeps limiting for the rest of
// the session so the transfer curve is stable.
type Limiter struct {
	active    bool
	engaged   bool
	threshold float64
}

func (l *Limiter) initialize(cfg Config) {
	l.active = cfg.Settings != nil &&
		cfg.Settings.LimiterEnabled() &&
		!cfg.Output.Bitstream &&
		cfg.Output.Encoding != audio.EncodingFloat32 &&
		cfg.Output.Encoding != audio.EncodingFloat64
	l.engaged = false
	l.threshold = limiterThreshold
}

func (l *Limiter) Active() bool { return l.active }
func (l *Limiter) Name() string { return "Limiter" }

func (l *Limiter) Process(c *audio.Chunk) error {
	if c.Empty() {
		return nil
	}
	s := c.Samples()
	if !l.engaged {
		for _, v := range s {
			if v > l.threshold || v < -l.threshold {
				l.engaged = true
				break
			}
		}
		if !l.engaged {
			return nil
		}
	}
	for i, v := range s {
		s[i] = l.threshold * math.Tanh(v/l.threshold)
	}
	return nil
}

func (l *Limiter) Finish(c *audio.Chunk) error {
	return l.Process(c)
}
