// ABOUTME: Headphone crossfeed stage bleeding each channel across
// ABOUTME: Low-passed, attenuated opposite-channel mix for stereo out
package dsp

import (
	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

// Crossfeed softens hard stereo separation for headphone listening by
// mixing a low-passed, attenuated copy of each channel into the other.
type Crossfeed struct {
	active bool
	level  float64
	// one-pole lowpass state per channel
	lpL, lpR float64
	alpha    float64
}

func (x *Crossfeed) initialize(cfg Config) {
	x.active = cfg.Settings != nil &&
		cfg.Settings.CrossfeedEnabled() &&
		cfg.Output.Channels == 2 &&
		!cfg.Output.Bitstream
	if !x.active {
		return
	}
	x.level = cfg.Settings.CrossfeedLevel()
	if x.level < 0 {
		x.level = 0
	} else if x.level > 1 {
		x.level = 1
	}
	// ~700 Hz corner, the usual acoustic shadow approximation.
	x.alpha = 1.0 / (1.0 + float64(cfg.Output.SampleRate)/(2*3.14159265*700))
	x.lpL, x.lpR = 0, 0
}

func (x *Crossfeed) Active() bool { return x.active }
func (x *Crossfeed) Name() string { return "Crossfeed" }

func (x *Crossfeed) Process(c *audio.Chunk) error {
	if c.Empty() {
		return nil
	}
	s := c.Samples()
	gain := 1.0 / (1.0 + x.level)
	for i := 0; i+1 < len(s); i += 2 {
		l, r := s[i], s[i+1]
		x.lpL += x.alpha * (l - x.lpL)
		x.lpR += x.alpha * (r - x.lpR)
		s[i] = (l + x.level*x.lpR) * gain
		s[i+1] = (r + x.level*x.lpL) * gain
	}
	return nil
}

func (x *Crossfeed) Finish(c *audio.Chunk) error {
	return x.Process(c)
}
