// ABOUTME: Channel matrixing stage converting between speaker layouts
// ABOUTME: Runs first so later stages see the device channel count
package dsp

import (
	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

// Downmix coefficients for surround content folded to fewer speakers.
const (
	centerMix = 0.7071 // -3 dB
	lfeMix    = 0.5    // LFE folded conservatively
	backMix   = 0.7071
)

// Matrix converts the input speaker layout to the device layout.
type Matrix struct {
	inChannels  int
	inMask      uint32
	outChannels int
	outMask     uint32
	active      bool
}

func (m *Matrix) initialize(cfg Config) {
	m.inChannels = cfg.Input.Channels
	m.inMask = cfg.Input.ChannelMask
	m.outChannels = cfg.Output.Channels
	m.outMask = cfg.Output.ChannelMask
	if m.inMask == 0 {
		m.inMask = audio.DefaultChannelMask(m.inChannels)
	}
	if m.outMask == 0 {
		m.outMask = audio.DefaultChannelMask(m.outChannels)
	}
	m.active = m.inChannels != m.outChannels || m.inMask != m.outMask
}

func (m *Matrix) Active() bool { return m.active }
func (m *Matrix) Name() string { return "Channel Mixer" }

func (m *Matrix) Process(c *audio.Chunk) error {
	if c.Empty() {
		return nil
	}
	in := c.Samples()
	frames := len(in) / m.inChannels
	out := make([]float64, frames*m.outChannels)

	switch {
	case m.inChannels == 1 && m.outChannels == 2:
		for i := 0; i < frames; i++ {
			out[2*i] = in[i]
			out[2*i+1] = in[i]
		}
	case m.inChannels == 2 && m.outChannels == 1:
		for i := 0; i < frames; i++ {
			out[i] = (in[2*i] + in[2*i+1]) * 0.5
		}
	case m.inChannels == 6 && m.outChannels == 2:
		// L R C LFE BL BR per the default 5.1 ordering.
		for i := 0; i < frames; i++ {
			s := in[6*i : 6*i+6]
			out[2*i] = s[0] + centerMix*s[2] + lfeMix*s[3] + backMix*s[4]
			out[2*i+1] = s[1] + centerMix*s[2] + lfeMix*s[3] + backMix*s[5]
		}
	default:
		// Generic fallback: copy matching channel indices, zero the rest.
		for i := 0; i < frames; i++ {
			for ch := 0; ch < m.outChannels; ch++ {
				if ch < m.inChannels {
					out[i*m.outChannels+ch] = in[i*m.inChannels+ch]
				}
			}
		}
	}

	f := c.Format()
	f.Channels = m.outChannels
	f.ChannelMask = m.outMask
	c.SetSamples(f, out)
	return nil
}

func (m *Matrix) Finish(c *audio.Chunk) error {
	// Stateless stage, nothing buffered. Still matrixes whatever an
	// earlier stage drained into the chunk.
	return m.Process(c)
}
