// ABOUTME: Tempo stage realizing trick-play playback rates
// ABOUTME: Resamples as if the stream ran rate times faster
package dsp

import (
	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

// Tempo realizes playback rates other than 1.0 by resampling: at rate
// r the stage consumes r seconds of stream per second of output. The
// chunk's nominal sample rate is unchanged.
type Tempo struct {
	active   bool
	rate     float64
	outRate  int
	channels int
	conv     *converter
}

func (t *Tempo) initialize(cfg Config) {
	t.rate = cfg.PlaybackRate
	t.outRate = cfg.Output.SampleRate
	t.channels = cfg.Output.Channels
	t.active = t.rate != 1.0 && t.rate > 0
	t.conv = nil
	if t.active {
		t.conv = newConverter(t.channels, int(float64(t.outRate)*t.rate), t.outRate)
	}
}

func (t *Tempo) Active() bool { return t.active }
func (t *Tempo) Name() string { return "Tempo" }

func (t *Tempo) Process(c *audio.Chunk) error {
	if c.Empty() || t.conv == nil {
		return nil
	}
	c.SetSamples(c.Format(), t.conv.process(c.Samples()))
	return nil
}

func (t *Tempo) Finish(c *audio.Chunk) error {
	if err := t.Process(c); err != nil {
		return err
	}
	if t.conv == nil {
		return nil
	}
	tail := t.conv.drain()
	if len(tail) == 0 {
		return nil
	}
	c.SetSamples(c.Format(), append(c.Samples(), tail...))
	return nil
}
