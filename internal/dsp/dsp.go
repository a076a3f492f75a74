// ABOUTME: Ordered DSP stage chain applied to audio chunks in place
// ABOUTME: Stage order is a correctness invariant, not configuration
package dsp

import (
	"time"

	"github.com/Cadence-Audio/cadence-go/internal/settings"
	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

// Stage is one transformation in the processing chain. Process mutates
// the chunk in place; Finish drains any internally buffered tail into
// an otherwise-empty chunk. Inactive stages are skipped entirely.
type Stage interface {
	Process(c *audio.Chunk) error
	Finish(c *audio.Chunk) error
	Active() bool
	Name() string
}

// Config captures everything stage activation depends on. Recomputed
// whenever the input format, the device, or the playback rate changes.
type Config struct {
	Input         audio.Format
	Output        audio.Format
	Exclusive     bool
	PlaybackRate  float64
	ExternalClock bool
	Settings      *settings.Store
}

// Chain is the fixed-order stage set. Each stage assumes the format
// and layout established by the previous one: matrixing first, then
// rate conversion, tempo, crossfeed, volume, limiting, dither.
type Chain struct {
	cfg       Config
	matrix    *Matrix
	rate      *Rate
	tempo     *Tempo
	crossfeed *Crossfeed
	volume    *Volume
	limiter   *Limiter
	dither    *Dither
}

// NewChain creates an uninitialized chain. gain supplies the live
// volume/balance pair applied by the volume stage.
func NewChain(gain GainFunc) *Chain {
	return &Chain{
		matrix:    &Matrix{},
		rate:      &Rate{},
		tempo:     &Tempo{},
		crossfeed: &Crossfeed{},
		volume:    &Volume{gain: gain},
		limiter:   &Limiter{},
		dither:    &Dither{},
	}
}

// stages returns the chain in processing order.
func (ch *Chain) stages() []Stage {
	return []Stage{ch.matrix, ch.rate, ch.tempo, ch.crossfeed, ch.volume, ch.limiter, ch.dither}
}

// Initialize reconfigures every stage from the current formats,
// device capabilities and settings.
func (ch *Chain) Initialize(cfg Config) {
	ch.cfg = cfg
	ch.matrix.initialize(cfg)
	ch.rate.initialize(cfg)
	ch.tempo.initialize(cfg)
	ch.crossfeed.initialize(cfg)
	ch.volume.initialize(cfg)
	ch.limiter.initialize(cfg)
	ch.dither.initialize(cfg)
}

// Process runs the chunk through every active stage in order. The
// chunk is first brought into working form.
func (ch *Chain) Process(c *audio.Chunk) error {
	if err := c.ToWorking(); err != nil {
		return err
	}
	for _, s := range ch.stages() {
		if !s.Active() {
			continue
		}
		if err := s.Process(c); err != nil {
			return err
		}
	}
	return nil
}

// Finish drains every active stage's buffered tail into the chunk.
func (ch *Chain) Finish(c *audio.Chunk) error {
	if c.Format().Channels == 0 {
		// Seed an empty chunk so drained tails carry a real format.
		*c = audio.NewChunk(ch.cfg.Input, 0)
	}
	for _, s := range ch.stages() {
		if !s.Active() {
			continue
		}
		if err := s.Finish(c); err != nil {
			return err
		}
	}
	return nil
}

// AdjustRate feeds a clock-drift correction into the rate stage.
// Only meaningful in external-clock mode.
func (ch *Chain) AdjustRate(offset time.Duration) {
	ch.rate.Adjust(offset)
}

// RateActive reports whether the rate stage is configured to run.
func (ch *Chain) RateActive() bool {
	return ch.rate.Active()
}

// ActiveNames returns the display names of currently active stages in
// processing order.
func (ch *Chain) ActiveNames() []string {
	var names []string
	for _, s := range ch.stages() {
		if s.Active() {
			names = append(names, s.Name())
		}
	}
	return names
}
