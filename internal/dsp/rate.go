// ABOUTME: Sample-rate conversion stage with external-clock drift trim
// ABOUTME: Fixed-ratio resampling plus bounded micro-stretch corrections
package dsp

import (
	"sync"
	"time"

	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

// maxTrim bounds how much of a chunk a drift correction may stretch or
// shrink it by. Keeping it small keeps the correction inaudible.
const maxTrim = 0.005

// Rate converts the stream to the device sample rate. In
// external-clock mode it is always active, because clock drift against
// the external timeline is absorbed here as a continuous rate
// micro-adjustment instead of moving the renderer clock.
type Rate struct {
	mu       sync.Mutex
	active   bool
	variable bool
	inRate   int
	outRate  int
	channels int
	conv     *converter
	pending  time.Duration
}

func (r *Rate) initialize(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.inRate = cfg.Input.SampleRate
	r.outRate = cfg.Output.SampleRate
	r.channels = cfg.Output.Channels
	r.variable = cfg.ExternalClock
	r.active = r.variable || r.inRate != r.outRate
	r.pending = 0
	r.conv = nil
	if r.active && r.inRate != r.outRate {
		r.conv = newConverter(r.channels, r.inRate, r.outRate)
	}
}

func (r *Rate) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Rate) Name() string { return "Rate Converter" }

// Adjust queues a drift correction. Positive offset means the stream
// is behind the external clock and must yield fewer output frames.
func (r *Rate) Adjust(offset time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending += offset
}

func (r *Rate) Process(c *audio.Chunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Empty() {
		return nil
	}
	out := c.Samples()
	if r.conv != nil {
		out = r.conv.process(out)
	}
	out = r.trim(out)

	f := c.Format()
	f.SampleRate = r.outRate
	c.SetSamples(f, out)
	return nil
}

func (r *Rate) Finish(c *audio.Chunk) error {
	if err := r.Process(c); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conv == nil {
		return nil
	}
	tail := r.conv.drain()
	if len(tail) == 0 {
		return nil
	}
	f := c.Format()
	f.SampleRate = r.outRate
	c.SetSamples(f, append(c.Samples(), tail...))
	return nil
}

// trim applies up to maxTrim of the pending correction to one chunk.
// Caller holds the lock.
func (r *Rate) trim(in []float64) []float64 {
	if !r.variable || r.pending == 0 || len(in) == 0 {
		return in
	}
	frames := len(in) / r.channels

	// Positive pending: the stream lags, so shrink the chunk to let
	// the device catch up. Negative: pad it out.
	want := int(r.pending.Seconds() * float64(r.outRate))
	limit := int(float64(frames) * maxTrim)
	if limit < 1 {
		limit = 1
	}
	if want > limit {
		want = limit
	} else if want < -limit {
		want = -limit
	}
	if want == 0 {
		return in
	}

	target := frames - want
	if target < 1 {
		target = 1
	}
	out := linearStretch(in, r.channels, target)
	applied := time.Duration(float64(frames-target) / float64(r.outRate) * float64(time.Second))
	r.pending -= applied
	return out
}
