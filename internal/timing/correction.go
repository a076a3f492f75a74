// ABOUTME: Timing correction of timestamped sample buffers
// ABOUTME: Produces a continuous frame stream across gaps and overlaps
package timing

import (
	"log/slog"
	"time"

	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

const (
	// DefaultTolerance is the largest timestamp deviation treated as
	// jitter rather than a discontinuity.
	DefaultTolerance = time.Millisecond

	// DefaultHardReset is the deviation beyond which correction gives
	// up and resynchronizes to the buffer's stated timestamp.
	DefaultHardReset = 200 * time.Millisecond
)

// Correction turns a sequence of possibly gapped, overlapping or
// rate-scaled timestamped buffers into a continuous frame stream.
// Small deviations accumulate into a timing error the clock layer
// consumes; larger ones are corrected by dropping frames or inserting
// silence; deviations beyond the hard-reset tolerance resynchronize
// the stream outright.
type Correction struct {
	format audio.Format
	rate   float64

	lastEnd      time.Duration // end timestamp of the last produced frame
	timingsError time.Duration
	primed       bool // a buffer has been seen since the last reseed

	tolerance time.Duration
	hardReset time.Duration

	log *slog.Logger
}

// New creates a correction state with default tolerances.
func New() *Correction {
	return &Correction{
		rate:      1.0,
		tolerance: DefaultTolerance,
		hardReset: DefaultHardReset,
		log:       slog.Default(),
	}
}

// SetTolerances overrides the discontinuity and hard-reset tolerances.
// The hard-reset tolerance must dominate the discontinuity tolerance.
func (c *Correction) SetTolerances(tolerance, hardReset time.Duration) {
	c.tolerance = tolerance
	c.hardReset = hardReset
}

// SetFormat declares the format of subsequent buffers and drops the
// continuity anchor; the next buffer is accepted at its stated time.
func (c *Correction) SetFormat(f audio.Format) {
	c.format = f
	c.primed = false
}

// NewSegment resets the accumulated error and re-anchors to a new
// playback rate. Subsequent timestamps are scaled by the rate.
func (c *Correction) NewSegment(rate float64) {
	c.rate = rate
	c.timingsError = 0
	c.primed = false
}

// TimingsError returns the accumulated expected-vs-actual drift.
func (c *Correction) TimingsError() time.Duration {
	return c.timingsError
}

// LastFrameEnd returns the end timestamp of the last produced frame,
// used to seed a fresh device session's start offset.
func (c *Correction) LastFrameEnd() time.Duration {
	return c.lastEnd
}

// Rate returns the current playback rate.
func (c *Correction) Rate() float64 {
	return c.rate
}

// Process converts one timestamped buffer into a continuous chunk.
// start and stop are the buffer's stated presentation interval in
// unscaled stream time. Bitstream payloads are forwarded uncorrected.
func (c *Correction) Process(data []byte, start, stop time.Duration) audio.Chunk {
	if c.format.Bitstream {
		c.lastEnd = c.scale(stop)
		c.primed = true
		return audio.ChunkFromBytes(c.format, data)
	}

	start = c.scale(start)
	frameSize := c.format.BytesPerFrame()
	frames := len(data) / frameSize
	chunk := audio.ChunkFromBytes(c.format, data[:frames*frameSize])
	if err := chunk.ToWorking(); err != nil {
		return audio.Chunk{}
	}

	if !c.primed {
		// First buffer after a reseed anchors the stream.
		c.primed = true
		c.lastEnd = start + c.frameSpan(int64(frames))
		return chunk
	}

	delta := start - c.lastEnd

	switch {
	case delta > c.hardReset || -delta > c.hardReset:
		c.log.Debug("timing hard reset", "delta", delta)
		c.timingsError = 0
		c.lastEnd = start + c.frameSpan(int64(frames))

	case delta > c.tolerance:
		// Gap: pad with silence so the output stream stays continuous.
		pad := c.framesIn(delta)
		c.log.Debug("timing gap", "delta", delta, "padFrames", pad)
		padded := make([]float64, (pad+int64(frames))*int64(c.format.Channels))
		copy(padded[pad*int64(c.format.Channels):], chunk.Samples())
		chunk.SetSamples(c.format, padded)
		c.lastEnd += c.frameSpan(pad + int64(frames))

	case -delta > c.tolerance:
		// Overlap: drop the frames we have already produced.
		drop := c.framesIn(-delta)
		c.log.Debug("timing overlap", "delta", delta, "dropFrames", drop)
		if drop >= int64(frames) {
			return audio.Chunk{}
		}
		chunk.SetSamples(c.format, chunk.Samples()[drop*int64(c.format.Channels):])
		c.lastEnd += c.frameSpan(int64(frames) - drop)

	default:
		// Within tolerance: absorb the jitter and let the clock layer
		// decide whether the accumulated drift is worth correcting.
		c.timingsError += delta
		c.lastEnd += c.frameSpan(int64(frames))
	}

	return chunk
}

// scale maps an unscaled stream timestamp into presentation time for
// the current playback rate.
func (c *Correction) scale(t time.Duration) time.Duration {
	if c.rate == 1.0 {
		return t
	}
	return time.Duration(float64(t) / c.rate)
}

// frameSpan returns the presentation duration of n frames.
func (c *Correction) frameSpan(n int64) time.Duration {
	d := c.format.FramesDuration(n)
	if c.rate == 1.0 {
		return d
	}
	return time.Duration(float64(d) / c.rate)
}

// framesIn returns how many frames fit in a presentation interval.
func (c *Correction) framesIn(d time.Duration) int64 {
	if c.rate != 1.0 {
		d = time.Duration(float64(d) * c.rate)
	}
	return c.format.DurationFrames(d)
}
