// ABOUTME: Shared resampling plumbing for the rate and tempo stages
// ABOUTME: Wraps the oov speex resampler and a linear micro-stretcher
package dsp

import (
	"github.com/oov/audio/resampler"
)

const resampleQuality = 10

// converter adapts the planar float32 resampler API to the chain's
// interleaved float64 working form.
type converter struct {
	rs       *resampler.Resampler
	channels int
	inRate   int
	outRate  int
	planIn   [][]float32
	planOut  [][]float32
}

func newConverter(channels, inRate, outRate int) *converter {
	return &converter{
		rs:       resampler.New(channels, inRate, outRate, resampleQuality),
		channels: channels,
		inRate:   inRate,
		outRate:  outRate,
		planIn:   make([][]float32, channels),
		planOut:  make([][]float32, channels),
	}
}

// process resamples interleaved float64 samples, returning a freshly
// allocated interleaved result.
func (v *converter) process(in []float64) []float64 {
	frames := len(in) / v.channels
	if frames == 0 {
		return nil
	}
	outCap := frames*v.outRate/v.inRate + 64

	for ch := 0; ch < v.channels; ch++ {
		if cap(v.planIn[ch]) < frames {
			v.planIn[ch] = make([]float32, frames)
		}
		v.planIn[ch] = v.planIn[ch][:frames]
		if cap(v.planOut[ch]) < outCap {
			v.planOut[ch] = make([]float32, outCap)
		}
		v.planOut[ch] = v.planOut[ch][:outCap]
	}

	for i := 0; i < frames; i++ {
		for ch := 0; ch < v.channels; ch++ {
			v.planIn[ch][i] = float32(in[i*v.channels+ch])
		}
	}

	written := 0
	for ch := 0; ch < v.channels; ch++ {
		_, w := v.rs.ProcessFloat32(ch, v.planIn[ch], v.planOut[ch])
		if ch == 0 || w < written {
			written = w
		}
	}

	out := make([]float64, written*v.channels)
	for i := 0; i < written; i++ {
		for ch := 0; ch < v.channels; ch++ {
			out[i*v.channels+ch] = float64(v.planOut[ch][i])
		}
	}
	return out
}

// drain pushes silence through the resampler to flush its tail.
func (v *converter) drain() []float64 {
	tail := make([]float64, 64*v.channels)
	return v.process(tail)
}

// linearStretch resamples interleaved samples to an exact target frame
// count with linear interpolation. Used for sub-percent rate
// micro-corrections where resampler quality is irrelevant.
func linearStretch(in []float64, channels, targetFrames int) []float64 {
	frames := len(in) / channels
	if frames == 0 || targetFrames <= 0 {
		return nil
	}
	if targetFrames == frames {
		return in
	}
	out := make([]float64, targetFrames*channels)
	step := float64(frames-1) / float64(targetFrames-1)
	if targetFrames == 1 {
		step = 0
	}
	for i := 0; i < targetFrames; i++ {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= frames {
			next = frames - 1
		}
		for ch := 0; ch < channels; ch++ {
			a := in[idx*channels+ch]
			b := in[next*channels+ch]
			out[i*channels+ch] = a*(1-frac) + b*frac
		}
	}
	return out
}
