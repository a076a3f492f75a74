// ABOUTME: Audio type definitions
// ABOUTME: Defines sample formats and speaker channel masks
package audio

import "time"

// Speaker position bits, matching the WAVE channel mask layout.
const (
	SpeakerFrontLeft    uint32 = 0x1
	SpeakerFrontRight   uint32 = 0x2
	SpeakerFrontCenter  uint32 = 0x4
	SpeakerLowFrequency uint32 = 0x8
	SpeakerBackLeft     uint32 = 0x10
	SpeakerBackRight    uint32 = 0x20
	SpeakerSideLeft     uint32 = 0x200
	SpeakerSideRight    uint32 = 0x400
)

// Encoding identifies how a single sample is stored.
type Encoding uint8

const (
	EncodingInvalid Encoding = iota
	EncodingPCM16
	EncodingPCM24
	EncodingPCM32
	EncodingFloat32
	EncodingFloat64
)

// BytesPerSample returns the container size of one sample.
func (e Encoding) BytesPerSample() int {
	switch e {
	case EncodingPCM16:
		return 2
	case EncodingPCM24:
		return 3
	case EncodingPCM32, EncodingFloat32:
		return 4
	case EncodingFloat64:
		return 8
	}
	return 0
}

func (e Encoding) String() string {
	switch e {
	case EncodingPCM16:
		return "pcm16"
	case EncodingPCM24:
		return "pcm24"
	case EncodingPCM32:
		return "pcm32"
	case EncodingFloat32:
		return "float32"
	case EncodingFloat64:
		return "float64"
	}
	return "invalid"
}

// Format describes an audio stream format.
//
// Bitstream marks compressed passthrough data; such streams carry an
// opaque payload and are never processed, only forwarded.
type Format struct {
	SampleRate  int
	Channels    int
	ChannelMask uint32
	Encoding    Encoding
	Bitstream   bool
}

// Valid reports whether the format can describe real audio.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && (f.Bitstream || f.Encoding != EncodingInvalid)
}

// Equal compares formats structurally.
func (f Format) Equal(o Format) bool {
	return f == o
}

// BytesPerFrame returns the size of one interleaved frame.
func (f Format) BytesPerFrame() int {
	return f.Encoding.BytesPerSample() * f.Channels
}

// FramesDuration converts a frame count to stream time.
func (f Format) FramesDuration(frames int64) time.Duration {
	return time.Duration(frames * int64(time.Second) / int64(f.SampleRate))
}

// DurationFrames converts stream time to a frame count, rounding down.
func (f Format) DurationFrames(d time.Duration) int64 {
	return int64(d) * int64(f.SampleRate) / int64(time.Second)
}

// DefaultChannelMask returns the conventional speaker layout for a
// channel count, the same mapping hardware uses when no explicit
// mask is negotiated.
func DefaultChannelMask(channels int) uint32 {
	switch channels {
	case 1:
		return SpeakerFrontCenter
	case 2:
		return SpeakerFrontLeft | SpeakerFrontRight
	case 4:
		return SpeakerFrontLeft | SpeakerFrontRight | SpeakerBackLeft | SpeakerBackRight
	case 6:
		return SpeakerFrontLeft | SpeakerFrontRight | SpeakerFrontCenter |
			SpeakerLowFrequency | SpeakerBackLeft | SpeakerBackRight
	case 8:
		return SpeakerFrontLeft | SpeakerFrontRight | SpeakerFrontCenter |
			SpeakerLowFrequency | SpeakerBackLeft | SpeakerBackRight |
			SpeakerSideLeft | SpeakerSideRight
	}
	return 0
}
