// ABOUTME: In-flight audio buffer flowing through correction, DSP and push
// ABOUTME: Carries either float64 working samples or device-native bytes
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Chunk is an ephemeral buffer of interleaved frames tagged with its
// current format. Inside the processing chain the payload is held as
// interleaved float64 in [-1, 1]; at the device boundary Convert
// re-encodes it into the device-native layout. A zero-frame chunk is a
// valid no-op value.
type Chunk struct {
	format  Format
	samples []float64 // working form, interleaved
	encoded []byte    // native form, interleaved
}

// NewChunk allocates an all-silence working chunk.
func NewChunk(format Format, frames int) Chunk {
	f := format
	f.Encoding = EncodingFloat64
	return Chunk{format: f, samples: make([]float64, frames*format.Channels)}
}

// ChunkFromSamples wraps interleaved float64 samples. The format's
// encoding is forced to float64 to match the payload.
func ChunkFromSamples(format Format, samples []float64) Chunk {
	f := format
	f.Encoding = EncodingFloat64
	return Chunk{format: f, samples: samples}
}

// ChunkFromBytes wraps already-encoded frames, including bitstream data.
func ChunkFromBytes(format Format, data []byte) Chunk {
	return Chunk{format: format, encoded: data}
}

// Format returns the chunk's current format tag.
func (c *Chunk) Format() Format { return c.format }

// Frames returns the frame count.
func (c *Chunk) Frames() int {
	if c.samples != nil {
		return len(c.samples) / c.format.Channels
	}
	if fs := c.format.BytesPerFrame(); fs > 0 {
		return len(c.encoded) / fs
	}
	// Bitstream payloads without a declared container size are opaque;
	// each byte counts as a delivery unit.
	return len(c.encoded)
}

// Empty reports whether the chunk holds no frames.
func (c *Chunk) Empty() bool {
	return len(c.samples) == 0 && len(c.encoded) == 0
}

// Samples returns the working payload. Only valid after ToWorking.
func (c *Chunk) Samples() []float64 { return c.samples }

// SetSamples replaces the working payload, used by stages that change
// the frame count or channel layout.
func (c *Chunk) SetSamples(format Format, samples []float64) {
	f := format
	f.Encoding = EncodingFloat64
	c.format = f
	c.samples = samples
	c.encoded = nil
}

// Bytes returns the encoded payload. Only valid after Convert, or for
// chunks created from bytes.
func (c *Chunk) Bytes() []byte { return c.encoded }

// ToWorking decodes the chunk into interleaved float64 samples so DSP
// stages can mutate it. Bitstream chunks cannot be decoded.
func (c *Chunk) ToWorking() error {
	if c.samples != nil {
		return nil
	}
	if c.format.Bitstream {
		return fmt.Errorf("audio: cannot decode bitstream chunk to working form")
	}
	bps := c.format.Encoding.BytesPerSample()
	if bps == 0 {
		return fmt.Errorf("audio: cannot decode %s payload", c.format.Encoding)
	}
	n := len(c.encoded) / bps
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = decodeSample(c.format.Encoding, c.encoded[i*bps:])
	}
	c.samples = out
	c.encoded = nil
	c.format.Encoding = EncodingFloat64
	return nil
}

// Convert re-encodes the chunk into the target format's encoding.
// Channel count and sample rate must already match; those are the
// matrix and rate stages' responsibility.
func (c *Chunk) Convert(target Format) error {
	if target.Bitstream || c.format.Bitstream {
		// Bitstream data is forwarded untouched.
		c.format = target
		return nil
	}
	if c.Empty() {
		c.format = target
		c.samples = nil
		c.encoded = nil
		return nil
	}
	if c.samples == nil {
		if c.format.Encoding == target.Encoding {
			c.format = target
			return nil
		}
		if err := c.ToWorking(); err != nil {
			return err
		}
	}
	bps := target.Encoding.BytesPerSample()
	if bps == 0 {
		return fmt.Errorf("audio: cannot encode to %s", target.Encoding)
	}
	out := make([]byte, len(c.samples)*bps)
	for i, s := range c.samples {
		encodeSample(target.Encoding, out[i*bps:], s)
	}
	c.format = target
	c.encoded = out
	c.samples = nil
	return nil
}

func decodeSample(enc Encoding, b []byte) float64 {
	switch enc {
	case EncodingPCM16:
		return float64(int16(binary.LittleEndian.Uint16(b))) / 32768.0
	case EncodingPCM24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^int32(0xFFFFFF)
		}
		return float64(v) / 8388608.0
	case EncodingPCM32:
		return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648.0
	case EncodingFloat32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case EncodingFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

func encodeSample(enc Encoding, b []byte, s float64) {
	switch enc {
	case EncodingPCM16:
		binary.LittleEndian.PutUint16(b, uint16(clampInt(s, 32767)))
	case EncodingPCM24:
		v := clampInt(s, 8388607)
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
	case EncodingPCM32:
		binary.LittleEndian.PutUint32(b, uint32(clampInt(s, 2147483647)))
	case EncodingFloat32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(s)))
	case EncodingFloat64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(s))
	}
}

func clampInt(s float64, max int32) int32 {
	v := s * (float64(max) + 1)
	if v > float64(max) {
		return max
	}
	if v < -(float64(max) + 1) {
		return -max - 1
	}
	return int32(v)
}
