// ABOUTME: Tests for chunk conversion between working and native forms
// ABOUTME: Covers encode clamping, retagging and empty-chunk handling
package audio

import (
	"math"
	"testing"
)

func stereo16() Format {
	return Format{
		SampleRate:  48000,
		Channels:    2,
		ChannelMask: DefaultChannelMask(2),
		Encoding:    EncodingPCM16,
	}
}

func TestChunkRoundTripPCM16(t *testing.T) {
	f := stereo16()
	in := []float64{0, 0.5, -0.5, 0.25}
	c := ChunkFromSamples(f, append([]float64(nil), in...))

	if err := c.Convert(f); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if c.Frames() != 2 {
		t.Fatalf("expected 2 frames, got %d", c.Frames())
	}
	if err := c.ToWorking(); err != nil {
		t.Fatalf("to working: %v", err)
	}
	for i, want := range in {
		got := c.Samples()[i]
		if math.Abs(got-want) > 1.0/32768 {
			t.Errorf("sample %d: got %f, want %f", i, got, want)
		}
	}
}

func TestChunkConvertClampsOverRange(t *testing.T) {
	f := stereo16()
	c := ChunkFromSamples(f, []float64{1.5, -1.5})
	if err := c.Convert(f); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if err := c.ToWorking(); err != nil {
		t.Fatalf("to working: %v", err)
	}
	s := c.Samples()
	if s[0] > 1.0 || s[0] < 0.99 {
		t.Errorf("positive clip: got %f", s[0])
	}
	if s[1] < -1.0 || s[1] > -0.99 {
		t.Errorf("negative clip: got %f", s[1])
	}
}

func TestChunkFrameCountPerEncoding(t *testing.T) {
	cases := []struct {
		enc Encoding
		bps int
	}{
		{EncodingPCM16, 2},
		{EncodingPCM24, 3},
		{EncodingPCM32, 4},
		{EncodingFloat32, 4},
		{EncodingFloat64, 8},
	}
	for _, tc := range cases {
		f := stereo16()
		f.Encoding = tc.enc
		c := ChunkFromBytes(f, make([]byte, 10*tc.bps*2))
		if c.Frames() != 10 {
			t.Errorf("%s: expected 10 frames, got %d", tc.enc, c.Frames())
		}
	}
}

func TestEmptyChunkIsValidNoOp(t *testing.T) {
	var c Chunk
	if !c.Empty() {
		t.Fatal("zero chunk should be empty")
	}
	if err := c.Convert(stereo16()); err != nil {
		t.Fatalf("converting empty chunk: %v", err)
	}
	if c.Frames() != 0 {
		t.Errorf("expected 0 frames, got %d", c.Frames())
	}
}

func TestBitstreamChunkForwardedUntouched(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 2, Bitstream: true}
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	c := ChunkFromBytes(f, payload)

	if err := c.ToWorking(); err == nil {
		t.Error("expected error decoding bitstream to working form")
	}
	if err := c.Convert(f); err != nil {
		t.Fatalf("convert: %v", err)
	}
	for i, b := range c.Bytes() {
		if b != payload[i] {
			t.Fatalf("payload byte %d changed", i)
		}
	}
}

func TestFormatDurationConversions(t *testing.T) {
	f := stereo16()
	d := f.FramesDuration(48000)
	if d.Seconds() != 1.0 {
		t.Errorf("48000 frames at 48kHz: got %v, want 1s", d)
	}
	if n := f.DurationFrames(d); n != 48000 {
		t.Errorf("round trip: got %d frames", n)
	}
}
