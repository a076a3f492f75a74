// ABOUTME: Tests for the offline wav render backend
// ABOUTME: Verifies instant consumption, clock behavior and the file
package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"

	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

func openWavBackend(t *testing.T) (Backend, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.wav")
	f := pcmInput(48000, 2, audio.EncodingPCM16)
	b, got, err := WavFactory(path)("", f, 9600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got.Encoding != audio.EncodingPCM16 {
		t.Fatalf("wav negotiated %v", got.Encoding)
	}
	return b, path
}

func TestWavBackendConsumesInstantly(t *testing.T) {
	b, _ := openWavBackend(t)
	defer b.Close()

	if err := b.Write(make([]byte, 480*4)); err != nil {
		t.Fatalf("write: %v", err)
	}
	pad, err := b.Padding()
	if err != nil || pad != 0 {
		t.Errorf("padding %d err %v, want 0", pad, err)
	}
	pos, err := b.ClockPosition()
	if err != nil || pos != 480 {
		t.Errorf("position %d err %v, want 480", pos, err)
	}
}

func TestWavBackendResetRebasesClock(t *testing.T) {
	b, _ := openWavBackend(t)
	defer b.Close()

	b.Write(make([]byte, 100*4))
	if err := b.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if pos, _ := b.ClockPosition(); pos != 0 {
		t.Errorf("position %d after reset", pos)
	}
	b.Write(make([]byte, 50*4))
	if pos, _ := b.ClockPosition(); pos != 50 {
		t.Errorf("position %d after post-reset write", pos)
	}
}

func TestWavBackendProducesReadableFile(t *testing.T) {
	b, path := openWavBackend(t)

	data := make([]byte, 480*4)
	data[0], data[1] = 0xE8, 0x03 // 1000 in the first left sample
	if err := b.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := len(buf.Data) / buf.Format.NumChannels; got != 480 {
		t.Errorf("decoded %d frames, want 480", got)
	}
	if buf.Data[0] != 1000 {
		t.Errorf("first sample %d, want 1000", buf.Data[0])
	}
}

func TestWavBackendAfterClose(t *testing.T) {
	b, _ := openWavBackend(t)
	b.Close()

	if err := b.Write(make([]byte, 4)); err != ErrDeviceLost {
		t.Errorf("write after close: %v", err)
	}
	if _, err := b.ClockPosition(); err != ErrDeviceLost {
		t.Errorf("clock after close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("double close: %v", err)
	}
}
