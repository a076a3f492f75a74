// ABOUTME: Integration tests for the Renderer facade API
// ABOUTME: End-to-end offline render into a wav file
package cadence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Cadence-Audio/cadence-go/pkg/audio"
)

func wavRenderer(t *testing.T) (*Renderer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "render.wav")
	r, err := NewRenderer(Config{WavPath: path})
	if err != nil {
		t.Fatalf("Failed to create renderer: %v", err)
	}
	return r, path
}

func TestNewRenderer(t *testing.T) {
	r, _ := wavRenderer(t)
	defer r.Close()

	status := r.Status()
	if status.State != "stopped" {
		t.Errorf("Expected initial state='stopped', got '%s'", status.State)
	}
	if status.Volume != 1.0 {
		t.Errorf("Expected default volume=1.0, got %f", status.Volume)
	}
}

func TestRendererRejectsInvalidInput(t *testing.T) {
	r, _ := wavRenderer(t)
	defer r.Close()

	if err := r.SetFormat(audio.Format{}); err == nil {
		t.Error("Expected invalid format to be rejected")
	}
	if err := r.NewSegment(-1); err == nil {
		t.Error("Expected negative rate to be rejected")
	}
}

func TestOfflineRenderEndToEnd(t *testing.T) {
	r, path := wavRenderer(t)

	f := audio.Format{
		SampleRate:  48000,
		Channels:    2,
		ChannelMask: audio.DefaultChannelMask(2),
		Encoding:    audio.EncodingPCM16,
	}
	if err := r.SetFormat(f); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if err := r.NewSegment(1.0); err != nil {
		t.Fatalf("NewSegment: %v", err)
	}
	r.Play(0)

	// 100ms of silence in two back-to-back buffers.
	buf := make([]byte, 2400*f.BytesPerFrame())
	if !r.Enqueue(buf, 0, 50*time.Millisecond) {
		t.Fatal("first enqueue interrupted")
	}
	if !r.Enqueue(buf, 50*time.Millisecond, 100*time.Millisecond) {
		t.Fatal("second enqueue interrupted")
	}
	if !r.Finish(true) {
		t.Fatal("finish interrupted")
	}

	status := r.Status()
	if status.State != "running" {
		t.Errorf("state '%s' after playback", status.State)
	}
	if status.Frames != 4800 {
		t.Errorf("pushed %d frames, want 4800", status.Frames)
	}

	r.Stop()
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("no output file: %v", err)
	}
	// 4800 stereo pcm16 frames plus the wav header.
	if info.Size() < 4800*4 {
		t.Errorf("output file only %d bytes", info.Size())
	}
}
