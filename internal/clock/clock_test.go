// ABOUTME: Tests for the slavable renderer clock
// ABOUTME: Covers slaving math, offset nudges and fallback continuity
package clock

import (
	"fmt"
	"testing"
	"time"
)

// fakeHardware is a hardware clock whose position is set by the test.
type fakeHardware struct {
	freq uint64
	pos  uint64
	fail bool
}

func (h *fakeHardware) ClockFrequency() (uint64, error) {
	if h.fail {
		return 0, fmt.Errorf("hardware gone")
	}
	return h.freq, nil
}

func (h *fakeHardware) ClockPosition() (uint64, error) {
	if h.fail {
		return 0, fmt.Errorf("hardware gone")
	}
	return h.pos, nil
}

// fakeReference is a reference clock advanced manually.
type fakeReference struct {
	now time.Duration
}

func (r *fakeReference) Now() (time.Duration, error) { return r.now, nil }

func TestSlavedTimeTracksHardwarePosition(t *testing.T) {
	hw := &fakeHardware{freq: 48000, pos: 0}
	c := New(&fakeReference{})

	if err := c.SlaveToAudio(hw, 0); err != nil {
		t.Fatalf("slave: %v", err)
	}

	hw.pos = 48000 // one second of frames
	got, err := c.AudioClockTime()
	if err != nil {
		t.Fatalf("audio clock time: %v", err)
	}
	if got != time.Second {
		t.Errorf("got %v, want 1s", got)
	}
}

func TestSlavingAnchorsAtStartTime(t *testing.T) {
	hw := &fakeHardware{freq: 48000, pos: 96000}
	c := New(&fakeReference{})

	start := 500 * time.Millisecond
	if err := c.SlaveToAudio(hw, start); err != nil {
		t.Fatalf("slave: %v", err)
	}

	got, _ := c.AudioClockTime()
	if got != start {
		t.Errorf("time at slaving: got %v, want %v", got, start)
	}
	if st, _ := c.AudioClockStartTime(); st != start {
		t.Errorf("start time: got %v, want %v", st, start)
	}
}

func TestOffsetNudgesAccumulate(t *testing.T) {
	hw := &fakeHardware{freq: 48000}
	c := New(&fakeReference{})
	c.SlaveToAudio(hw, 0)

	c.OffsetSlavedClock(2 * time.Millisecond)
	c.OffsetSlavedClock(-500 * time.Microsecond)

	if off := c.SlavedClockOffset(); off != 1500*time.Microsecond {
		t.Errorf("offset %v, want 1.5ms", off)
	}
	got, _ := c.AudioClockTime()
	if got != 1500*time.Microsecond {
		t.Errorf("nudged time %v", got)
	}
}

func TestReslavingDiscardsOffset(t *testing.T) {
	hw := &fakeHardware{freq: 48000}
	c := New(&fakeReference{})
	c.SlaveToAudio(hw, 0)
	c.OffsetSlavedClock(time.Millisecond)
	c.UnslaveFromAudio()
	c.SlaveToAudio(hw, 0)

	if off := c.SlavedClockOffset(); off != 0 {
		t.Errorf("offset survived reslaving: %v", off)
	}
}

func TestUnslavedTimeContinuesOnFallback(t *testing.T) {
	hw := &fakeHardware{freq: 48000}
	ref := &fakeReference{}
	c := New(ref)

	c.SlaveToAudio(hw, 0)
	hw.pos = 48000
	c.Now() // report 1s while slaved
	c.UnslaveFromAudio()

	ref.now += 100 * time.Millisecond
	got, err := c.Now()
	if err != nil {
		t.Fatalf("now: %v", err)
	}
	if got != time.Second+100*time.Millisecond {
		t.Errorf("post-unslave time %v, want 1.1s", got)
	}
}

func TestNowNeverGoesBackwards(t *testing.T) {
	hw := &fakeHardware{freq: 48000, pos: 48000}
	c := New(&fakeReference{})
	c.SlaveToAudio(hw, 0)

	first, _ := c.Now()
	hw.pos = 24000 // hardware glitch backwards
	second, _ := c.Now()
	if second < first {
		t.Errorf("clock went backwards: %v then %v", first, second)
	}
}

func TestAudioClockTimeFailsWhenNotSlaved(t *testing.T) {
	c := New(&fakeReference{})
	if _, err := c.AudioClockTime(); err == nil {
		t.Error("expected error when not slaved")
	}
	if _, err := c.AudioClockStartTime(); err == nil {
		t.Error("expected error when not slaved")
	}
}

func TestSlavingFailsOnDeadHardware(t *testing.T) {
	hw := &fakeHardware{freq: 48000, fail: true}
	c := New(&fakeReference{})
	if err := c.SlaveToAudio(hw, 0); err == nil {
		t.Error("expected error slaving to dead hardware")
	}
}

func TestTicksDurationLongSession(t *testing.T) {
	// 30 hours at 48kHz would overflow a naive pos*1e9 computation.
	pos := uint64(48000 * 3600 * 30)
	d := TicksDuration(pos, 48000)
	if d != 30*time.Hour {
		t.Errorf("got %v, want 30h", d)
	}
}
