// ABOUTME: Renderer reference clock slavable to a hardware audio clock
// ABOUTME: Derives time from device position plus a nudged start offset
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Hardware exposes a device's audio clock: a tick frequency and a
// monotonically increasing position in ticks since the device started.
type Hardware interface {
	ClockFrequency() (uint64, error)
	ClockPosition() (uint64, error)
}

// Reference is any source of stream time, such as a video graph's
// master clock.
type Reference interface {
	Now() (time.Duration, error)
}

// System is a Reference over the process monotonic clock.
type System struct {
	epoch time.Time
}

// NewSystem creates a system reference clock anchored at construction.
func NewSystem() *System {
	return &System{epoch: time.Now()}
}

func (s *System) Now() (time.Duration, error) {
	return time.Since(s.epoch), nil
}

// Clock is the renderer's notion of "now". While slaved it derives its
// time from the hardware clock's position plus a start offset; small
// corrections are applied as offset nudges. While unslaved it free-runs
// on the system clock, preserving continuity across the transition.
type Clock struct {
	mu sync.Mutex

	fallback Reference

	slaved     bool
	hw         Hardware
	hwBase     time.Duration // hardware position at slaving
	startTime  time.Duration // stream time corresponding to hwBase
	offset     time.Duration // accumulated nudges since slaving
	frozenAt   time.Duration // stream time when last unslaved
	frozenSys  time.Duration // fallback time at that moment
	everSlaved bool

	lastReported time.Duration
}

// New creates a renderer clock free-running on the given fallback
// reference. A nil fallback uses the system clock.
func New(fallback Reference) *Clock {
	if fallback == nil {
		fallback = NewSystem()
	}
	return &Clock{fallback: fallback}
}

// SlaveToAudio ties the clock to a hardware audio clock. startTime is
// the stream time that corresponds to the hardware's current position.
// Accumulated nudges are discarded; they were corrections for the
// previous slaving relationship.
func (c *Clock) SlaveToAudio(hw Hardware, startTime time.Duration) error {
	pos, err := hardwareTime(hw)
	if err != nil {
		return fmt.Errorf("clock: slaving query failed: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.slaved = true
	c.everSlaved = true
	c.hw = hw
	c.hwBase = pos
	c.startTime = startTime
	c.offset = 0
	return nil
}

// UnslaveFromAudio detaches the clock from hardware. Time continues
// from the last reported value on the fallback reference. Safe to call
// when not slaved.
func (c *Clock) UnslaveFromAudio() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.slaved {
		return
	}
	c.slaved = false
	c.hw = nil
	c.frozenAt = c.lastReported
	if sysNow, err := c.fallback.Now(); err == nil {
		c.frozenSys = sysNow
	}
}

// OffsetSlavedClock nudges the slaved clock by delta. No-op when not
// slaved.
func (c *Clock) OffsetSlavedClock(delta time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.slaved {
		c.offset += delta
	}
}

// SlavedClockOffset returns the total nudge applied since slaving.
func (c *Clock) SlavedClockOffset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offset
}

// AudioClockTime returns the hardware-derived stream time. Fails when
// not slaved or when the hardware query fails.
func (c *Clock) AudioClockTime() (time.Duration, error) {
	c.mu.Lock()
	hw := c.hw
	slaved := c.slaved
	c.mu.Unlock()

	if !slaved {
		return 0, fmt.Errorf("clock: not slaved to audio")
	}
	pos, err := hardwareTime(hw)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startTime + (pos - c.hwBase) + c.offset, nil
}

// AudioClockStartTime returns the stream time the current slaving
// relationship was anchored at.
func (c *Clock) AudioClockStartTime() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.slaved {
		return 0, fmt.Errorf("clock: not slaved to audio")
	}
	return c.startTime, nil
}

// Now returns current stream time. Reported time never goes backwards,
// even across slaving transitions or hardware glitches.
func (c *Clock) Now() (time.Duration, error) {
	if t, err := c.AudioClockTime(); err == nil {
		return c.report(t), nil
	}

	c.mu.Lock()
	frozenAt, frozenSys := c.frozenAt, c.frozenSys
	everSlaved := c.everSlaved
	c.mu.Unlock()

	sysNow, err := c.fallback.Now()
	if err != nil {
		return 0, err
	}
	if everSlaved {
		return c.report(frozenAt + (sysNow - frozenSys)), nil
	}
	return c.report(sysNow), nil
}

func (c *Clock) report(t time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t < c.lastReported {
		return c.lastReported
	}
	c.lastReported = t
	return t
}

func hardwareTime(hw Hardware) (time.Duration, error) {
	freq, err := hw.ClockFrequency()
	if err != nil {
		return 0, fmt.Errorf("clock: frequency query failed: %w", err)
	}
	if freq == 0 {
		return 0, fmt.Errorf("clock: hardware reports zero frequency")
	}
	pos, err := hw.ClockPosition()
	if err != nil {
		return 0, fmt.Errorf("clock: position query failed: %w", err)
	}
	return TicksDuration(pos, freq), nil
}

// TicksDuration converts a tick position at the given frequency to
// stream time without overflowing on long-running sessions.
func TicksDuration(pos, freq uint64) time.Duration {
	sec := pos / freq
	rem := pos % freq
	return time.Duration(sec)*time.Second +
		time.Duration(rem*uint64(time.Second)/freq)
}
