// ABOUTME: Tests for the manual-reset event
// ABOUTME: Set-before-wait, wake-on-set, timeout and reset behavior
package renderer

import (
	"sync"
	"testing"
	"time"
)

func TestEventSetBeforeWait(t *testing.T) {
	e := NewEvent()
	e.Set()
	if !e.Wait(0) {
		t.Error("wait on a set event should return immediately")
	}
	if !e.IsSet() {
		t.Error("manual-reset event cleared by a wait")
	}
}

func TestEventWaitTimesOut(t *testing.T) {
	e := NewEvent()
	start := time.Now()
	if e.Wait(20 * time.Millisecond) {
		t.Error("wait fired without a set")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("wait returned before the timeout")
	}
}

func TestEventSetWakesAllWaiters(t *testing.T) {
	e := NewEvent()
	const n = 4

	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- e.Wait(5 * time.Second)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	e.Set()
	wg.Wait()
	close(results)
	for ok := range results {
		if !ok {
			t.Error("a waiter timed out despite the set")
		}
	}
}

func TestEventResetRearms(t *testing.T) {
	e := NewEvent()
	e.Set()
	e.Reset()
	if e.IsSet() {
		t.Error("still set after reset")
	}
	if e.Wait(5 * time.Millisecond) {
		t.Error("wait fired after reset")
	}
	e.Set()
	if !e.Wait(0) {
		t.Error("set after reset did not signal")
	}
}

func TestEventSetIsIdempotent(t *testing.T) {
	e := NewEvent()
	e.Set()
	e.Set() // must not panic on double close
	if !e.IsSet() {
		t.Error("not set")
	}
}
