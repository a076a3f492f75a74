// ABOUTME: Manual-reset event used for flush and buffer-filled signals
// ABOUTME: Wait blocks with a timeout until the event is set
package renderer

import (
	"sync"
	"time"
)

// Event is a manual-reset signal. Once Set it stays signaled, waking
// every current and future Wait, until Reset is called.
type Event struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

// NewEvent creates an unsignaled event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set signals the event, releasing all waiters.
func (e *Event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

// Reset returns the event to the unsignaled state.
func (e *Event) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

// IsSet reports the current state without waiting.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is set or the timeout elapses. Returns
// true when the event fired, false on timeout.
func (e *Event) Wait(timeout time.Duration) bool {
	e.mu.Lock()
	ch := e.ch
	if e.set {
		e.mu.Unlock()
		return true
	}
	e.mu.Unlock()

	if timeout <= 0 {
		return false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
