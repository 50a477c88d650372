package battle

import (
	"sync"
	"time"
)

// Timer fires a callback once after a duration unless stopped.
// It is safe for concurrent use.
type Timer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewTimer creates and starts a timer that calls onFire after duration.
// onFire runs in its own goroutine.
//
// Precondition: duration > 0; onFire must not be nil.
// Postcondition: onFire will be called unless Stop is called first.
func NewTimer(duration time.Duration, onFire func()) *Timer {
	t := &Timer{}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = time.AfterFunc(duration, func() {
		t.mu.Lock()
		stopped := t.stopped
		t.stopped = true
		t.mu.Unlock()
		if !stopped {
			onFire()
		}
	})
	return t
}

// Stop prevents the callback from firing. Safe to call multiple times.
//
// Postcondition: Returns true if this call prevented onFire from running.
func (t *Timer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}
