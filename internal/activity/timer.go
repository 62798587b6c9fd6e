// Package activity implements the per-session inactivity watchdog.
package activity

import (
	"sync"
	"time"
)

// Timer fires its callback once no activity has been recorded for the
// configured timeout. The check reschedules itself for the remaining time
// instead of polling on a fixed cadence.
type Timer struct {
	onInactive func()
	now        func() time.Time

	mu      sync.Mutex
	timeout time.Duration
	last    time.Time
	timer   *time.Timer
	running bool
}

// New creates a stopped timer.
func New(onInactive func()) *Timer {
	return &Timer{onInactive: onInactive, now: time.Now}
}

// Start arms the watchdog. A non-positive timeout leaves it disabled.
func (t *Timer) Start(timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	if timeout <= 0 {
		return
	}
	t.timeout = timeout
	t.last = t.now()
	t.running = true
	t.timer = time.AfterFunc(timeout, t.check)
}

// Update records activity.
func (t *Timer) Update() {
	t.mu.Lock()
	t.last = t.now()
	t.mu.Unlock()
}

// Stop cancels any pending check. It is safe to call more than once.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// LastActivity returns the time of the last recorded activity.
func (t *Timer) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Timer) stopLocked() {
	t.running = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Timer) check() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	elapsed := t.now().Sub(t.last)
	if elapsed < t.timeout {
		t.timer = time.AfterFunc(t.timeout-elapsed, t.check)
		t.mu.Unlock()
		return
	}
	t.running = false
	t.timer = nil
	t.mu.Unlock()
	t.onInactive()
}
