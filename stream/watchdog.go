package stream

import (
	"sync"
	"time"
)

// Watchdog runs a cleanup function once if it is not stopped within its
// deadline.
type Watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	fired   bool
	stopped bool
}

// NewWatchdog arms a watchdog that calls onExpire after d.
func NewWatchdog(d time.Duration, onExpire func()) *Watchdog {
	w := &Watchdog{}
	w.timer = time.AfterFunc(d, func() {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		w.fired = true
		w.mu.Unlock()
		onExpire()
	})
	return w
}

// Stop cancels the watchdog. It reports whether the call prevented the
// expiry; stopping twice is a no-op.
func (w *Watchdog) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.fired {
		return false
	}
	w.stopped = true
	w.timer.Stop()
	return true
}

// Fired reports whether the deadline passed before Stop.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}
