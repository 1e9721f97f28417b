// Package timers provides the clock and timer-handle abstraction used by the
// session core, so timeout logic is testable without wall-clock waits.
package timers

import (
	"sync"
	"time"
)

// Handle is a single armed timer. Cancel is idempotent: cancelling an
// already-fired or already-cancelled handle is a no-op.
type Handle interface {
	Cancel()
	IsArmed() bool
}

// Clock arms timers and reports the current time. Production code uses Real;
// tests inject a fake that fires handles manually.
type Clock interface {
	Now() time.Time
	Arm(d time.Duration, fn func()) Handle
}

type realClock struct{}

// Real returns the wall-clock implementation.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Arm(d time.Duration, fn func()) Handle {
	h := &realHandle{}
	h.timer = time.AfterFunc(d, func() {
		h.mu.Lock()
		if h.done {
			h.mu.Unlock()
			return
		}
		h.done = true
		h.mu.Unlock()
		fn()
	})
	return h
}

type realHandle struct {
	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

func (h *realHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	h.timer.Stop()
}

func (h *realHandle) IsArmed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.done
}
