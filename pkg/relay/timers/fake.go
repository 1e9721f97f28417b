package timers

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock for tests. Time only moves when Advance
// is called; due timers fire synchronously on the advancing goroutine, in
// deadline order.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeHandle
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Arm(d time.Duration, fn func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := &fakeHandle{clock: c, deadline: c.now.Add(d), fn: fn}
	c.pending = append(c.pending, h)
	return h
}

// Armed reports how many handles are live.
func (c *FakeClock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, h := range c.pending {
		if !h.fired && !h.canceled {
			n++
		}
	}
	return n
}

// Advance moves the clock forward and fires every handle whose deadline has
// passed.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		h := c.nextDue()
		if h == nil {
			return
		}
		h.fire()
	}
}

func (c *FakeClock) nextDue() *fakeHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	var due *fakeHandle
	for _, h := range c.pending {
		if h.fired || h.canceled || h.deadline.After(c.now) {
			continue
		}
		if due == nil || h.deadline.Before(due.deadline) {
			due = h
		}
	}
	return due
}

type fakeHandle struct {
	clock    *FakeClock
	deadline time.Time
	fn       func()
	fired    bool
	canceled bool
}

func (h *fakeHandle) fire() {
	h.clock.mu.Lock()
	if h.fired || h.canceled {
		h.clock.mu.Unlock()
		return
	}
	h.fired = true
	fn := h.fn
	h.clock.mu.Unlock()
	fn()
}

func (h *fakeHandle) Cancel() {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	if h.fired {
		return
	}
	h.canceled = true
}

func (h *fakeHandle) IsArmed() bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	return !h.fired && !h.canceled
}
