// Package alertingtest provides a manually driven clock for scheduler tests.
package alertingtest

import (
	"sync"
	"time"

	"posturewatch/internal/alerting"
)

type ManualClock struct {
	mu     sync.Mutex
	timers []*ManualTimer
}

type ManualTimer struct {
	clock    *ManualClock
	Duration time.Duration
	f        func()
	stopped  bool
	fired    bool
}

func NewManualClock() *ManualClock {
	return &ManualClock{}
}

func (c *ManualClock) AfterFunc(d time.Duration, f func()) alerting.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &ManualTimer{clock: c, Duration: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *ManualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.stopped && !t.fired
	t.stopped = true
	return wasPending
}

// Pending returns timers that are neither stopped nor fired.
func (c *ManualClock) Pending() []*ManualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*ManualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

// Advance fires every pending timer once. Timers armed by those callbacks
// stay pending for the next call.
func (c *ManualClock) Advance() int {
	pending := c.Pending()
	for _, t := range pending {
		t.Fire()
	}
	return len(pending)
}

// Fire runs the callback unless the timer was stopped.
func (t *ManualTimer) Fire() {
	t.clock.mu.Lock()
	if t.stopped || t.fired {
		t.clock.mu.Unlock()
		return
	}
	t.fired = true
	t.clock.mu.Unlock()
	t.f()
}

// ForceFire runs the callback even if the timer was stopped, modelling a
// tick that was already in flight when Stop was called.
func (t *ManualTimer) ForceFire() {
	t.clock.mu.Lock()
	t.fired = true
	t.clock.mu.Unlock()
	t.f()
}
