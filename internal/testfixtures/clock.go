package testfixtures

import (
	"sort"
	"sync"
	"time"
)

// Clock provides a controllable time source for tests. Channels returned by
// After fire only when Advance or Set moves the clock past their deadline.
type Clock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*fakeTimer
	changed chan struct{}
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// NewClock returns a clock initialised to the supplied time. When start is the
// zero value, the shared ReferenceTime is used.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start, changed: make(chan struct{})}
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc exposes Now as a function suitable for dependency injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// After returns a channel that receives the clock time once the clock has
// advanced by d. A non-positive d fires immediately.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.timers = append(c.timers, &fakeTimer{deadline: c.current.Add(d), ch: ch})
	c.notifyLocked()
	return ch
}

// Set updates the clock to the provided time and fires due timers.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.fireLocked()
	c.mu.Unlock()
}

// Advance moves the clock forward by the provided duration, fires due timers,
// and returns the updated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.fireLocked()
	updated := c.current
	c.mu.Unlock()
	return updated
}

// Current returns the clock time without modifying it. It is equivalent to
// calling Now but signals the absence of time progression.
func (c *Clock) Current() time.Time {
	return c.Now()
}

// PendingTimers reports how many After channels have not fired yet.
func (c *Clock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// WaitForTimers blocks until at least n timers are pending or timeout elapses
// in real time. It reports whether the count was reached.
func (c *Clock) WaitForTimers(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		c.mu.Lock()
		if len(c.timers) >= n {
			c.mu.Unlock()
			return true
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}

func (c *Clock) fireLocked() {
	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})
	kept := c.timers[:0]
	for _, timer := range c.timers {
		if timer.deadline.After(c.current) {
			kept = append(kept, timer)
			continue
		}
		timer.ch <- c.current
	}
	c.timers = kept
	c.notifyLocked()
}

func (c *Clock) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
