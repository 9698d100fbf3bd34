// SPDX-License-Identifier: MPL-2.0

// Package clock abstracts the time operations the reconciler depends on so
// credential refresh scheduling can be tested deterministically.
package clock

import (
	"sync"
	"time"
)

type (
	// Clock abstracts time operations for deterministic testing.
	// Production code uses Real; tests use Fake.
	Clock interface {
		// Now returns the current time.
		Now() time.Time

		// After waits for the duration to elapse and then returns the current time.
		After(d time.Duration) <-chan time.Time

		// AfterFunc calls f in its own goroutine once d has elapsed. The returned
		// Timer can cancel the pending call.
		AfterFunc(d time.Duration, f func()) Timer
	}

	// Timer is a cancellable scheduled call.
	Timer interface {
		// Stop prevents the call from firing. It returns false if the call has
		// already fired or been stopped.
		Stop() bool
	}

	// Real implements Clock using actual system time.
	Real struct{}

	// Fake implements Clock with manually controlled time for testing.
	// Time only advances when Advance or Set is called.
	Fake struct {
		mu      sync.Mutex
		current time.Time
		waiters []*waiter
	}

	// waiter tracks a pending After or AfterFunc call.
	waiter struct {
		target  time.Time
		ch      chan time.Time
		fn      func()
		stopped bool
		fired   bool
		clock   *Fake
	}
)

// Now returns the current system time.
func (Real) Now() time.Time { return time.Now() }

// After returns a channel that receives the time after duration d.
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// NewFake creates a Fake clock initialized to the given time.
// If initial is zero, defaults to a fixed reference time for reproducibility.
func NewFake(initial time.Time) *Fake {
	if initial.IsZero() {
		initial = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Fake{current: initial}
}

// Now returns the current fake time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock reaches now+d.
func (c *Fake) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, &waiter{target: c.current.Add(d), ch: ch, clock: c})
	return ch
}

// AfterFunc schedules f to run when the clock reaches now+d. Callbacks run
// synchronously inside Advance or Set, after the clock lock is released.
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	w := &waiter{target: c.current.Add(d), fn: f, clock: c}
	if d <= 0 {
		w.fired = true
		c.mu.Unlock()
		f()
		return w
	}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return w
}

// Pending returns the number of timers and channels that have not fired yet.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

// NextDeadline reports the earliest pending deadline, if any.
func (c *Fake) NextDeadline() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var next time.Time
	found := false
	for _, w := range c.waiters {
		if w.stopped || w.fired {
			continue
		}
		if !found || w.target.Before(next) {
			next = w.target
			found = true
		}
	}
	return next, found
}

// Advance moves the fake time forward by d, firing every waiter whose
// target time has been reached.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	due := c.collectDue()
	c.mu.Unlock()
	runDue(due)
}

// Set sets the fake time to t, firing every waiter whose target time has
// been reached.
func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	due := c.collectDue()
	c.mu.Unlock()
	runDue(due)
}

// collectDue removes reached waiters and delivers channel waiters.
// AfterFunc callbacks are returned so they run without mu held.
// Must be called with mu held.
func (c *Fake) collectDue() []func() {
	var due []func()
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		switch {
		case w.stopped:
		case c.current.Before(w.target):
			remaining = append(remaining, w)
		default:
			w.fired = true
			if w.fn != nil {
				due = append(due, w.fn)
				continue
			}
			select {
			case w.ch <- c.current:
			default:
			}
		}
	}
	c.waiters = remaining
	return due
}

func runDue(due []func()) {
	for _, fn := range due {
		fn()
	}
}

// Stop cancels a pending fake waiter.
func (w *waiter) Stop() bool {
	w.clock.mu.Lock()
	defer w.clock.mu.Unlock()
	if w.stopped || w.fired {
		return false
	}
	w.stopped = true
	return true
}
