package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a deterministic Clock. Time stands still until Advance is called.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline order,
// on the goroutine that called Advance. Callbacks must not call Advance.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeTimer
}

// NewFake returns a Fake clock initialised to the given time.
func NewFake(initial time.Time) *Fake {
	return &Fake{current: initial}
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	callback func()
	done     bool // fired or stopped
}

// Stop implements Timer.
func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Now returns the current fake time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f to run when the clock is advanced past now+d.
// A non-positive d still waits for the next Advance call.
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &fakeTimer{
		clock:    c,
		deadline: c.current.Add(d),
		callback: f,
	}
	c.waiters = append(c.waiters, t)
	return t
}

// Advance moves the clock forward by d and runs every pending callback whose
// deadline is not after the new time.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	var due []*fakeTimer
	pending := c.waiters[:0]
	for _, t := range c.waiters {
		switch {
		case t.done:
			// dropped
		case !t.deadline.After(now):
			t.done = true
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	c.waiters = pending
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		t.callback()
	}
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.waiters {
		if !t.done {
			n++
		}
	}
	return n
}
