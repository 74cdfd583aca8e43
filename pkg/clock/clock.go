// Package clock abstracts the time source so cooldowns and expiry can be
// driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time. Production code uses Real(), whose values
// carry a monotonic reading, so durations computed with Sub are not affected
// by wall clock adjustments.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// Real returns the Clock backed by time.Now.
func Real() Clock {
	return realClock{}
}

// FakeClock is a Clock whose time only moves when Advance or Set is called.
// It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// Fake returns a FakeClock initialized to the given time.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d. Negative durations panic: time on a
// monotonic clock never goes backwards.
func (c *FakeClock) Advance(d time.Duration) {
	if d < 0 {
		panic("clock: negative advance")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set jumps the clock to t, which must not be before the current time.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.current) {
		panic("clock: set before current time")
	}
	c.current = t
}
