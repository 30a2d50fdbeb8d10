package time

import (
	"sync"
	"time"
)

// source of lock acquisition and record timestamps
// swapped for a manual clock in tests so lock times are predictable
type Clock interface {
	Now() time.Time
}

// wall clock, truncated to milliseconds so timestamps survive json and sqlite round trips
type SystemClock struct{}

func NewClock() SystemClock {
	return SystemClock{}
}

func (SystemClock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// manual clock that only moves when told to
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.UTC()}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// moves the clock forward by d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
