package testutil

import (
	"sync"
	"time"
)

// DefaultStart is the wall time a ManualClock starts at when none is given.
var DefaultStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ManualClock is a wall clock that only moves when told to. Delayed retries
// and intervention timeouts fire when a test advances it past their due time.
//
// Thread-safety: All methods are safe for concurrent use.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock at start, or at DefaultStart if start is zero.
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = DefaultStart
	}
	return &ManualClock{now: start.UTC()}
}

// Now returns the current manual time. Suitable as engine.WithNow(c.Now).
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
