package timectrl

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeReversal is returned when a clock is asked to move backwards.
var ErrTimeReversal = errors.New("simulation time cannot move backwards")

// SimClock is an interface for accessing simulation time. Components depend
// on it rather than on a concrete clock so tests can supply their own.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Clock is a discrete simulation clock. Time only moves when the event loop
// advances it, so a run is deterministic regardless of wall-clock speed.
type Clock struct {
	mu    sync.RWMutex
	start time.Time
	now   time.Time
}

// NewClock constructs a clock positioned at start.
func NewClock(start time.Time) *Clock {
	return &Clock{start: start, now: start}
}

// Now returns the current simulation time. Implements SimClock.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Start returns the time the clock was created at.
func (c *Clock) Start() time.Time {
	return c.start
}

// Elapsed returns the simulation time elapsed since Start.
func (c *Clock) Elapsed() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now.Sub(c.start)
}

// AdvanceTo moves the clock forward to t. Advancing to the current time is
// a no-op.
func (c *Clock) AdvanceTo(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.now) {
		return fmt.Errorf("%w: now=%s target=%s", ErrTimeReversal, c.now.Format(time.RFC3339Nano), t.Format(time.RFC3339Nano))
	}
	c.now = t
	return nil
}
