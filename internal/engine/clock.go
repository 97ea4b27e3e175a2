package engine

import (
	"sync"
	"time"
)

// Clock abstracts "now" so backtests run on tape time. Every rest-time,
// throttle and age check in the hot path goes through this, which is
// what makes replays deterministic.
type Clock interface {
	Now() time.Time
}

// WallClock is the live clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// TapeClock is advanced by the scheduler to each replayed event's
// local timestamp.
type TapeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewTapeClock starts at the zero time; the first event sets it.
func NewTapeClock() *TapeClock {
	return &TapeClock{}
}

// Now returns the current tape time.
func (c *TapeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward. Earlier timestamps are ignored so
// out-of-order source stamps cannot rewind time.
func (c *TapeClock) Advance(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}
