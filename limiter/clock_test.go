package limiter

import (
	"sync"
	"time"
)

// manualClock is a Clock that only moves when told to.
type manualClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
}

func newManualClock() *manualClock {
	start := time.Unix(1_700_000_000, 0)
	return &manualClock{start: start, now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// At moves the clock to start+offset.
func (c *manualClock) At(offset time.Duration) {
	c.mu.Lock()
	c.now = c.start.Add(offset)
	c.mu.Unlock()
}
