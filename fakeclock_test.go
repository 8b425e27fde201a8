package genqueue

import "sync"

// fakeClock is a deterministic Clock for tests that need to control the
// passage of time precisely (retry backoff windows, purge thresholds).
type fakeClock struct {
	mu    sync.Mutex
	epoch int64
	mono  int64
}

func (c *fakeClock) EpochNow() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *fakeClock) MonotonicNow() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mono
}

func (c *fakeClock) advance(monoNs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mono += monoNs
}
