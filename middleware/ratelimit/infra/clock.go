package infra

import (
	"sync"
	"time"
)

// SystemClock usa time.Now (com leitura monotônica).
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock é um relógio controlado manualmente, para testes determinísticos.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance avança o relógio. Deltas negativos são ignorados (o tempo não volta).
func (c *ManualClock) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
