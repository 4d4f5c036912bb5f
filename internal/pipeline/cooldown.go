package pipeline

import (
	"sync"
	"time"
)

// Cooldown suppresses repeated anomaly alerts for the same metric inside a
// configured interval. Zero interval allows everything.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(metricName string, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[metricName]; ok {
		if now.Sub(ts) < cooldown {
			return false
		}
	}
	c.last[metricName] = now
	return true
}

func (c *Cooldown) Reset() {
	c.mu.Lock()
	c.last = make(map[string]time.Time)
	c.mu.Unlock()
}
