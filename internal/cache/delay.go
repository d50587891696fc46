package cache

import "time"

// DelayCache keeps the last measured latency per proxy name for a bounded time.
// Keys are proxy names as reported by the core; values are milliseconds.
type DelayCache struct {
	store Store
	ttl   time.Duration
}

// NewDelayCache stores delays in the "delay" namespace of store.
func NewDelayCache(store Store, ttl time.Duration) *DelayCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &DelayCache{store: store.Namespace("delay"), ttl: ttl}
}

// UpdateDelay records a measurement. Non-positive values are ignored so a failed
// probe never evicts a still-valid measurement.
func (c *DelayCache) UpdateDelay(name string, delay int) {
	if name == "" || delay <= 0 {
		return
	}
	c.store.Set(name, delay, c.ttl)
}

// Delay returns the cached delay for name if it has not expired.
func (c *DelayCache) Delay(name string) (int, bool) {
	raw, ok := c.store.Get(name)
	if !ok {
		return 0, false
	}
	delay, ok := raw.(int)
	return delay, ok
}

// AllValidDelays returns every unexpired entry.
func (c *DelayCache) AllValidDelays() map[string]int {
	items := c.store.Items()
	result := make(map[string]int, len(items))
	for name, raw := range items {
		if delay, ok := raw.(int); ok && delay > 0 {
			result[name] = delay
		}
	}
	return result
}

// Clear drops every cached delay, used when switching profiles.
func (c *DelayCache) Clear() {
	c.store.Flush()
}
