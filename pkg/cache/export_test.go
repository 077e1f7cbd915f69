package cache

import "time"

// SetClock replaces the cache's time source.
func (c *InMemoryPresenceCache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
