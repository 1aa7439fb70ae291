package actions

import (
	"sync"
	"time"
)

// statsCache caches computed stats per filter key with a short TTL. Entries
// expire rather than invalidate: the dashboard tolerates briefly stale
// counts, and the log remains the source of truth.
type statsCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]statsEntry
}

type statsEntry struct {
	stats    DashboardStats
	cachedAt time.Time
}

func newStatsCache(ttl time.Duration) *statsCache {
	return &statsCache{
		ttl:     ttl,
		entries: make(map[string]statsEntry),
	}
}

func (c *statsCache) get(key string) (DashboardStats, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Since(entry.cachedAt) > c.ttl {
		return DashboardStats{}, false
	}
	return entry.stats, true
}

func (c *statsCache) set(key string, stats DashboardStats) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Drop expired entries opportunistically so the map stays bounded by
	// the set of filters in active use.
	for k, entry := range c.entries {
		if time.Since(entry.cachedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[key] = statsEntry{stats: stats, cachedAt: time.Now()}
}
