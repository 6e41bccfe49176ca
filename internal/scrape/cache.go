package scrape

import (
	"sync"
	"time"
)

// resultCache is a small TTL cache for assembled scrape results.
// A zero TTL disables caching entirely.
type resultCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	result   string
	cachedAt time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{ttl: ttl, entries: map[string]cacheEntry{}}
}

func (c *resultCache) Get(key string) (string, bool) {
	if c.ttl <= 0 {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.cachedAt) > c.ttl {
		return "", false
	}
	return entry.result, true
}

func (c *resultCache) Set(key, result string) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, cachedAt: time.Now()}
}
