package probe

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is a process-local Cache for development and tests. Production
// deployments share results across instances via features/probecache/redis.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	res       Result
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get returns the cached result if it has not expired. Expired entries are
// never returned, matching the cached_until invariant.
func (c *MemoryCache) Get(_ context.Context, key string) (Result, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return Result{}, false, nil
	}
	return entry.res, true, nil
}

// Set stores the result for the given TTL.
func (c *MemoryCache) Set(_ context.Context, key string, res Result, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[key] = memoryEntry{res: res, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}
