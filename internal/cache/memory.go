package cache

import (
	"context"
	"sync"
	"time"

	"github.com/skatterlabs/skatter/internal/metrics"
	"github.com/skatterlabs/skatter/internal/query"
)

type memoryEntry struct {
	result    query.ReducedResult
	expiresAt time.Time
}

// memoryCache is a bounded in-process store. Entries expire after the
// TTL; above MaxEntries an arbitrary entry is dropped to make room.
type memoryCache struct {
	ttl        time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemory(ttl time.Duration, maxEntries int) Cache {
	return &memoryCache{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]memoryEntry),
	}
}

func (c *memoryCache) Get(_ context.Context, fingerprint string) (query.ReducedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fingerprint]
	if !ok {
		metrics.NewCacheLookup(false)
		return query.ReducedResult{}, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, fingerprint)
		metrics.NewCacheLookup(false)
		return query.ReducedResult{}, false
	}

	metrics.NewCacheLookup(true)
	return entry.result, true
}

func (c *memoryCache) Put(_ context.Context, fingerprint string, result query.ReducedResult) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[fingerprint]; !ok && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}

	c.entries[fingerprint] = memoryEntry{
		result:    result,
		expiresAt: now.Add(c.ttl),
	}
}

func (c *memoryCache) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]memoryEntry)
}

// evictLocked drops expired entries first and falls back to one
// arbitrary victim when everything is still fresh.
func (c *memoryCache) evictLocked(now time.Time) {
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}

	for key := range c.entries {
		delete(c.entries, key)
		return
	}
}
