package store

import "sync"

// getterCache memoizes derived views behind composite string keys (view name
// plus the identifiers and collection lengths it depends on). Invalidation is
// coarse: any mutation drops the whole cache. Recomputation is cheap relative
// to mutation frequency, so per-key tracking isn't worth the bookkeeping.
type getterCache struct {
	mu      sync.Mutex
	entries map[string]any
}

func newGetterCache() *getterCache {
	return &getterCache{entries: make(map[string]any)}
}

func (c *getterCache) get(key string, build func() any) any {
	c.mu.Lock()
	if v, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	// Build outside the cache lock; the store lock already serializes
	// access to the underlying maps.
	v := build()

	c.mu.Lock()
	c.entries[key] = v
	c.mu.Unlock()
	return v
}

func (c *getterCache) invalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]any)
	c.mu.Unlock()
}

func (c *getterCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
