package cache

import (
	"sync"
	"time"
)

// MemoryCache is an in-memory, TTL-expiring implementation of Cache. A
// zero TTL means entries never expire. Entries are lazily evicted on
// Get; there is no background sweep.
type MemoryCache struct {
	mu   sync.RWMutex
	ttl  time.Duration
	data map[string]entry
}

type entry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryCache creates a cache whose entries expire after ttl. Pass 0
// for entries that never expire.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, data: make(map[string]entry)}
}

func (c *MemoryCache) Get(key string) (string, bool) {
	c.mu.RLock()
	e, exists := c.data[key]
	c.mu.RUnlock()
	if !exists {
		return "", false
	}
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
		return "", false
	}
	return e.value, true
}

func (c *MemoryCache) Put(key string, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}
	c.data[key] = entry{value: value, expiresAt: expiresAt}
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]entry)
}

func (c *MemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
