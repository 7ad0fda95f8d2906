package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a TTL map. Expired entries are dropped on read and swept on
// write once per sweep interval, so no background goroutine is needed.
type Cache[V any] struct {
	mu        sync.Mutex
	items     map[string]entry[V]
	ttl       time.Duration
	maxItems  int
	lastSweep time.Time
	now       func() time.Time
}

// New returns a cache holding at most maxItems entries (0 means unbounded).
func New[V any](ttl time.Duration, maxItems int) *Cache[V] {
	return &Cache[V]{
		items:    make(map[string]entry[V]),
		ttl:      ttl,
		maxItems: maxItems,
		now:      time.Now,
	}
}

func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) > c.ttl || (c.maxItems > 0 && len(c.items) >= c.maxItems) {
		c.sweep(now)
	}
	if c.maxItems > 0 && len(c.items) >= c.maxItems {
		c.evictOldest()
	}
	c.items[key] = entry[V]{value: value, expiresAt: now.Add(c.ttl)}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.items, key)
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[V]) sweep(now time.Time) {
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
		}
	}
	c.lastSweep = now
}

func (c *Cache[V]) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.items {
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	delete(c.items, oldestKey)
}
