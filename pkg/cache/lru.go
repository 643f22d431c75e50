// Package cache provides a small in-memory cache with TTL and max-size
// eviction, used for compiled policy conditions and the active policy set.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value      V
	expiresAt  time.Time
	insertedAt time.Time
}

// LRUCache is a thread-safe cache with TTL and max-size eviction. When the
// cache is full the entry inserted first is evicted. Expired entries are
// dropped lazily on Get.
type LRUCache[K comparable, V any] struct {
	mu      sync.Mutex
	items   map[K]*entry[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewLRUCache creates a cache holding at most maxSize entries for ttl each.
func NewLRUCache[K comparable, V any](maxSize int, ttl time.Duration) *LRUCache[K, V] {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LRUCache[K, V]{
		items:   make(map[K]*entry[V], maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces time.Now; used by tests.
func (c *LRUCache[K, V]) WithClock(now func() time.Time) *LRUCache[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// Get returns the value for key, or false when it is missing or expired.
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
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

// Set stores value under key, evicting the oldest entry when full.
func (c *LRUCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, ok := c.items[key]; !ok && len(c.items) >= c.maxSize {
		c.evictOldest()
	}
	c.items[key] = &entry[V]{value: value, expiresAt: now.Add(c.ttl), insertedAt: now}
}

// GetOrLoad returns the cached value for key or stores the result of load.
// Load errors are returned and nothing is cached.
func (c *LRUCache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

// Invalidate removes key.
func (c *LRUCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// InvalidateAll removes every entry.
func (c *LRUCache[K, V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[K]*entry[V], c.maxSize)
}

// Size returns the number of entries, including expired ones not yet
// dropped.
func (c *LRUCache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// evictOldest must be called with c.mu held.
func (c *LRUCache[K, V]) evictOldest() {
	var (
		oldestKey  K
		oldestTime time.Time
		found      bool
	)
	for k, e := range c.items {
		if !found || e.insertedAt.Before(oldestTime) {
			oldestKey, oldestTime, found = k, e.insertedAt, true
		}
	}
	if found {
		delete(c.items, oldestKey)
	}
}
