// Package cache provides a time-to-live keyed cache shared by concurrent
// routing requests. It is a performance optimization only: a restart may
// safely drop every entry.
package cache

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache is a TTL key/value cache. Reads after expiry behave as a miss.
// There is no eviction beyond TTL; key cardinality is bounded by the
// callers' key derivation.
type Cache[T any] struct {
	mu      sync.RWMutex
	entries map[string]entry[T]
}

func New[T any]() *Cache[T] {
	return &Cache[T]{
		entries: make(map[string]entry[T]),
	}
}

// Get returns the cached value for key, or the zero value and false when the
// key is absent or expired. Expired entries are removed lazily.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		var zero T
		return zero, false
	}

	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it.
		if cur, still := c.entries[key]; still && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()

		var zero T
		return zero, false
	}

	return e.value, true
}

// Set stores value under key for ttl. Concurrent writers race benignly;
// the last writer wins.
func (c *Cache[T]) Set(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = entry[T]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
}

// Len reports the number of entries currently stored, expired or not.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
