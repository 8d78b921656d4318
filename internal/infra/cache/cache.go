// Package cache provides a bounded in-memory TTL cache.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSize bounds the cache when no size is configured.
const DefaultSize = 1024

// LRU is a size-bounded cache whose entries expire after a fixed TTL.
// Safe for concurrent use.
type LRU[T any] struct {
	lru *expirable.LRU[string, T]
}

// New creates a cache holding at most size entries for ttl each.
func New[T any](size int, ttl time.Duration) *LRU[T] {
	if size <= 0 {
		size = DefaultSize
	}
	return &LRU[T]{lru: expirable.NewLRU[string, T](size, nil, ttl)}
}

// Get retrieves a value. Returns false if not found or expired.
func (c *LRU[T]) Get(key string) (T, bool) {
	return c.lru.Get(key)
}

// Set stores a value with the configured TTL.
func (c *LRU[T]) Set(key string, value T) {
	c.lru.Add(key, value)
}

// Delete removes a value.
func (c *LRU[T]) Delete(key string) {
	c.lru.Remove(key)
}

// Purge drops every entry.
func (c *LRU[T]) Purge() {
	c.lru.Purge()
}

// Len is the number of live entries.
func (c *LRU[T]) Len() int {
	return c.lru.Len()
}
