// SPDX-License-Identifier: MIT

// Package cache provides an in-memory TTL cache and a persistent snapshot
// store used for instant cold starts.
package cache

import (
	"sync"
	"time"
)

// Entry wraps a cached value with its write time and time-to-live.
type Entry[V any] struct {
	Value    V
	StoredAt time.Time
	TTL      time.Duration
}

// Expired reports whether the entry is stale relative to now.
func (e Entry[V]) Expired(now time.Time) bool {
	return now.Sub(e.StoredAt) >= e.TTL
}

// Stats holds cache performance counters.
type Stats struct {
	Hits        int64 // successful Get operations
	Misses      int64 // failed Get operations (absent or expired)
	Sets        int64 // Set operations
	Evictions   int64 // expired entries removed by the janitor
	CurrentSize int   // current number of entries, expired included
}

// Cache is a thread-safe keyed TTL cache. Expired entries behave as absent on
// Get; the janitor removes them lazily.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]Entry[V]
	stats   Stats
	now     func() time.Time
	janitor *janitor
}

// New creates a cache. If cleanupInterval is positive a background janitor
// goroutine evicts expired entries at that interval; call Stop to end it.
func New[K comparable, V any](cleanupInterval time.Duration) *Cache[K, V] {
	c := &Cache[K, V]{
		entries: make(map[K]Entry[V]),
		now:     time.Now,
	}
	if cleanupInterval > 0 {
		c.janitor = &janitor{
			interval: cleanupInterval,
			stop:     make(chan struct{}),
		}
		go c.janitor.run(c.deleteExpired)
	}
	return c
}

// Get returns the value for key if present and fresh.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found || e.Expired(c.now()) {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	return e.Value, true
}

// Set inserts or replaces the entry for key unconditionally. The previous
// entry, if any, is replaced whole; entries are never mutated in place.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry[V]{Value: value, StoredAt: c.now(), TTL: ttl}
	c.stats.Sets++
}

// Invalidate removes the entry for key immediately.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll removes every entry immediately.
func (c *Cache[K, V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]Entry[V])
}

// Stats returns a copy of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

// Stop ends the janitor goroutine, if one was started. Safe to call more
// than once.
func (c *Cache[K, V]) Stop() {
	if c.janitor != nil {
		c.janitor.stopOnce.Do(func() { close(c.janitor.stop) })
	}
}

func (c *Cache[K, V]) deleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	count := 0
	for key, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, key)
			count++
		}
	}
	c.stats.Evictions += int64(count)
	return count
}

// janitor performs periodic cleanup of expired entries.
type janitor struct {
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func (j *janitor) run(sweep func() int) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweep()
		case <-j.stop:
			return
		}
	}
}
