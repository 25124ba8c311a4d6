// SPDX-License-Identifier: MIT

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_GetSet(t *testing.T) {
	c := New[string, string](0)

	c.Set("key1", "value1", 5*time.Minute)

	val, ok := c.Get("key1")
	require.True(t, ok, "expected to find key1")
	assert.Equal(t, "value1", val)

	_, ok = c.Get("nonexistent")
	assert.False(t, ok, "expected not to find nonexistent key")
}

func TestCache_Freshness(t *testing.T) {
	c := New[string, int](0)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", 42, time.Second)

	val, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, val)

	// Just under the TTL the entry is still fresh.
	c.now = func() time.Time { return now.Add(999 * time.Millisecond) }
	_, ok = c.Get("k")
	assert.True(t, ok)

	// At and beyond the TTL it behaves as absent.
	c.now = func() time.Time { return now.Add(1100 * time.Millisecond) }
	_, ok = c.Get("k")
	assert.False(t, ok, "expected entry to be expired")
}

func TestCache_ReplaceResetsClock(t *testing.T) {
	c := New[string, string](0)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("k", "old", time.Second)

	// A fresh write replaces the prior entry entirely.
	c.now = func() time.Time { return now.Add(900 * time.Millisecond) }
	c.Set("k", "new", time.Second)

	c.now = func() time.Time { return now.Add(1500 * time.Millisecond) }
	val, ok := c.Get("k")
	require.True(t, ok, "replacement entry should be fresh from its own write time")
	assert.Equal(t, "new", val)
}

func TestCache_Invalidate(t *testing.T) {
	c := New[string, string](0)

	c.Set("key1", "value1", 5*time.Minute)
	c.Set("key2", "value2", 5*time.Minute)

	c.Invalidate("key1")
	_, ok := c.Get("key1")
	assert.False(t, ok)
	_, ok = c.Get("key2")
	assert.True(t, ok)

	c.InvalidateAll()
	_, ok = c.Get("key2")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().CurrentSize)
}

func TestCache_Stats(t *testing.T) {
	c := New[string, string](0)

	c.Set("key1", "value1", 5*time.Minute)
	c.Set("key2", "value2", 5*time.Minute)

	c.Get("key1")        // hit
	c.Get("key1")        // hit
	c.Get("nonexistent") // miss

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(2), stats.Sets)
	assert.Equal(t, 2, stats.CurrentSize)
}

func TestCache_Janitor(t *testing.T) {
	c := New[string, string](20 * time.Millisecond)
	defer c.Stop()

	c.Set("short1", "v", 10*time.Millisecond)
	c.Set("short2", "v", 10*time.Millisecond)
	c.Set("long", "v", 10*time.Second)

	assert.Eventually(t, func() bool {
		stats := c.Stats()
		return stats.CurrentSize == 1 && stats.Evictions >= 2
	}, time.Second, 10*time.Millisecond, "janitor should evict expired entries")

	_, ok := c.Get("long")
	assert.True(t, ok, "long-lived entry should survive the sweep")
}

func TestCache_ConcurrentAccess(_ *testing.T) {
	c := New[string, int](time.Minute)
	defer c.Stop()
	done := make(chan bool)

	go func() {
		for i := 0; i < 200; i++ {
			c.Set("key", i, 5*time.Minute)
		}
		done <- true
	}()
	go func() {
		for i := 0; i < 200; i++ {
			c.Get("key")
		}
		done <- true
	}()

	<-done
	<-done
}

func TestEntry_Expired(t *testing.T) {
	now := time.Now()
	e := Entry[string]{Value: "v", StoredAt: now, TTL: time.Second}

	assert.False(t, e.Expired(now))
	assert.False(t, e.Expired(now.Add(999*time.Millisecond)))
	assert.True(t, e.Expired(now.Add(time.Second)), "expiry boundary is inclusive")
	assert.True(t, e.Expired(now.Add(2*time.Second)))
}

func BenchmarkCache_Set(b *testing.B) {
	c := New[string, string](0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set("key", "value", 5*time.Minute)
	}
}

func BenchmarkCache_Get(b *testing.B) {
	c := New[string, string](0)
	c.Set("key", "value", 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get("key")
	}
}
