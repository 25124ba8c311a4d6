// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStoreMiss is returned by Store.Get when the key is absent or expired.
var ErrStoreMiss = errors.New("cache: store miss")

// Store persists opaque snapshot blobs across process restarts so a cold
// start can render from stale-but-valid data. Implementations must be safe
// for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// MemoryStore is an in-process Store used when no Redis endpoint is
// configured. It does not survive restarts, which keeps the coordinator code
// path identical either way.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry[[]byte]
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry[[]byte]),
		now:     time.Now,
	}
}

// Get returns the stored blob, or ErrStoreMiss when absent or expired.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || e.Expired(s.now()) {
		return nil, ErrStoreMiss
	}
	out := make([]byte, len(e.Value))
	copy(out, e.Value)
	return out, nil
}

// Set stores a copy of value under key.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[key] = Entry[[]byte]{Value: stored, StoredAt: s.now(), TTL: ttl}
	return nil
}

// Delete removes the entry for key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Close is a no-op for the in-process store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
