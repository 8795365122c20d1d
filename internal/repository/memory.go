package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryDedupStore is the in-process fallback dedup store. Entries
// expire lazily on access.
type MemoryDedupStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{entries: make(map[string]time.Time)}
}

func (m *MemoryDedupStore) SeenEvent(ctx context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	expiry, ok := m.entries[key]
	return ok && now.Before(expiry), nil
}

func (m *MemoryDedupStore) MarkEvent(ctx context.Context, key string, ttl time.Duration) error {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = now.Add(ttl)

	// Sweep expired entries occasionally to bound growth.
	if len(m.entries) > 10000 {
		for k, exp := range m.entries {
			if now.After(exp) {
				delete(m.entries, k)
			}
		}
	}
	return nil
}
