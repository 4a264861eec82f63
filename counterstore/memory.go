package counterstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store implementation for testing and for
// single-process deployments that do not need durable ids.
// Thread-safe for concurrent reads and writes.
type MemoryStore struct {
	mu       sync.RWMutex
	counters map[string]int64
}

// NewMemoryStore creates a new in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]int64),
	}
}

// ReadCurrentValue implements Store.
func (m *MemoryStore) ReadCurrentValue(ctx context.Context, name string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.counters[name]
	return v, ok, nil
}

// CreateIfAbsent implements Store.
func (m *MemoryStore) CreateIfAbsent(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.counters[name]; !ok {
		m.counters[name] = 0
	}
	return nil
}

// ConditionalAdvance implements Store.
func (m *MemoryStore) ConditionalAdvance(ctx context.Context, name string, expected, next int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.counters[name]
	if !ok || v != expected {
		return false, nil
	}
	m.counters[name] = next
	return true, nil
}

// List implements Lister.
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.counters))
	for name := range m.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Set overwrites the counter of name unconditionally.
// Intended for seeding and for tests.
func (m *MemoryStore) Set(name string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters[name] = value
}
