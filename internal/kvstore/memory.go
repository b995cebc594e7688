package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-memory implementation of Store.
// It is safe for concurrent use. Data is lost on restart - for persistence,
// use the SQLite or GCS backed stores.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates a new in-memory key-value store.
func NewMemory() *Memory {
	return &Memory{
		values: make(map[string]string),
	}
}

// Get implements the Store interface.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements the Store interface.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	return nil
}

// Delete implements the Store interface.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

// Keys implements the Store interface.
func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Snapshot returns a copy of every stored entry.
func (m *Memory) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Ensure Memory implements Store interface.
var _ Store = (*Memory)(nil)
