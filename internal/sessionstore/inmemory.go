package sessionstore

import (
	"context"
	"sync"
)

// InMemoryKV keeps slots in process memory for local/dev use.
type InMemoryKV struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewInMemoryKV() *InMemoryKV {
	return &InMemoryKV{items: make(map[string][]byte)}
}

func (m *InMemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *InMemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = append([]byte(nil), value...)
	return nil
}

func (m *InMemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *InMemoryKV) Close() error { return nil }
