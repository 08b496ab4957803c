package storage

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store and EventLog.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string]map[string][]byte
	events []Event

	// FailWrites makes Put return the error when non-nil.
	FailWrites error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, namespace, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[namespace][key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.data[namespace] = ns
	}
	v := make([]byte, len(value))
	copy(v, value)
	ns[key] = v
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[namespace], key)
	return nil
}

// Clear implements Store.
func (m *MemoryStore) Clear(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, namespace)
	return nil
}

// Keys implements Store.
func (m *MemoryStore) Keys(_ context.Context, namespace string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data[namespace]))
	for k := range m.data[namespace] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// AppendEvent implements EventLog.
func (m *MemoryStore) AppendEvent(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	if len(m.events) > MaxEvents {
		m.events = m.events[len(m.events)-MaxEvents:]
	}
	return nil
}

// RecentEvents implements EventLog.
func (m *MemoryStore) RecentEvents(_ context.Context, n int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.events) {
		n = len(m.events)
	}
	out := make([]Event, 0, n)
	for i := len(m.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.events[i])
	}
	return out, nil
}
