package kvtable

import (
	"context"
	"sync"
)

// MemoryTable keeps payloads in process memory. Contents are lost on exit.
type MemoryTable struct {
	mu   sync.RWMutex
	rows map[string][]byte
}

// NewMemoryTable creates an empty in-memory table.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{rows: make(map[string][]byte)}
}

// Get implements Table.
func (m *MemoryTable) Get(_ context.Context, key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.rows[string(key.Binding())]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Put implements Table.
func (m *MemoryTable) Put(_ context.Context, key Key, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows[string(key.Binding())] = append([]byte(nil), value...)
	return nil
}

// Delete implements Table.
func (m *MemoryTable) Delete(_ context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := string(key.Binding())
	if _, ok := m.rows[k]; !ok {
		return ErrNotFound
	}
	delete(m.rows, k)
	return nil
}

// Ping implements Table.
func (m *MemoryTable) Ping(context.Context) error { return nil }

// Close implements Table.
func (m *MemoryTable) Close() error { return nil }
