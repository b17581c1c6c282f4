package blobs

import (
	"context"
	"sort"
	"sync"
)

// Memory keeps blobs in a map. A fault hook can fail selected operations.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
	hook func(op, key string) error
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// SetFaultHook installs h; nil removes it.
func (m *Memory) SetFaultHook(h func(op, key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = h
}

func (m *Memory) fault(op, key string) error {
	if m.hook == nil {
		return nil
	}
	return m.hook(op, key)
}

func (m *Memory) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("put", key); err != nil {
		return err
	}
	m.data[key] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fault("get", key); err != nil {
		return nil, err
	}
	b, ok := m.data[key]
	if !ok {
		return nil, notFound(key)
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("delete", key); err != nil {
		return err
	}
	delete(m.data, key)
	return nil
}

// Keys lists stored keys in order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
