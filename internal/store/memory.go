package store

import (
	"context"
	"sync"
	"time"
)

type containmentKeyPair struct {
	device string
	zone   string
}

// MemoryStore is a process-local containment store. State is lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	since map[containmentKeyPair]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{since: make(map[containmentKeyPair]time.Time)}
}

func (m *MemoryStore) Get(_ context.Context, deviceID, zone string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.since[containmentKeyPair{deviceID, zone}]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *MemoryStore) Set(_ context.Context, deviceID, zone string, insideSince *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := containmentKeyPair{deviceID, zone}
	if insideSince == nil {
		delete(m.since, k)
		return nil
	}
	m.since[k] = *insideSince
	return nil
}
