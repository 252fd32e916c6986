package hashstore

import (
	"context"
	"sync"
)

// memoryStore keeps blobs in process memory. Used by tests and development;
// production runs on the minio backend.
type memoryStore struct {
	mu    sync.RWMutex
	blobs map[Address][]byte
}

// NewMemoryStore creates an in-memory content-addressed store.
func NewMemoryStore() Store {
	return &memoryStore{blobs: make(map[Address][]byte)}
}

func (m *memoryStore) Put(ctx context.Context, data []byte) (Address, error) {
	addr := ComputeAddress(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[addr]; !ok {
		stored := make([]byte, len(data))
		copy(stored, data)
		m.blobs[addr] = stored
	}
	return addr, nil
}

func (m *memoryStore) Get(ctx context.Context, addr Address) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.blobs[addr]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(addr)
	}
	out := make([]byte, len(data))
	copy(out, data)
	if err := verify(addr, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *memoryStore) Has(ctx context.Context, addr Address) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[addr]
	return ok, nil
}
