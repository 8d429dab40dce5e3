package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory.
//
// Suitable for tests and for a single elevated instance that can afford
// to forget sessions on restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Get returns a copy of the identity's record.
func (m *MemoryStore) Get(ctx context.Context, ownerID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[ownerID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Update applies fn under the store lock.
func (m *MemoryStore) Update(ctx context.Context, ownerID string, fn MutateFunc) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.records[ownerID]
	next := fn(cur.Clone())
	if next == nil {
		return cur.Clone(), nil
	}

	next.OwnerID = ownerID
	next.Version = 1
	if cur != nil {
		next.Version = cur.Version + 1
	}
	next.UpdatedAt = time.Now().UTC()
	m.records[ownerID] = next.Clone()
	return next, nil
}
