package contract

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory acceptance store for development and tests.
type MemoryStore struct {
	acceptances map[string]*Acceptance
	mu          sync.RWMutex
}

// NewMemoryStore creates a new in-memory acceptance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{acceptances: make(map[string]*Acceptance)}
}

func (m *MemoryStore) Put(ctx context.Context, a *Acceptance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *a
	cp.Clauses = make(map[string]bool, len(a.Clauses))
	for k, v := range a.Clauses {
		cp.Clauses[k] = v
	}
	m.acceptances[a.BookingID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, bookingID string) (*Acceptance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.acceptances[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	cp.Clauses = make(map[string]bool, len(a.Clauses))
	for k, v := range a.Clauses {
		cp.Clauses[k] = v
	}
	return &cp, nil
}
