package audit

import (
	"context"
	"sync"

	id "civreg/pkg/domain"
)

// MemoryStore is an in-memory trail store, append order preserved.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, event)
	return nil
}

func (s *MemoryStore) ListByCustomer(_ context.Context, cuid id.CustomerID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, row := range s.rows {
		if row.CustomerID == cuid || row.MasterCustomerID == cuid || row.ChildCustomerID == cuid {
			out = append(out, row)
		}
	}
	return out, nil
}
