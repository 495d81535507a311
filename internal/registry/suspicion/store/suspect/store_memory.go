package suspect

import (
	"context"
	"sort"
	"sync"

	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

// MemoryStore is an in-memory SuspectStore keyed by customer id.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[id.CustomerID]*models.SuspiciousIdentity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[id.CustomerID]*models.SuspiciousIdentity)}
}

func (s *MemoryStore) Get(_ context.Context, cuid id.CustomerID) (*models.SuspiciousIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[cuid]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no suspicion for customer %s", cuid)
	}
	return cloneRow(row), nil
}

func (s *MemoryStore) Upsert(_ context.Context, suspect *models.SuspiciousIdentity) error {
	if suspect == nil || suspect.CustomerID == "" {
		return dErrors.New(dErrors.CodeValidation, "suspicion row needs a customer id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.rows[suspect.CustomerID]; ok {
		updated := cloneRow(existing)
		updated.RuleCode = suspect.RuleCode
		s.rows[suspect.CustomerID] = updated
		return nil
	}
	s.rows[suspect.CustomerID] = cloneRow(suspect)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, cuid id.CustomerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[cuid]; !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "no suspicion for customer %s", cuid)
	}
	delete(s.rows, cuid)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.SuspiciousIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.SuspiciousIdentity, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, cloneRow(row))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

func cloneRow(row *models.SuspiciousIdentity) *models.SuspiciousIdentity {
	clone := *row
	clone.Lock = nil
	return &clone
}
