package exclusion

import (
	"context"
	"sort"
	"sync"

	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

// MemoryStore is an in-memory ExclusionStore.
type MemoryStore struct {
	mu    sync.RWMutex
	pairs []*models.ExcludedPair
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Insert(_ context.Context, pair *models.ExcludedPair) error {
	if pair == nil || pair.FirstCustomerID == "" || pair.SecondCustomerID == "" {
		return dErrors.New(dErrors.CodeValidation, "excluded pair needs two customer ids")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *pair
	s.pairs = append(s.pairs, &clone)
	return nil
}

func (s *MemoryStore) IsExcluded(_ context.Context, a, b id.CustomerID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, pair := range s.pairs {
		if pair.Matches(a, b) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) DeleteMentioning(_ context.Context, cuid id.CustomerID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.pairs[:0]
	removed := 0
	for _, pair := range s.pairs {
		if pair.Mentions(cuid) {
			removed++
			continue
		}
		kept = append(kept, pair)
	}
	s.pairs = kept
	return removed, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.ExcludedPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ExcludedPair, 0, len(s.pairs))
	for _, pair := range s.pairs {
		clone := *pair
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstCustomerID != out[j].FirstCustomerID {
			return out[i].FirstCustomerID < out[j].FirstCustomerID
		}
		return out[i].SecondCustomerID < out[j].SecondCustomerID
	})
	return out, nil
}
