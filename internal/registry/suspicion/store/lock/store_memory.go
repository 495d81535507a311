package lock

import (
	"context"
	"sync"
	"time"

	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
)

// MemoryStore is an in-memory LockStore. Expiry is checked lazily by
// readers; DeleteExpired reclaims stale records.
type MemoryStore struct {
	mu    sync.RWMutex
	locks map[id.CustomerID]*models.SuspicionLock
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: make(map[id.CustomerID]*models.SuspicionLock)}
}

func (s *MemoryStore) Get(_ context.Context, cuid id.CustomerID) (*models.SuspicionLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lock, ok := s.locks[cuid]
	if !ok {
		return nil, nil
	}
	clone := *lock
	return &clone, nil
}

func (s *MemoryStore) Put(_ context.Context, cuid id.CustomerID, lock *models.SuspicionLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *lock
	s.locks[cuid] = &clone
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, cuid id.CustomerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, cuid)
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for cuid, lock := range s.locks {
		if lock.Expired(now) {
			delete(s.locks, cuid)
			removed++
		}
	}
	return removed, nil
}
