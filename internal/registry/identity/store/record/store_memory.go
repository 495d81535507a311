package record

import (
	"context"
	"sort"
	"strings"
	"sync"

	"civreg/internal/registry/duplicates"
	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

// MemoryStore is an in-memory identity store. It also serves as the search
// collaborator for single-node deployments: FindCandidates answers duplicate
// queries by scanning the live population.
type MemoryStore struct {
	mu         sync.RWMutex
	byCustomer map[id.CustomerID]*models.Identity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byCustomer: make(map[id.CustomerID]*models.Identity)}
}

func (s *MemoryStore) GetByCustomerID(_ context.Context, cuid id.CustomerID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.byCustomer[cuid]
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "identity %s not found", cuid)
	}
	return identity.Clone(), nil
}

func (s *MemoryStore) GetByID(_ context.Context, identityID id.IdentityID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, identity := range s.byCustomer {
		if identity.ID == identityID {
			return identity.Clone(), nil
		}
	}
	return nil, dErrors.Newf(dErrors.CodeNotFound, "identity %s not found", identityID)
}

func (s *MemoryStore) GetByConnectionID(_ context.Context, connID id.ConnectionID) (*models.Identity, error) {
	if connID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "connection id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, identity := range s.byCustomer {
		if identity.ConnectionID == connID {
			return identity.Clone(), nil
		}
	}
	return nil, dErrors.Newf(dErrors.CodeNotFound, "no identity with connection id %s", connID)
}

// Save upserts the whole aggregate. A connection id already held by a
// different identity is a conflict.
func (s *MemoryStore) Save(_ context.Context, identity *models.Identity) error {
	if identity == nil || identity.CustomerID == "" {
		return dErrors.New(dErrors.CodeValidation, "identity needs a customer id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if identity.ConnectionID != "" {
		for cuid, other := range s.byCustomer {
			if cuid != identity.CustomerID && other.ConnectionID == identity.ConnectionID {
				return dErrors.Newf(dErrors.CodeConflict,
					"connection id %s already bound to identity %s", identity.ConnectionID, cuid)
			}
		}
	}
	s.byCustomer[identity.CustomerID] = identity.Clone()
	return nil
}

// Delete hard-removes the record. Only the purge flow calls this.
func (s *MemoryStore) Delete(_ context.Context, cuid id.CustomerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byCustomer[cuid]; !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "identity %s not found", cuid)
	}
	delete(s.byCustomer, cuid)
	return nil
}

// ListActive pages through non-merged, non-deleted identities in customer id
// order.
func (s *MemoryStore) ListActive(_ context.Context, offset, limit int) ([]*models.Identity, error) {
	if offset < 0 || limit <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "offset must be non-negative and limit positive")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]*models.Identity, 0, len(s.byCustomer))
	for _, identity := range s.byCustomer {
		if identity.IsActive() {
			active = append(active, identity)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CustomerID < active[j].CustomerID })

	if offset >= len(active) {
		return nil, nil
	}
	end := offset + limit
	if end > len(active) {
		end = len(active)
	}
	out := make([]*models.Identity, 0, end-offset)
	for _, identity := range active[offset:end] {
		out = append(out, identity.Clone())
	}
	return out, nil
}

// FindCandidates scans the active population for identities whose attributes
// satisfy every queried key. Exact keys compare case-insensitively; fuzzy
// keys additionally ignore spaces and hyphens.
func (s *MemoryStore) FindCandidates(_ context.Context, query duplicates.SearchQuery) ([]models.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Candidate
	for cuid, identity := range s.byCustomer {
		if cuid == query.ExcludeCustomerID || !identity.IsActive() {
			continue
		}
		if matchesAll(identity, query) {
			out = append(out, models.Candidate{CustomerID: cuid, Score: 1.0})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

func matchesAll(identity *models.Identity, query duplicates.SearchQuery) bool {
	for key, expected := range query.Attributes {
		attr := identity.Attribute(key)
		if attr == nil || attr.Blank() {
			return false
		}
		switch query.MatchTypes[key] {
		case models.MatchFuzzy:
			if normalize(attr.Value) != normalize(expected) {
				return false
			}
		default:
			if !strings.EqualFold(attr.Value, expected) {
				return false
			}
		}
	}
	return len(query.Attributes) > 0
}

func normalize(v string) string {
	v = strings.ToLower(v)
	v = strings.ReplaceAll(v, " ", "")
	v = strings.ReplaceAll(v, "-", "")
	return v
}
