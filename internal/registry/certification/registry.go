// Package certification holds the read-mostly reference caches every write
// consults: certification levels per (certifier, attribute key) and the
// attribute catalog (pivot flags, weights, scoring expansions).
//
// Both caches are explicitly constructed and refreshed on demand; they are
// never mutated mid-request.
package certification

import (
	"context"
	"sync"

	"civreg/internal/registry/models"
	dErrors "civreg/pkg/domain-errors"
)

// LevelKey identifies one certification grant.
type LevelKey struct {
	Certifier string
	Key       models.AttributeKey
}

// LevelSource loads the certification grants from wherever they live.
type LevelSource interface {
	Levels(ctx context.Context) (map[LevelKey]int, error)
}

// Registry answers "at what level does this certifier certify this key".
type Registry struct {
	source LevelSource

	mu     sync.RWMutex
	levels map[LevelKey]int
}

// NewRegistry builds an empty registry; call Refresh before first use.
func NewRegistry(source LevelSource) *Registry {
	return &Registry{
		source: source,
		levels: make(map[LevelKey]int),
	}
}

// Refresh reloads all grants from the source. Cold-start and admin-triggered
// only; readers see either the old or the new snapshot, never a mix.
func (r *Registry) Refresh(ctx context.Context) error {
	levels, err := r.source.Levels(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "refresh certification levels")
	}
	r.mu.Lock()
	r.levels = levels
	r.mu.Unlock()
	return nil
}

// LevelOf resolves the certification level for (certifier, key). An unknown
// pairing is a not-found error: callers must never trust a level supplied by
// the request.
func (r *Registry) LevelOf(certifier string, key models.AttributeKey) (int, error) {
	r.mu.RLock()
	level, ok := r.levels[LevelKey{Certifier: certifier, Key: key}]
	r.mu.RUnlock()
	if !ok {
		return 0, dErrors.Newf(dErrors.CodeNotFound, "certifier %q is not certified for attribute %q", certifier, key)
	}
	return level, nil
}
