package certification

import (
	"context"
	"sync"

	"civreg/internal/registry/models"
)

// StaticSource serves levels and catalog entries from memory. It backs tests
// and deployments whose reference data ships as static configuration.
type StaticSource struct {
	mu    sync.RWMutex
	specs []AttributeSpec
	// levels maps certifier → key → level.
	levels map[string]map[models.AttributeKey]int
}

// NewStaticSource builds a source from fixed reference data.
func NewStaticSource(specs []AttributeSpec) *StaticSource {
	return &StaticSource{
		specs:  specs,
		levels: make(map[string]map[models.AttributeKey]int),
	}
}

// Grant registers a certification level for (certifier, key). Grants for all
// of a catalog's keys can be added with GrantAll.
func (s *StaticSource) Grant(certifier string, key models.AttributeKey, level int) *StaticSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.levels[certifier] == nil {
		s.levels[certifier] = make(map[models.AttributeKey]int)
	}
	s.levels[certifier][key] = level
	return s
}

// GrantAll registers the same level for every catalog key.
func (s *StaticSource) GrantAll(certifier string, level int) *StaticSource {
	s.mu.Lock()
	specs := s.specs
	s.mu.Unlock()
	for _, spec := range specs {
		s.Grant(certifier, spec.Key, level)
	}
	return s
}

func (s *StaticSource) Levels(context.Context) (map[LevelKey]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[LevelKey]int)
	for certifier, byKey := range s.levels {
		for key, level := range byKey {
			out[LevelKey{Certifier: certifier, Key: key}] = level
		}
	}
	return out, nil
}

func (s *StaticSource) Attributes(context.Context) ([]AttributeSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AttributeSpec, len(s.specs))
	copy(out, s.specs)
	return out, nil
}

// DefaultSpecs returns the standard civil-registry attribute catalog used by
// the default wiring: the five pivot keys plus common contact attributes and
// the composite "name" query key.
func DefaultSpecs() []AttributeSpec {
	return []AttributeSpec{
		{Key: models.KeyGivenName, Pivot: true, Weight: 10, MaxLevel: 500},
		{Key: models.KeyFamilyName, Pivot: true, Weight: 10, MaxLevel: 500},
		{Key: models.KeyBirthDate, Pivot: true, Weight: 8, MaxLevel: 500},
		{Key: models.KeyBirthCountryCode, Pivot: true, Weight: 5, MaxLevel: 500},
		{Key: models.KeyBirthPlaceCode, Pivot: true, Weight: 5, MaxLevel: 500},
		{Key: "email", Weight: 3, MaxLevel: 300, Clearable: true},
		{Key: "phone", Weight: 3, MaxLevel: 300, Clearable: true},
		{Key: "address", Weight: 2, MaxLevel: 300, Clearable: true},
		{Key: "name", Weight: 10, MaxLevel: 500, ExpandsTo: []models.AttributeKey{models.KeyGivenName, models.KeyFamilyName}},
	}
}
