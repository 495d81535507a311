package certification

import (
	"context"
	"sync"

	"civreg/internal/registry/models"
	dErrors "civreg/pkg/domain-errors"
)

// AttributeSpec is the catalog's reference entry for one attribute key.
type AttributeSpec struct {
	Key models.AttributeKey
	// Pivot marks the key as part of the all-or-nothing high-certification
	// set.
	Pivot bool
	// Weight feeds quality and matching scores. Zero-weight keys never score.
	Weight int
	// MaxLevel is the highest certification level any certifier may hold for
	// this key; it feeds the precomputed maximum quality score.
	MaxLevel int
	// Clearable permits blank writes to remove the stored value. Pivot keys
	// remain clearable only below the pivot threshold regardless of this flag.
	Clearable bool
	// ExpandsTo lists the underlying keys a composite query key resolves to
	// during match scoring, e.g. "name" → givenName, familyName. Resolved at
	// catalog load, never by reflection.
	ExpandsTo []models.AttributeKey
}

// SpecSource loads the attribute catalog entries.
type SpecSource interface {
	Attributes(ctx context.Context) ([]AttributeSpec, error)
}

// Catalog is the attribute-key reference cache.
type Catalog struct {
	source SpecSource

	mu        sync.RWMutex
	specs     map[models.AttributeKey]AttributeSpec
	pivotKeys []models.AttributeKey
	maxScore  int
}

// NewCatalog builds an empty catalog; call Refresh before first use.
func NewCatalog(source SpecSource) *Catalog {
	return &Catalog{
		source: source,
		specs:  make(map[models.AttributeKey]AttributeSpec),
	}
}

// Refresh reloads catalog entries and precomputes the maximum possible
// quality score (Σ weight×maxLevel over all keys).
func (c *Catalog) Refresh(ctx context.Context) error {
	specs, err := c.source.Attributes(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "refresh attribute catalog")
	}

	byKey := make(map[models.AttributeKey]AttributeSpec, len(specs))
	var pivotKeys []models.AttributeKey
	maxScore := 0
	for _, spec := range specs {
		byKey[spec.Key] = spec
		if spec.Pivot {
			pivotKeys = append(pivotKeys, spec.Key)
		}
		maxScore += spec.Weight * spec.MaxLevel
	}

	c.mu.Lock()
	c.specs = byKey
	c.pivotKeys = pivotKeys
	c.maxScore = maxScore
	c.mu.Unlock()
	return nil
}

// IsPivot reports whether key belongs to the pivot set.
func (c *Catalog) IsPivot(key models.AttributeKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.specs[key].Pivot
}

// PivotKeys returns the full pivot key set.
func (c *Catalog) PivotKeys() []models.AttributeKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.AttributeKey, len(c.pivotKeys))
	copy(out, c.pivotKeys)
	return out
}

// WeightOf returns the scoring weight for key; unknown keys weigh zero.
func (c *Catalog) WeightOf(key models.AttributeKey) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.specs[key].Weight
}

// Clearable reports whether a blank write may remove the stored value.
func (c *Catalog) Clearable(key models.AttributeKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.specs[key].Clearable
}

// Expand resolves a (possibly composite) query key to its underlying
// attribute keys. Non-composite keys expand to themselves.
func (c *Catalog) Expand(key models.AttributeKey) []models.AttributeKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.specs[key]; ok && len(spec.ExpandsTo) > 0 {
		out := make([]models.AttributeKey, len(spec.ExpandsTo))
		copy(out, spec.ExpandsTo)
		return out
	}
	return []models.AttributeKey{key}
}

// MaxPossibleScore returns the precomputed quality denominator.
func (c *Catalog) MaxPossibleScore() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxScore
}
