// Package scoring computes the three completeness and confidence metrics
// attached to query responses: coverage, quality, and matching score. All
// three are pure functions of the identity's visible attributes.
package scoring

import (
	"strings"

	"civreg/internal/registry/certification"
	"civreg/internal/registry/models"
	dErrors "civreg/pkg/domain-errors"
)

// Scores bundles the three metrics for one resolved identity.
type Scores struct {
	Coverage float64
	Quality  float64
	Matching float64
}

// QueryAttribute is one (key, expected value) pair from a search query.
// The key may be a composite that the catalog expands.
type QueryAttribute struct {
	Key   models.AttributeKey
	Value string
}

// Calculator derives scores from the attribute catalog's weights.
type Calculator struct {
	catalog         *certification.Catalog
	mismatchPenalty float64
}

// NewCalculator wires the calculator. mismatchPenalty in [0,1] discounts a
// present-but-different attribute during match scoring.
func NewCalculator(catalog *certification.Catalog, mismatchPenalty float64) (*Calculator, error) {
	if catalog == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "attribute catalog is required")
	}
	if mismatchPenalty < 0 || mismatchPenalty > 1 {
		return nil, dErrors.New(dErrors.CodeValidation, "mismatch penalty must be within [0,1]")
	}
	return &Calculator{catalog: catalog, mismatchPenalty: mismatchPenalty}, nil
}

// Score computes all three metrics at once for a query response.
func (c *Calculator) Score(identity *models.Identity, contract *models.ServiceContract, query []QueryAttribute) Scores {
	return Scores{
		Coverage: c.Coverage(identity, contract),
		Quality:  c.Quality(identity),
		Matching: c.MatchingScore(identity, query),
	}
}

// Coverage is binary: 1 when every contractually mandatory key is present
// at or above its contract-defined minimum level, else 0. A nil contract
// mandates nothing.
func (c *Calculator) Coverage(identity *models.Identity, contract *models.ServiceContract) float64 {
	if contract == nil {
		return 1
	}
	for key, minLevel := range contract.Mandatory {
		attr := identity.Attribute(key)
		if attr == nil || attr.Blank() {
			return 0
		}
		if attr.Level < minLevel {
			return 0
		}
	}
	return 1
}

// Quality is the weighted certification mass of the identity relative to the
// catalog's precomputed maximum. Blank, uncertified, and zero-weight
// attributes contribute nothing.
func (c *Calculator) Quality(identity *models.Identity) float64 {
	max := c.catalog.MaxPossibleScore()
	if max == 0 {
		return 0
	}
	score := 0
	for _, attr := range identity.Attributes {
		if attr.Blank() || attr.Level <= 0 {
			continue
		}
		score += c.catalog.WeightOf(attr.Key) * attr.Level
	}
	return float64(score) / float64(max)
}

// MatchingScore rates how well the identity answers the query. With no query
// there is nothing to score against and the result is 1. Composite query
// keys expand through the catalog; each expanded key is scored on its own.
// Value comparison is a case-insensitive exact match; a present but
// different value still earns a discounted share of its weight, an absent
// one earns nothing.
func (c *Calculator) MatchingScore(identity *models.Identity, query []QueryAttribute) float64 {
	if len(query) == 0 {
		return 1
	}

	numerator := 0.0
	denominator := 0.0
	for _, q := range query {
		for _, key := range c.catalog.Expand(q.Key) {
			weight := float64(c.catalog.WeightOf(key))
			if weight == 0 {
				continue
			}
			denominator += weight

			attr := identity.Attribute(key)
			switch {
			case attr == nil || attr.Blank():
				// absent: no contribution
			case strings.EqualFold(attr.Value, q.Value):
				numerator += weight
			default:
				numerator += weight * (1 - c.mismatchPenalty)
			}
		}
	}
	if denominator == 0 {
		return 1
	}
	return numerator / denominator
}
