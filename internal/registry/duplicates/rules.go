package duplicates

import (
	"context"
	"sort"
	"sync"

	"civreg/internal/registry/models"
	dErrors "civreg/pkg/domain-errors"
)

// RuleSource loads the duplicate-rule reference data.
type RuleSource interface {
	Rules(ctx context.Context) ([]models.DuplicateRule, error)
}

// RuleCache is the read-mostly duplicate-rule snapshot, refreshed explicitly
// like the certification caches.
type RuleCache struct {
	source RuleSource

	mu    sync.RWMutex
	rules []models.DuplicateRule
}

func NewRuleCache(source RuleSource) *RuleCache {
	return &RuleCache{source: source}
}

// Refresh reloads all rules from the source.
func (c *RuleCache) Refresh(ctx context.Context) error {
	rules, err := c.source.Rules(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "refresh duplicate rules")
	}
	sorted := make([]models.DuplicateRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Code < sorted[j].Code
	})
	c.mu.Lock()
	c.rules = sorted
	c.mu.Unlock()
	return nil
}

// ActiveByTier returns the active rules of one tier in priority order.
func (c *RuleCache) ActiveByTier(tier models.RuleTier) []models.DuplicateRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.DuplicateRule
	for _, rule := range c.rules {
		if rule.Active && rule.Tier == tier {
			out = append(out, rule)
		}
	}
	return out
}

// ByCode looks a rule up regardless of tier or active flag.
func (c *RuleCache) ByCode(code string) (models.DuplicateRule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rule := range c.rules {
		if rule.Code == code {
			return rule, nil
		}
	}
	return models.DuplicateRule{}, dErrors.Newf(dErrors.CodeNotFound, "unknown duplicate rule %q", code)
}

// StaticRuleSource serves a fixed rule list.
type StaticRuleSource []models.DuplicateRule

func (s StaticRuleSource) Rules(context.Context) ([]models.DuplicateRule, error) {
	return s, nil
}

// DefaultRules returns the standard rule set used by the default wiring: one
// strict blocking rule over the full pivot set and two softer suspicion
// rules over name and birth data.
func DefaultRules() []models.DuplicateRule {
	return []models.DuplicateRule{
		{
			Code:     "DUP-PIVOT-EXACT",
			Active:   true,
			Priority: 1,
			Tier:     models.TierBlocking,
			CheckedKeys: []models.AttributeKey{
				models.KeyGivenName, models.KeyFamilyName, models.KeyBirthDate,
				models.KeyBirthCountryCode, models.KeyBirthPlaceCode,
			},
			MinFilled: 5,
		},
		{
			Code:        "DUP-NAME-BIRTHDATE",
			Active:      true,
			Priority:    10,
			Tier:        models.TierSuspicion,
			CheckedKeys: []models.AttributeKey{models.KeyFamilyName, models.KeyBirthDate},
			MinFilled:   2,
			MatchTypes: map[models.AttributeKey]models.MatchType{
				models.KeyFamilyName: models.MatchFuzzy,
			},
		},
		{
			Code:        "DUP-FULL-NAME",
			Active:      true,
			Priority:    20,
			Tier:        models.TierSuspicion,
			CheckedKeys: []models.AttributeKey{models.KeyGivenName, models.KeyFamilyName},
			MinFilled:   2,
			MatchTypes: map[models.AttributeKey]models.MatchType{
				models.KeyGivenName:  models.MatchFuzzy,
				models.KeyFamilyName: models.MatchFuzzy,
			},
		},
	}
}
