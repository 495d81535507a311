package models

// RuleTier separates rules that block a mutation from rules that only record
// a suspicion.
type RuleTier string

const (
	// TierBlocking rules reject creation/update/import when they fire.
	TierBlocking RuleTier = "blocking"
	// TierSuspicion rules never block; a hit records a SuspiciousIdentity.
	TierSuspicion RuleTier = "suspicion"
)

// MatchType tells the search collaborator how to compare one checked key.
// The semantics of fuzzy matching are owned by the collaborator.
type MatchType string

const (
	MatchExact MatchType = "exact"
	MatchFuzzy MatchType = "fuzzy"
)

// DuplicateRule is read-only reference data describing one duplicate check.
type DuplicateRule struct {
	Code     string
	Active   bool
	Priority int
	Tier     RuleTier
	// CheckedKeys is the ordered attribute subset the rule inspects.
	CheckedKeys []AttributeKey
	// MinFilled is the minimum number of checked keys that must carry a value
	// for the rule to be evaluable.
	MinFilled int
	// MatchTypes maps each checked key to its comparison mode. Keys absent
	// from the map default to exact.
	MatchTypes map[AttributeKey]MatchType
}

// MatchTypeFor returns the comparison mode for a checked key.
func (r DuplicateRule) MatchTypeFor(key AttributeKey) MatchType {
	if mt, ok := r.MatchTypes[key]; ok {
		return mt
	}
	return MatchExact
}

// Strict reports whether every checked key is compared exactly. Only strict
// rules qualify for the import update-merge shortcut.
func (r DuplicateRule) Strict() bool {
	for _, key := range r.CheckedKeys {
		if r.MatchTypeFor(key) != MatchExact {
			return false
		}
	}
	return true
}
