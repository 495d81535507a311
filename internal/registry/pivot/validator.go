// Package pivot enforces the all-or-nothing consistency rule on the
// identity-defining attribute set: once any pivot attribute reaches the
// configured certification threshold, every pivot attribute must be present,
// non-blank, and certified by the same certifier at or above that threshold.
package pivot

import (
	"context"

	"civreg/internal/registry/certification"
	"civreg/internal/registry/models"
	dErrors "civreg/pkg/domain-errors"
)

// Violation codes carried in the single structured error a failing batch
// produces. The whole batch is rejected; partial pivot application never
// reaches the store.
const (
	ViolationIncomplete        = "PIVOT_INCOMPLETE"
	ViolationSameCertification = "PIVOT_SAME_CERTIFICATION"
	ViolationDeletion          = "PIVOT_DELETION_FORBIDDEN"
)

// Place is a resolved geographic reference entry.
type Place struct {
	Code  string
	Label string
}

// GeoResolver resolves city and country codes against reference data.
// A not-found error means the code is unresolved; the validator then treats
// the attribute as unset.
type GeoResolver interface {
	CityByCode(ctx context.Context, code string) (Place, error)
	CountryByCode(ctx context.Context, code string) (Place, error)
}

// Validator checks a change request's pivot shape before arbitration commits.
type Validator struct {
	registry        *certification.Registry
	catalog         *certification.Catalog
	geo             GeoResolver
	threshold       int
	domesticCountry string
}

// New builds a validator. geo may be nil when no reference collaborator is
// wired; codes are then taken at face value.
func New(registry *certification.Registry, catalog *certification.Catalog, geo GeoResolver, threshold int, domesticCountry string) *Validator {
	return &Validator{
		registry:        registry,
		catalog:         catalog,
		geo:             geo,
		threshold:       threshold,
		domesticCountry: domesticCountry,
	}
}

// pivotState is one pivot key's value in the union of existing and incoming.
type pivotState struct {
	value     string
	certifier string
	level     int
	deletion  bool
}

// Validate unions existing and incoming pivot attributes, preferring incoming
// where its resolved level is not lower (mirroring arbitration), and enforces
// the threshold rules on the result. A nil return means the batch may proceed
// to arbitration.
func (v *Validator) Validate(ctx context.Context, identity *models.Identity, incoming []models.IncomingAttribute) error {
	union := v.union(identity, incoming)
	if len(union) == 0 {
		return nil
	}

	maxLevel := 0
	maxCertifier := ""
	for _, state := range union {
		if state.level > maxLevel {
			maxLevel = state.level
			maxCertifier = state.certifier
		}
	}
	if maxLevel < v.threshold {
		return nil
	}

	for key, state := range union {
		if state.deletion {
			return dErrors.Newf(dErrors.CodeInvariantViolation,
				"%s: pivot attribute %q cannot be cleared at certification level %d", ViolationDeletion, key, maxLevel)
		}
	}

	required := v.requiredKeys(ctx, union)
	for _, key := range required {
		state, ok := union[key]
		if !ok || state.value == "" || !v.geoResolved(ctx, key, state.value) {
			return dErrors.Newf(dErrors.CodeInvariantViolation,
				"%s: pivot attribute %q is missing at certification level %d", ViolationIncomplete, key, maxLevel)
		}
		if state.certifier != maxCertifier {
			return dErrors.Newf(dErrors.CodeInvariantViolation,
				"%s: pivot attribute %q is certified by %q, expected %q", ViolationSameCertification, key, state.certifier, maxCertifier)
		}
		if state.level < v.threshold {
			return dErrors.Newf(dErrors.CodeInvariantViolation,
				"%s: pivot attribute %q is certified at %d, below threshold %d", ViolationSameCertification, key, state.level, v.threshold)
		}
	}
	return nil
}

// union merges the identity's stored pivot attributes with the incoming ones.
// Incoming attributes whose certifier has no grant are ignored here: they can
// never commit, arbitration rejects them individually.
func (v *Validator) union(identity *models.Identity, incoming []models.IncomingAttribute) map[models.AttributeKey]pivotState {
	union := make(map[models.AttributeKey]pivotState)
	if identity != nil {
		for key, attr := range identity.Attributes {
			if !v.catalog.IsPivot(key) {
				continue
			}
			union[key] = pivotState{value: attr.Value, certifier: attr.Certifier, level: attr.Level}
		}
	}

	for _, attr := range incoming {
		if !v.catalog.IsPivot(attr.Key) {
			continue
		}
		level, err := v.registry.LevelOf(attr.Certifier, attr.Key)
		if err != nil {
			continue
		}
		existing, present := union[attr.Key]
		if present && level < existing.level {
			continue
		}
		union[attr.Key] = pivotState{
			value:     attr.Value,
			certifier: attr.Certifier,
			level:     level,
			deletion:  present && attr.Blank(),
		}
	}
	return union
}

// requiredKeys returns the pivot keys that must be present. The birthplace
// code is waived when the (resolved) birth country is not the domestic one.
func (v *Validator) requiredKeys(ctx context.Context, union map[models.AttributeKey]pivotState) []models.AttributeKey {
	all := v.catalog.PivotKeys()
	foreignBirth := false
	if country, ok := union[models.KeyBirthCountryCode]; ok && country.value != "" {
		if resolved, ok := v.resolveCountry(ctx, country.value); ok {
			foreignBirth = resolved != v.domesticCountry
		}
	}

	out := make([]models.AttributeKey, 0, len(all))
	for _, key := range all {
		if key == models.KeyBirthPlaceCode && foreignBirth {
			continue
		}
		out = append(out, key)
	}
	return out
}

// resolveCountry maps a stored country code through the reference
// collaborator. An unresolved code counts as unset: it neither waives the
// birthplace requirement nor satisfies the country's own presence check.
func (v *Validator) resolveCountry(ctx context.Context, code string) (string, bool) {
	if v.geo == nil {
		return code, true
	}
	place, err := v.geo.CountryByCode(ctx, code)
	if err != nil {
		return "", false
	}
	return place.Code, true
}

// geoResolved reports whether a geographic pivot value resolves against the
// reference collaborator. Non-geographic keys, and deployments without a
// collaborator, take values at face value.
func (v *Validator) geoResolved(ctx context.Context, key models.AttributeKey, code string) bool {
	if v.geo == nil {
		return true
	}
	var err error
	switch key {
	case models.KeyBirthCountryCode:
		_, err = v.geo.CountryByCode(ctx, code)
	case models.KeyBirthPlaceCode:
		_, err = v.geo.CityByCode(ctx, code)
	default:
		return true
	}
	return err == nil
}

// ResolveBirthPlace resolves a birthplace code to its label for response
// enrichment. Unresolved codes come back empty, which downstream checks treat
// as unset.
func (v *Validator) ResolveBirthPlace(ctx context.Context, code string) (Place, bool) {
	if v.geo == nil || code == "" {
		return Place{}, false
	}
	place, err := v.geo.CityByCode(ctx, code)
	if err != nil {
		return Place{}, false
	}
	return place, true
}

// StaticGeo is an in-memory GeoResolver for tests and static deployments.
type StaticGeo struct {
	Cities    map[string]Place
	Countries map[string]Place
}

func (g *StaticGeo) CityByCode(_ context.Context, code string) (Place, error) {
	if p, ok := g.Cities[code]; ok {
		return p, nil
	}
	return Place{}, dErrors.Newf(dErrors.CodeNotFound, "unknown city code %q", code)
}

func (g *StaticGeo) CountryByCode(_ context.Context, code string) (Place, error) {
	if p, ok := g.Countries[code]; ok {
		return p, nil
	}
	return Place{}, dErrors.Newf(dErrors.CodeNotFound, "unknown country code %q", code)
}
