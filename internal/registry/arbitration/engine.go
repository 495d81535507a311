// Package arbitration decides, for a single attribute write, whether the
// incoming value may create, replace, or refresh the stored one. Decisions
// are statuses, never errors: a rejected attribute leaves the stored value
// untouched while the surrounding request can still succeed.
package arbitration

import (
	"time"

	"civreg/internal/registry/certification"
	"civreg/internal/registry/models"
)

// Engine applies the arbitration rule ladder. It is stateless apart from the
// injected reference caches and safe for concurrent use.
type Engine struct {
	registry       *certification.Registry
	catalog        *certification.Catalog
	pivotThreshold int
}

// New builds an engine. pivotThreshold guards clearing of pivot attributes.
func New(registry *certification.Registry, catalog *certification.Catalog, pivotThreshold int) *Engine {
	return &Engine{
		registry:       registry,
		catalog:        catalog,
		pivotThreshold: pivotThreshold,
	}
}

// Decision is the outcome of arbitrating one attribute.
type Decision struct {
	Status models.AttributeStatus
	// Value is the attribute to store; nil when nothing changes.
	Value *models.AttributeValue
	// Remove clears the existing value (permitted deletion).
	Remove bool
}

// Arbitrate runs the rule ladder for one incoming attribute against the
// existing stored value (nil when absent). The incoming certification level
// is always resolved from the registry, never taken from the caller.
func (e *Engine) Arbitrate(existing *models.AttributeValue, incoming models.IncomingAttribute, now time.Time) Decision {
	status := models.AttributeStatus{Key: incoming.Key}
	if existing != nil {
		status.OldValue = existing.Value
		status.OldCertifier = existing.Certifier
	}

	level, err := e.registry.LevelOf(incoming.Certifier, incoming.Key)
	if err != nil {
		status.Outcome = models.OutcomeRejected
		status.Reason = models.ReasonNotCertified
		return Decision{Status: status}
	}

	if existing == nil {
		if incoming.Blank() {
			status.Outcome = models.OutcomeRejected
			status.Reason = models.ReasonBlankValue
			return Decision{Status: status}
		}
		status.Outcome = models.OutcomeCreated
		status.NewValue = incoming.Value
		status.NewCertifier = incoming.Certifier
		return Decision{
			Status: status,
			Value:  e.newValue(incoming, level, now),
		}
	}

	if incoming.Blank() {
		return e.arbitrateDeletion(existing, incoming, level, status)
	}

	switch {
	case level > existing.Level:
		// A higher-trust re-assertion replaces value, certifier, level and
		// timestamp even when the text is unchanged.
		status.Outcome = models.OutcomeUpdated
		status.NewValue = incoming.Value
		status.NewCertifier = incoming.Certifier
		return Decision{
			Status: status,
			Value:  e.newValue(incoming, level, now),
		}

	case level == existing.Level:
		if incoming.Value != existing.Value {
			status.Outcome = models.OutcomeUpdated
			status.NewValue = incoming.Value
			status.NewCertifier = incoming.Certifier
			return Decision{
				Status: status,
				Value:  e.newValue(incoming, level, now),
			}
		}
		if longerLived(existing.ExpiresAt, incoming.ExpiresAt) {
			refreshed := existing.Clone()
			refreshed.ExpiresAt = cloneTime(incoming.ExpiresAt)
			status.Outcome = models.OutcomeExtended
			status.NewValue = incoming.Value
			status.NewCertifier = incoming.Certifier
			return Decision{Status: status, Value: refreshed}
		}
		status.Outcome = models.OutcomeNoChange
		return Decision{Status: status}

	default:
		status.Outcome = models.OutcomeRejected
		status.Reason = models.ReasonLowerCertification
		return Decision{Status: status}
	}
}

// arbitrateDeletion handles a blank write against an existing value.
func (e *Engine) arbitrateDeletion(existing *models.AttributeValue, incoming models.IncomingAttribute, level int, status models.AttributeStatus) Decision {
	if level < existing.Level {
		status.Outcome = models.OutcomeRejected
		status.Reason = models.ReasonLowerCertification
		return Decision{Status: status}
	}
	if !e.catalog.Clearable(incoming.Key) {
		status.Outcome = models.OutcomeRejected
		status.Reason = models.ReasonDeletionNotAllowed
		return Decision{Status: status}
	}
	// A pivot value certified at or above the threshold can never be cleared.
	if e.catalog.IsPivot(incoming.Key) && existing.Level >= e.pivotThreshold {
		status.Outcome = models.OutcomeRejected
		status.Reason = models.ReasonDeletionNotAllowed
		return Decision{Status: status}
	}
	status.Outcome = models.OutcomeUpdated
	status.NewCertifier = incoming.Certifier
	return Decision{Status: status, Remove: true}
}

// Apply arbitrates a whole batch against identity, mutating it in place and
// returning the per-attribute report. Attributes are either fully replaced or
// fully unchanged; the caller owns the transaction boundary.
func (e *Engine) Apply(identity *models.Identity, attrs []models.IncomingAttribute, now time.Time) models.Report {
	report := make(models.Report, 0, len(attrs))
	for _, incoming := range attrs {
		decision := e.Arbitrate(identity.Attribute(incoming.Key), incoming, now)
		switch {
		case decision.Remove:
			identity.RemoveAttribute(incoming.Key)
		case decision.Value != nil:
			identity.SetAttribute(decision.Value)
		}
		report = append(report, decision.Status)
	}
	if report.Changed() {
		identity.UpdatedAt = now
	}
	return report
}

func (e *Engine) newValue(incoming models.IncomingAttribute, level int, now time.Time) *models.AttributeValue {
	return &models.AttributeValue{
		Key:         incoming.Key,
		Value:       incoming.Value,
		Certifier:   incoming.Certifier,
		Level:       level,
		CertifiedAt: now,
		ExpiresAt:   cloneTime(incoming.ExpiresAt),
	}
}

// longerLived reports whether the incoming expiry outlives the existing one.
// A nil expiry is unbounded: an unbounded existing certificate can never be
// extended, an unbounded incoming one always extends a bounded existing.
func longerLived(existing, incoming *time.Time) bool {
	if existing == nil {
		return false
	}
	return incoming == nil || incoming.After(*existing)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
