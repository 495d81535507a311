package duplicates

import (
	"context"
	"log/slog"

	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

// IdentityLister pages through active identities for the population scan.
type IdentityLister interface {
	ListActive(ctx context.Context, offset, limit int) ([]*models.Identity, error)
}

// SuspicionRecorder records or refreshes a suspicion for a customer id.
type SuspicionRecorder interface {
	Record(ctx context.Context, cuid id.CustomerID, ruleCode string) error
}

// ScanStats summarizes one population scan.
type ScanStats struct {
	Scanned int
	Flagged int
	Batches int
}

// Scanner sweeps the population for undetected suspicions in bounded batches.
// Memory stays bounded by the batch size, and cancellation is honored between
// batches.
type Scanner struct {
	identities IdentityLister
	evaluator  *Evaluator
	rules      *RuleCache
	recorder   SuspicionRecorder
	batchSize  int
	logger     *slog.Logger
}

// NewScanner wires a scanner. batchSize must be positive.
func NewScanner(identities IdentityLister, evaluator *Evaluator, rules *RuleCache, recorder SuspicionRecorder, batchSize int, logger *slog.Logger) (*Scanner, error) {
	if batchSize <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "scan batch size must be positive")
	}
	return &Scanner{
		identities: identities,
		evaluator:  evaluator,
		rules:      rules,
		recorder:   recorder,
		batchSize:  batchSize,
		logger:     logger,
	}, nil
}

// Run scans the whole active population against the suspicion-tier rules.
// Each flagged identity gets a suspicion row recorded (or refreshed) under
// the fired rule with the highest priority.
func (s *Scanner) Run(ctx context.Context) (ScanStats, error) {
	stats := ScanStats{}
	rules := s.rules.ActiveByTier(models.TierSuspicion)
	if len(rules) == 0 {
		return stats, nil
	}

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return stats, dErrors.Wrap(err, dErrors.CodeTimeout, "scan cancelled between batches")
		}

		batch, err := s.identities.ListActive(ctx, offset, s.batchSize)
		if err != nil {
			return stats, dErrors.Wrap(err, dErrors.CodeInternal, "list identities for scan")
		}
		if len(batch) == 0 {
			return stats, nil
		}
		stats.Batches++

		for _, identity := range batch {
			stats.Scanned++
			result, err := s.evaluator.FindDuplicates(ctx, identity.AttributeValues(), identity.CustomerID, rules)
			if err != nil {
				return stats, err
			}
			fired := result.Fired()
			if len(fired) == 0 {
				continue
			}
			if err := s.recorder.Record(ctx, identity.CustomerID, s.topPriority(rules, fired)); err != nil {
				return stats, err
			}
			stats.Flagged++
		}

		offset += len(batch)
		if s.logger != nil {
			s.logger.InfoContext(ctx, "duplicate scan batch done",
				"batch", stats.Batches, "scanned", stats.Scanned, "flagged", stats.Flagged)
		}
	}
}

// topPriority picks, among the fired codes, the rule with the lowest
// priority number. rules is already priority-ordered by the cache.
func (s *Scanner) topPriority(rules []models.DuplicateRule, fired []string) string {
	firedSet := make(map[string]struct{}, len(fired))
	for _, code := range fired {
		firedSet[code] = struct{}{}
	}
	for _, rule := range rules {
		if _, ok := firedSet[rule.Code]; ok {
			return rule.Code
		}
	}
	return fired[0]
}
