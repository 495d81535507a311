// Package duplicates evaluates configurable duplicate-detection rules
// against the search collaborator and drives the population-wide suspicion
// scan.
package duplicates

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

// Result maps each fired rule code to its (non-empty) candidate list.
type Result map[string][]models.Candidate

// Fired returns the fired rule codes in deterministic order.
func (r Result) Fired() []string {
	codes := make([]string, 0, len(r))
	for code := range r {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Candidates flattens all candidate lists, deduplicated by customer id, in
// rule-code order.
func (r Result) Candidates() []models.Candidate {
	seen := make(map[id.CustomerID]struct{})
	var out []models.Candidate
	for _, code := range r.Fired() {
		for _, c := range r[code] {
			if _, dup := seen[c.CustomerID]; dup {
				continue
			}
			seen[c.CustomerID] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Evaluator runs duplicate rules against the search collaborator.
type Evaluator struct {
	search     SearchIndex
	exclusions ExclusionChecker
	logger     *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

func NewEvaluator(search SearchIndex, exclusions ExclusionChecker, opts ...Option) *Evaluator {
	e := &Evaluator{search: search, exclusions: exclusions}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindDuplicates evaluates every rule against the attribute projection.
// Inactive rules are rejected outright; rules with too few filled checked
// attributes are skipped. Rules run in parallel; results merge
// deterministically by rule code before any blocking decision is taken.
func (e *Evaluator) FindDuplicates(
	ctx context.Context,
	attrs map[models.AttributeKey]string,
	exclude id.CustomerID,
	rules []models.DuplicateRule,
) (Result, error) {
	for _, rule := range rules {
		if !rule.Active {
			return nil, dErrors.Newf(dErrors.CodeValidation, "duplicate rule %q is not active", rule.Code)
		}
	}

	var (
		mu     sync.Mutex
		result = make(Result)
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, rule := range rules {
		query, evaluable := e.project(attrs, exclude, rule)
		if !evaluable {
			continue
		}
		group.Go(func() error {
			candidates, err := e.evaluate(groupCtx, rule, query, exclude)
			if err != nil {
				return err
			}
			if len(candidates) == 0 {
				return nil
			}
			mu.Lock()
			result[rule.Code] = candidates
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// project builds the rule's search query from the attribute map. The second
// return is false when fewer than MinFilled checked keys carry a value.
func (e *Evaluator) project(attrs map[models.AttributeKey]string, exclude id.CustomerID, rule models.DuplicateRule) (SearchQuery, bool) {
	query := SearchQuery{
		Attributes:        make(map[models.AttributeKey]string, len(rule.CheckedKeys)),
		MatchTypes:        make(map[models.AttributeKey]models.MatchType, len(rule.CheckedKeys)),
		ExcludeCustomerID: exclude,
	}
	filled := 0
	for _, key := range rule.CheckedKeys {
		value, ok := attrs[key]
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		filled++
		query.Attributes[key] = value
		query.MatchTypes[key] = rule.MatchTypeFor(key)
	}
	return query, filled >= rule.MinFilled
}

func (e *Evaluator) evaluate(ctx context.Context, rule models.DuplicateRule, query SearchQuery, exclude id.CustomerID) ([]models.Candidate, error) {
	found, err := e.search.FindCandidates(ctx, query)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "search collaborator failed for rule "+rule.Code)
	}

	candidates := make([]models.Candidate, 0, len(found))
	for _, candidate := range found {
		if candidate.CustomerID == exclude {
			continue
		}
		if exclude != "" {
			excluded, err := e.exclusions.IsExcluded(ctx, exclude, candidate.CustomerID)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check exclusion for rule "+rule.Code)
			}
			if excluded {
				continue
			}
		}
		candidates = append(candidates, candidate)
	}

	if len(candidates) > 0 && e.logger != nil {
		e.logger.DebugContext(ctx, "duplicate rule fired",
			"rule", rule.Code, "candidates", len(candidates))
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].CustomerID < candidates[j].CustomerID
	})
	return candidates, nil
}
