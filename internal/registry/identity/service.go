// Package identity orchestrates the registry's mutating operations: create,
// update, import, delete, and purge, each running pivot validation,
// attribute arbitration, and duplicate checks inside one transaction
// boundary.
package identity

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"civreg/internal/registry/arbitration"
	"civreg/internal/registry/duplicates"
	"civreg/internal/registry/models"
	"civreg/internal/registry/pivot"
	"civreg/internal/registry/scoring"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/notify"
)

// Store persists identity aggregates.
type Store interface {
	GetByCustomerID(ctx context.Context, cuid id.CustomerID) (*models.Identity, error)
	GetByID(ctx context.Context, identityID id.IdentityID) (*models.Identity, error)
	GetByConnectionID(ctx context.Context, connID id.ConnectionID) (*models.Identity, error)
	Save(ctx context.Context, identity *models.Identity) error
	Delete(ctx context.Context, cuid id.CustomerID) error
	ListActive(ctx context.Context, offset, limit int) ([]*models.Identity, error)
}

// Transactor brackets a mutating request. SQL deployments run fn inside a
// database transaction; memory deployments run it directly.
type Transactor interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// NopTransactor runs the function without a transaction. Memory stores apply
// their single Save atomically, so no rollback is needed.
type NopTransactor struct{}

func (NopTransactor) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// SuspicionManager is the slice of the suspicion lifecycle this service
// drives: recording new suspicions and cascading removals.
type SuspicionManager interface {
	Record(ctx context.Context, cuid id.CustomerID, ruleCode string) error
	RemoveIdentity(ctx context.Context, cuid id.CustomerID) error
}

// Notifier emits identity-change events. Failures never roll back the
// mutation that produced them.
type Notifier interface {
	Emit(ctx context.Context, event notify.Event) error
}

// Metrics observes mutation outcomes.
type Metrics interface {
	MutationObserved(op string, result models.RequestResult)
	DuplicateBlocked(ruleCode string)
}

// Service is the identity registry core.
type Service struct {
	store      Store
	transactor Transactor
	engine     *arbitration.Engine
	pivot      *pivot.Validator
	evaluator  *duplicates.Evaluator
	rules      *duplicates.RuleCache
	suspicions SuspicionManager
	calculator *scoring.Calculator

	tracer   trace.Tracer
	logger   *slog.Logger
	notifier Notifier
	metrics  Metrics
	now      func() time.Time
}

// Option configures the service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithNotifier(notifier Notifier) Option {
	return func(s *Service) { s.notifier = notifier }
}

func WithMetrics(metrics Metrics) Option {
	return func(s *Service) { s.metrics = metrics }
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the registry core. All collaborators are required.
func NewService(
	store Store,
	transactor Transactor,
	engine *arbitration.Engine,
	pivotValidator *pivot.Validator,
	evaluator *duplicates.Evaluator,
	rules *duplicates.RuleCache,
	suspicions SuspicionManager,
	calculator *scoring.Calculator,
	opts ...Option,
) (*Service, error) {
	if store == nil || transactor == nil || engine == nil || pivotValidator == nil ||
		evaluator == nil || rules == nil || suspicions == nil || calculator == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "identity service is missing a collaborator")
	}
	s := &Service{
		store:      store,
		transactor: transactor,
		engine:     engine,
		pivot:      pivotValidator,
		evaluator:  evaluator,
		rules:      rules,
		suspicions: suspicions,
		calculator: calculator,
		tracer:     otel.Tracer("civreg/identity"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create builds a new identity from the request's attribute batch. A firing
// blocking-tier rule rejects the creation with the conflicting customer id;
// suspicion-tier hits are recorded after the commit and never block.
func (s *Service) Create(ctx context.Context, req models.ChangeRequest) (*models.MutationResult, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Create",
		trace.WithAttributes(attribute.String("customer_id", string(req.CustomerID))))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := req.Authorize(); err != nil {
		return nil, err
	}

	var result *models.MutationResult
	err := s.transactor.Execute(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetByCustomerID(ctx, req.CustomerID); err == nil {
			return dErrors.Newf(dErrors.CodeConflict, "identity %s already exists", req.CustomerID)
		} else if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return err
		}

		identity := models.NewIdentity(req.CustomerID, s.now())
		identity.ConnectionID = req.ConnectionID

		if err := s.guardDuplicates(ctx, req.CustomerID, requestProjection(req.Attributes)); err != nil {
			return err
		}
		applied, err := s.applyAttributes(ctx, identity, req.Attributes)
		if err != nil {
			return err
		}
		if err := s.store.Save(ctx, identity); err != nil {
			return err
		}
		result = &models.MutationResult{Identity: identity, Report: applied}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, "create", req, result, notify.KindIdentityCreated)
	s.recordSuspicions(ctx, req)
	return result, nil
}

// Update applies the request's attribute batch to an existing active
// identity under an optimistic concurrency check. The blocking-tier rules
// run against the resulting attribute state before it is committed.
func (s *Service) Update(ctx context.Context, req models.ChangeRequest) (*models.MutationResult, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Update",
		trace.WithAttributes(attribute.String("customer_id", string(req.CustomerID))))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := req.Authorize(); err != nil {
		return nil, err
	}

	var result *models.MutationResult
	err := s.transactor.Execute(ctx, func(ctx context.Context) error {
		identity, err := s.loadActive(ctx, req.CustomerID)
		if err != nil {
			return err
		}
		if req.LastUpdatedAt != nil && !identity.UpdatedAt.Equal(*req.LastUpdatedAt) {
			return dErrors.Newf(dErrors.CodeConflict,
				"identity %s changed at %s, request expected %s",
				req.CustomerID, identity.UpdatedAt.Format(time.RFC3339), req.LastUpdatedAt.Format(time.RFC3339))
		}
		if req.ConnectionID != "" {
			identity.ConnectionID = req.ConnectionID
		}

		applied, err := s.applyAttributes(ctx, identity, req.Attributes)
		if err != nil {
			return err
		}
		// The guard runs on the arbitrated state, not the raw batch: an
		// update collides when the identity it produces matches another.
		if err := s.guardDuplicates(ctx, req.CustomerID, identityProjection(identity)); err != nil {
			return err
		}
		if err := s.store.Save(ctx, identity); err != nil {
			return err
		}
		result = &models.MutationResult{Identity: identity, Report: applied}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, "update", req, result, notify.KindIdentityUpdated)
	return result, nil
}

// Import is the bulk-onboarding entry point. An existing customer id routes
// to an update. A fresh one first runs the strict blocking rules: exactly
// one exact candidate means the batch describes an identity the registry
// already holds, so the attributes are folded into that record instead of
// creating a twin. Several distinct candidates are ambiguous and rejected,
// as is any fired suspicion-tier rule.
func (s *Service) Import(ctx context.Context, req models.ChangeRequest) (*models.MutationResult, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Import",
		trace.WithAttributes(attribute.String("customer_id", string(req.CustomerID))))
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := req.Authorize(); err != nil {
		return nil, err
	}

	if _, err := s.store.GetByCustomerID(ctx, req.CustomerID); err == nil {
		return s.Update(ctx, req)
	} else if !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return nil, err
	}

	target, err := s.importTarget(ctx, req)
	if err != nil {
		return nil, err
	}
	// Imports get no second look by an operator, so a suspicion-tier hit
	// is a conflict here rather than a recorded suspicion.
	if err := s.guardImportSuspicions(ctx, req); err != nil {
		return nil, err
	}
	if target == "" {
		return s.Create(ctx, req)
	}

	redirect := req
	redirect.CustomerID = target
	redirect.ConnectionID = ""
	redirect.LastUpdatedAt = nil
	result, err := s.Update(ctx, redirect)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, "import_folded", "customer_id", req.CustomerID, "target", target)
	return result, nil
}

// importTarget runs the strict blocking rules and returns the single exact
// candidate, "" when there is none, or an error when the match is ambiguous.
func (s *Service) importTarget(ctx context.Context, req models.ChangeRequest) (id.CustomerID, error) {
	strict := make([]models.DuplicateRule, 0)
	for _, rule := range s.rules.ActiveByTier(models.TierBlocking) {
		if rule.Strict() {
			strict = append(strict, rule)
		}
	}
	if len(strict) == 0 {
		return "", nil
	}
	found, err := s.evaluator.FindDuplicates(ctx, requestProjection(req.Attributes), req.CustomerID, strict)
	if err != nil {
		return "", err
	}
	candidates := found.Candidates()
	switch len(candidates) {
	case 0:
		return "", nil
	case 1:
		return candidates[0].CustomerID, nil
	default:
		return "", dErrors.Newf(dErrors.CodeConflict,
			"import matches %d existing identities, first %s", len(candidates), candidates[0].CustomerID)
	}
}

// Get resolves the identity for a query response, following the master
// reference of a merged record one hop, and annotates it with coverage,
// quality, and matching scores.
func (s *Service) Get(
	ctx context.Context,
	cuid id.CustomerID,
	contract *models.ServiceContract,
	query []scoring.QueryAttribute,
) (*models.Identity, scoring.Scores, error) {
	ctx, span := s.tracer.Start(ctx, "identity.Get",
		trace.WithAttributes(attribute.String("customer_id", string(cuid))))
	defer span.End()

	identity, err := s.store.GetByCustomerID(ctx, cuid)
	if err != nil {
		return nil, scoring.Scores{}, err
	}
	if identity.Merged && identity.MasterID != nil {
		master, err := s.store.GetByID(ctx, *identity.MasterID)
		if err != nil {
			return nil, scoring.Scores{}, dErrors.Wrap(err, dErrors.CodeInternal,
				"resolve master of merged identity")
		}
		identity = master
	}
	if identity.Deleted {
		return nil, scoring.Scores{}, dErrors.Newf(dErrors.CodeNotFound, "identity %s is deleted", cuid)
	}
	return identity, s.calculator.Score(identity, contract, query), nil
}

// GetByConnection resolves an identity through its connection id.
func (s *Service) GetByConnection(ctx context.Context, connID id.ConnectionID) (*models.Identity, error) {
	return s.store.GetByConnectionID(ctx, connID)
}

// SoftDelete flags the identity deleted, retains the record, and cascades
// its suspicion state away. Deleting an already deleted identity is a no-op.
func (s *Service) SoftDelete(ctx context.Context, cuid id.CustomerID, author models.Author) error {
	ctx, span := s.tracer.Start(ctx, "identity.SoftDelete",
		trace.WithAttributes(attribute.String("customer_id", string(cuid))))
	defer span.End()

	var already bool
	err := s.transactor.Execute(ctx, func(ctx context.Context) error {
		identity, err := s.store.GetByCustomerID(ctx, cuid)
		if err != nil {
			return err
		}
		if identity.Deleted {
			already = true
			return nil
		}
		identity.ApplySoftDelete(s.now())
		return s.store.Save(ctx, identity)
	})
	if err != nil || already {
		return err
	}

	if err := s.suspicions.RemoveIdentity(ctx, cuid); err != nil {
		s.logError(ctx, "suspicion cascade after delete failed", err, "customer_id", cuid)
	}
	s.emit(ctx, notify.Event{
		Kind:       notify.KindIdentityDeleted,
		Timestamp:  s.now(),
		CustomerID: cuid,
		AuthorType: string(author.Type),
		AuthorName: author.Name,
	})
	return nil
}

// Purge hard-deletes a previously soft-deleted identity. The only path that
// removes a record outright.
func (s *Service) Purge(ctx context.Context, cuid id.CustomerID) error {
	ctx, span := s.tracer.Start(ctx, "identity.Purge",
		trace.WithAttributes(attribute.String("customer_id", string(cuid))))
	defer span.End()

	err := s.transactor.Execute(ctx, func(ctx context.Context) error {
		identity, err := s.store.GetByCustomerID(ctx, cuid)
		if err != nil {
			return err
		}
		if !identity.Deleted {
			return dErrors.Newf(dErrors.CodeValidation, "identity %s must be soft-deleted before purge", cuid)
		}
		return s.store.Delete(ctx, cuid)
	})
	if err != nil {
		return err
	}

	if err := s.suspicions.RemoveIdentity(ctx, cuid); err != nil {
		s.logError(ctx, "suspicion cascade after purge failed", err, "customer_id", cuid)
	}
	s.logEvent(ctx, "identity_purged", "customer_id", cuid)
	return nil
}

// applyAttributes runs pivot validation then arbitration on the identity.
func (s *Service) applyAttributes(ctx context.Context, identity *models.Identity, attrs []models.IncomingAttribute) (models.Report, error) {
	if err := s.pivot.Validate(ctx, identity, attrs); err != nil {
		return nil, err
	}
	return s.engine.Apply(identity, attrs, s.now()), nil
}

// guardDuplicates rejects the mutation when any blocking-tier rule fires on
// the given attribute projection.
func (s *Service) guardDuplicates(ctx context.Context, cuid id.CustomerID, projection map[models.AttributeKey]string) error {
	blocking := s.rules.ActiveByTier(models.TierBlocking)
	if len(blocking) == 0 {
		return nil
	}
	found, err := s.evaluator.FindDuplicates(ctx, projection, cuid, blocking)
	if err != nil {
		return err
	}
	fired := found.Fired()
	if len(fired) == 0 {
		return nil
	}
	code := topRule(blocking, fired)
	if s.metrics != nil {
		s.metrics.DuplicateBlocked(code)
	}
	first := found[code][0]
	return dErrors.Newf(dErrors.CodeConflict,
		"duplicate rule %s matched existing identity %s", code, first.CustomerID)
}

// guardImportSuspicions rejects an import when a suspicion-tier rule fires.
func (s *Service) guardImportSuspicions(ctx context.Context, req models.ChangeRequest) error {
	rules := s.rules.ActiveByTier(models.TierSuspicion)
	if len(rules) == 0 {
		return nil
	}
	found, err := s.evaluator.FindDuplicates(ctx, requestProjection(req.Attributes), req.CustomerID, rules)
	if err != nil {
		return err
	}
	fired := found.Fired()
	if len(fired) == 0 {
		return nil
	}
	code := topRule(rules, fired)
	if s.metrics != nil {
		s.metrics.DuplicateBlocked(code)
	}
	first := found[code][0]
	return dErrors.Newf(dErrors.CodeConflict,
		"import resembles existing identity %s under rule %s", first.CustomerID, code)
}

// recordSuspicions evaluates the suspicion-tier rules after a successful
// commit. Failures are logged; they never fail the mutation.
func (s *Service) recordSuspicions(ctx context.Context, req models.ChangeRequest) {
	rules := s.rules.ActiveByTier(models.TierSuspicion)
	if len(rules) == 0 {
		return
	}
	found, err := s.evaluator.FindDuplicates(ctx, requestProjection(req.Attributes), req.CustomerID, rules)
	if err != nil {
		s.logError(ctx, "suspicion-tier evaluation failed", err, "customer_id", req.CustomerID)
		return
	}
	fired := found.Fired()
	if len(fired) == 0 {
		return
	}
	if err := s.suspicions.Record(ctx, req.CustomerID, topRule(rules, fired)); err != nil {
		s.logError(ctx, "record suspicion failed", err, "customer_id", req.CustomerID)
	}
}

func (s *Service) loadActive(ctx context.Context, cuid id.CustomerID) (*models.Identity, error) {
	identity, err := s.store.GetByCustomerID(ctx, cuid)
	if err != nil {
		return nil, err
	}
	if !identity.IsActive() {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation,
			"identity %s is merged or deleted and accepts no writes", cuid)
	}
	return identity, nil
}

func (s *Service) afterMutation(ctx context.Context, op string, req models.ChangeRequest, result *models.MutationResult, kind notify.Kind) {
	if s.metrics != nil {
		s.metrics.MutationObserved(op, result.Report.Result())
	}
	s.emit(ctx, notify.Event{
		Kind:       kind,
		Timestamp:  s.now(),
		CustomerID: req.CustomerID,
		AuthorType: string(req.Author.Type),
		AuthorName: req.Author.Name,
		Attributes: attributeChanges(result.Report),
	})
	s.logEvent(ctx, "identity_mutation",
		"op", op, "customer_id", req.CustomerID, "result", string(result.Report.Result()))
}

func (s *Service) emit(ctx context.Context, event notify.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Emit(ctx, event); err != nil {
		s.logError(ctx, "emit event failed", err, "kind", string(event.Kind))
	}
}

func (s *Service) logEvent(ctx context.Context, msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.InfoContext(ctx, msg, attrs...)
	}
}

func (s *Service) logError(ctx context.Context, msg string, err error, attrs ...any) {
	if s.logger != nil {
		s.logger.ErrorContext(ctx, msg, append(attrs, "error", err)...)
	}
}

// requestProjection builds the key→value map duplicate rules inspect from
// the incoming batch. Blank assertions are deletions, not values.
func requestProjection(attrs []models.IncomingAttribute) map[models.AttributeKey]string {
	out := make(map[models.AttributeKey]string, len(attrs))
	for _, attr := range attrs {
		if strings.TrimSpace(attr.Value) != "" {
			out[attr.Key] = attr.Value
		}
	}
	return out
}

// identityProjection builds the key→value map duplicate rules inspect from
// an identity's current attributes.
func identityProjection(identity *models.Identity) map[models.AttributeKey]string {
	out := make(map[models.AttributeKey]string, len(identity.Attributes))
	for key, attr := range identity.Attributes {
		if !attr.Blank() {
			out[key] = attr.Value
		}
	}
	return out
}

// attributeChanges flattens a report into event payload lines.
func attributeChanges(report models.Report) []notify.AttributeChange {
	out := make([]notify.AttributeChange, 0, len(report))
	for _, status := range report {
		out = append(out, notify.AttributeChange{
			Key:          string(status.Key),
			Outcome:      string(status.Outcome),
			OldValue:     status.OldValue,
			NewValue:     status.NewValue,
			OldCertifier: status.OldCertifier,
			NewCertifier: status.NewCertifier,
		})
	}
	return out
}

// topRule picks the highest-priority fired rule. rules arrive sorted by
// priority from the cache.
func topRule(rules []models.DuplicateRule, fired []string) string {
	set := make(map[string]struct{}, len(fired))
	for _, code := range fired {
		set[code] = struct{}{}
	}
	for _, rule := range rules {
		if _, ok := set[rule.Code]; ok {
			return rule.Code
		}
	}
	return fired[0]
}
