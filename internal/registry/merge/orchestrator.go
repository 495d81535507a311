// Package merge consolidates two identity records: the secondary is
// consumed into the master, its attributes reconciled through the same
// arbitration and pivot rules as any other write.
package merge

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"civreg/internal/registry/arbitration"
	"civreg/internal/registry/identity"
	"civreg/internal/registry/models"
	"civreg/internal/registry/pivot"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
	"civreg/pkg/platform/notify"
)

// Request names the two identities and the reconciled attribute batch to
// apply to the master. Only the batch transfers; an empty batch means the
// master keeps its attributes untouched.
type Request struct {
	MasterCustomerID    id.CustomerID
	SecondaryCustomerID id.CustomerID
	Attributes          []models.IncomingAttribute
	// RuleCode references the duplicate rule that triggered the merge, when
	// one did. It is carried on both outgoing events.
	RuleCode string
	Author   models.Author
}

func (r Request) validate() error {
	if r.MasterCustomerID == "" || r.SecondaryCustomerID == "" {
		return dErrors.New(dErrors.CodeValidation, "merge needs master and secondary customer ids")
	}
	if r.MasterCustomerID == r.SecondaryCustomerID {
		return dErrors.New(dErrors.CodeValidation, "an identity cannot be merged into itself")
	}
	return nil
}

// Result reports the surviving identity and the per-attribute consolidation
// report.
type Result struct {
	Master *models.Identity
	Report models.Report
}

// Metrics observes merge outcomes.
type Metrics interface {
	MergeObserved(op string)
}

// Orchestrator runs merges and merge cancellations.
type Orchestrator struct {
	store      identity.Store
	transactor identity.Transactor
	engine     *arbitration.Engine
	pivot      *pivot.Validator
	suspicions identity.SuspicionManager

	tracer   trace.Tracer
	logger   *slog.Logger
	notifier identity.Notifier
	metrics  Metrics
	now      func() time.Time
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithNotifier(notifier identity.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = notifier }
}

func WithMetrics(metrics Metrics) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(
	store identity.Store,
	transactor identity.Transactor,
	engine *arbitration.Engine,
	pivotValidator *pivot.Validator,
	suspicions identity.SuspicionManager,
	opts ...Option,
) (*Orchestrator, error) {
	if store == nil || transactor == nil || engine == nil || pivotValidator == nil || suspicions == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "merge orchestrator is missing a collaborator")
	}
	o := &Orchestrator{
		store:      store,
		transactor: transactor,
		engine:     engine,
		pivot:      pivotValidator,
		suspicions: suspicions,
		tracer:     otel.Tracer("civreg/merge"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Merge consumes the secondary into the master. The consolidation batch runs
// through pivot validation and arbitration on the master; any failure there
// aborts the whole merge, leaving both identities untouched. On success the
// secondary is flagged merged, stripped of attributes, pointed at the
// master, and its suspicion state is removed.
func (o *Orchestrator) Merge(ctx context.Context, req Request) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "merge.Merge", trace.WithAttributes(
		attribute.String("master_customer_id", string(req.MasterCustomerID)),
		attribute.String("secondary_customer_id", string(req.SecondaryCustomerID)),
	))
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}

	var result *Result
	err := o.transactor.Execute(ctx, func(ctx context.Context) error {
		master, err := o.store.GetByCustomerID(ctx, req.MasterCustomerID)
		if err != nil {
			return err
		}
		secondary, err := o.store.GetByCustomerID(ctx, req.SecondaryCustomerID)
		if err != nil {
			return err
		}
		if err := secondary.CanMergeInto(master); err != nil {
			return err
		}

		var report models.Report
		if len(req.Attributes) > 0 {
			if err := o.pivot.Validate(ctx, master, req.Attributes); err != nil {
				return err
			}
			report = o.engine.Apply(master, req.Attributes, o.now())
		}

		secondary.ApplyMerge(master.ID, o.now())

		if err := o.store.Save(ctx, master); err != nil {
			return err
		}
		if err := o.store.Save(ctx, secondary); err != nil {
			return err
		}
		result = &Result{Master: master, Report: report}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := o.suspicions.RemoveIdentity(ctx, req.SecondaryCustomerID); err != nil {
		o.logError(ctx, "suspicion cascade after merge failed", err,
			"customer_id", req.SecondaryCustomerID)
	}
	o.emit(ctx, notify.Event{
		Kind:             notify.KindIdentityMerged,
		Timestamp:        o.now(),
		CustomerID:       req.SecondaryCustomerID,
		MasterCustomerID: req.MasterCustomerID,
		RuleCode:         req.RuleCode,
		AuthorType:       string(req.Author.Type),
		AuthorName:       req.Author.Name,
	})
	o.emit(ctx, notify.Event{
		Kind:            notify.KindIdentityConsolidated,
		Timestamp:       o.now(),
		CustomerID:      req.MasterCustomerID,
		ChildCustomerID: req.SecondaryCustomerID,
		RuleCode:        req.RuleCode,
		AuthorType:      string(req.Author.Type),
		AuthorName:      req.Author.Name,
		Attributes:      attributeChanges(result.Report),
	})
	if o.metrics != nil {
		o.metrics.MergeObserved("merge")
	}
	o.logEvent(ctx, "identities_merged",
		"master", req.MasterCustomerID, "secondary", req.SecondaryCustomerID)
	return result, nil
}

// CancelMerge detaches the secondary from the given master. Attributes
// consumed by the original merge are not restored; the record reactivates
// empty.
func (o *Orchestrator) CancelMerge(ctx context.Context, masterCuid, secondaryCuid id.CustomerID, author models.Author) error {
	ctx, span := o.tracer.Start(ctx, "merge.CancelMerge", trace.WithAttributes(
		attribute.String("master_customer_id", string(masterCuid)),
		attribute.String("secondary_customer_id", string(secondaryCuid)),
	))
	defer span.End()

	err := o.transactor.Execute(ctx, func(ctx context.Context) error {
		master, err := o.store.GetByCustomerID(ctx, masterCuid)
		if err != nil {
			return err
		}
		secondary, err := o.store.GetByCustomerID(ctx, secondaryCuid)
		if err != nil {
			return err
		}
		if err := secondary.CanCancelMerge(master.ID); err != nil {
			return err
		}
		secondary.ApplyCancelMerge(o.now())
		return o.store.Save(ctx, secondary)
	})
	if err != nil {
		return err
	}

	o.emit(ctx, notify.Event{
		Kind:             notify.KindIdentityMergeCancel,
		Timestamp:        o.now(),
		CustomerID:       secondaryCuid,
		MasterCustomerID: masterCuid,
		AuthorType:       string(author.Type),
		AuthorName:       author.Name,
	})
	if o.metrics != nil {
		o.metrics.MergeObserved("cancel")
	}
	o.logEvent(ctx, "merge_cancelled",
		"master", masterCuid, "secondary", secondaryCuid)
	return nil
}

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

func (o *Orchestrator) emit(ctx context.Context, event notify.Event) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Emit(ctx, event); err != nil {
		o.logError(ctx, "emit event failed", err, "kind", string(event.Kind))
	}
}

func (o *Orchestrator) logEvent(ctx context.Context, msg string, attrs ...any) {
	if o.logger != nil {
		o.logger.InfoContext(ctx, msg, attrs...)
	}
}

func (o *Orchestrator) logError(ctx context.Context, msg string, err error, attrs ...any) {
	if o.logger != nil {
		o.logger.ErrorContext(ctx, msg, append(attrs, "error", err)...)
	}
}
