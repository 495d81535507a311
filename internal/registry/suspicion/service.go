// Package suspicion owns the lifecycle of probable-duplicate records: the
// suspicion rows themselves, the advisory TTL locks on them, and the
// symmetric pair exclusions that silence future detections.
package suspicion

import (
	"context"
	"log/slog"
	"time"

	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

// SuspectStore persists suspicion rows, one per customer id.
type SuspectStore interface {
	// Get returns the row or a not-found error.
	Get(ctx context.Context, cuid id.CustomerID) (*models.SuspiciousIdentity, error)
	// Upsert inserts the row or, when one exists for the customer id,
	// replaces its rule reference. Never duplicates.
	Upsert(ctx context.Context, suspect *models.SuspiciousIdentity) error
	Delete(ctx context.Context, cuid id.CustomerID) error
	List(ctx context.Context) ([]*models.SuspiciousIdentity, error)
}

// LockStore persists advisory locks keyed by customer id. Get returns
// (nil, nil) when no lock record exists.
type LockStore interface {
	Get(ctx context.Context, cuid id.CustomerID) (*models.SuspicionLock, error)
	Put(ctx context.Context, cuid id.CustomerID, lock *models.SuspicionLock) error
	Delete(ctx context.Context, cuid id.CustomerID) error
	// DeleteExpired purges lock records whose expiry passed, returning how
	// many were removed. Backends with native TTL may report zero.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ExclusionStore persists unordered excluded pairs.
type ExclusionStore interface {
	Insert(ctx context.Context, pair *models.ExcludedPair) error
	// IsExcluded matches the pair in either order.
	IsExcluded(ctx context.Context, a, b id.CustomerID) (bool, error)
	// DeleteMentioning removes every pair with cuid on either side.
	DeleteMentioning(ctx context.Context, cuid id.CustomerID) (int, error)
	List(ctx context.Context) ([]*models.ExcludedPair, error)
}

// Notifier receives suspicion lifecycle events. Delivery failures are logged,
// never propagated.
type Notifier interface {
	SuspicionRecorded(ctx context.Context, cuid id.CustomerID, ruleCode string)
}

// Metrics observes lifecycle transitions.
type Metrics interface {
	SuspicionRecorded()
	LockConflict()
}

// Service is the suspicion lifecycle manager.
type Service struct {
	suspects   SuspectStore
	locks      LockStore
	exclusions ExclusionStore
	lockTTL    time.Duration
	now        func() time.Time
	logger     *slog.Logger
	notifier   Notifier
	metrics    Metrics
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

// New wires the lifecycle manager. lockTTL bounds every advisory lock.
func New(suspects SuspectStore, locks LockStore, exclusions ExclusionStore, lockTTL time.Duration, opts ...Option) (*Service, error) {
	if suspects == nil || locks == nil || exclusions == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "suspicion stores are required")
	}
	if lockTTL <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "lock ttl must be positive")
	}
	s := &Service{
		suspects:   suspects,
		locks:      locks,
		exclusions: exclusions,
		lockTTL:    lockTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Record upserts a suspicion for cuid under ruleCode. A later detection under
// a different rule replaces the rule reference on the existing row; rows are
// never duplicated per customer id.
func (s *Service) Record(ctx context.Context, cuid id.CustomerID, ruleCode string) error {
	if cuid == "" || ruleCode == "" {
		return dErrors.New(dErrors.CodeValidation, "customer id and rule code are required")
	}
	now := s.now()

	existing, err := s.suspects.Get(ctx, cuid)
	switch {
	case err == nil:
		existing.RuleCode = ruleCode
		if err := s.suspects.Upsert(ctx, existing); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "refresh suspicion")
		}
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		if err := s.suspects.Upsert(ctx, models.NewSuspicion(cuid, ruleCode, now)); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "record suspicion")
		}
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "load suspicion")
	}

	if s.metrics != nil {
		s.metrics.SuspicionRecorded()
	}
	if s.notifier != nil {
		s.notifier.SuspicionRecorded(ctx, cuid, ruleCode)
	}
	s.logEvent(ctx, "suspicion_recorded", "customer_id", cuid, "rule", ruleCode)
	return nil
}

// Get returns the suspicion row with its live lock attached. An expired lock
// is reported as absent even before the sweep removes it.
func (s *Service) Get(ctx context.Context, cuid id.CustomerID) (*models.SuspiciousIdentity, error) {
	suspect, err := s.suspects.Get(ctx, cuid)
	if err != nil {
		return nil, err
	}
	lock, err := s.locks.Get(ctx, cuid)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load suspicion lock")
	}
	if !lock.Expired(s.now()) {
		suspect.Lock = lock
	}
	return suspect, nil
}

// List returns all suspicion rows with live locks attached.
func (s *Service) List(ctx context.Context) ([]*models.SuspiciousIdentity, error) {
	suspects, err := s.suspects.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list suspicions")
	}
	now := s.now()
	for _, suspect := range suspects {
		lock, err := s.locks.Get(ctx, suspect.CustomerID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load suspicion lock")
		}
		if !lock.Expired(now) {
			suspect.Lock = lock
		}
	}
	return suspects, nil
}

// LockState exposes the current live lock holder, or nil. Callers use this
// to decide whether a competing author may proceed.
func (s *Service) LockState(ctx context.Context, cuid id.CustomerID) (*models.SuspicionLock, error) {
	lock, err := s.locks.Get(ctx, cuid)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load suspicion lock")
	}
	if lock.Expired(s.now()) {
		return nil, nil
	}
	return lock, nil
}

// Lock takes or refreshes the advisory lock on cuid for author.
// Re-locking by the author already holding it is an idempotent no-op. A live
// lock held by a different author yields a conflict carrying the holder, so
// the caller can surface who owns it. An expired lock is overwritten.
func (s *Service) Lock(ctx context.Context, cuid id.CustomerID, author models.Author) (*models.SuspicionLock, error) {
	if _, err := s.suspects.Get(ctx, cuid); err != nil {
		return nil, err
	}
	now := s.now()

	current, err := s.locks.Get(ctx, cuid)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load suspicion lock")
	}
	if !current.Expired(now) {
		if current.Author == author {
			return current, nil
		}
		if s.metrics != nil {
			s.metrics.LockConflict()
		}
		return current, dErrors.Newf(dErrors.CodeConflict,
			"suspicion %s is locked by %s until %s", cuid, current.Author.Name, current.ExpiresAt.Format(time.RFC3339))
	}

	lock := &models.SuspicionLock{
		ExpiresAt: now.Add(s.lockTTL),
		Author:    author,
	}
	if err := s.locks.Put(ctx, cuid, lock); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store suspicion lock")
	}
	s.logEvent(ctx, "suspicion_locked", "customer_id", cuid, "author", author.Name)
	return lock, nil
}

// Unlock removes the lock record. No ownership check at this layer; the
// orchestrating layer enforces policy.
func (s *Service) Unlock(ctx context.Context, cuid id.CustomerID) error {
	if err := s.locks.Delete(ctx, cuid); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete suspicion lock")
	}
	s.logEvent(ctx, "suspicion_unlocked", "customer_id", cuid)
	return nil
}

// SweepExpired lazily purges lock records whose TTL passed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	removed, err := s.locks.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "sweep expired locks")
	}
	if removed > 0 {
		s.logEvent(ctx, "suspicion_locks_swept", "removed", removed)
	}
	return removed, nil
}

// Exclude marks the pair as never-again-reportable. Idempotent: an already
// excluded pair (in either order) is left as is. Existing suspicion rows are
// not removed; only future evaluations skip the pair.
func (s *Service) Exclude(ctx context.Context, a, b id.CustomerID, author models.Author) error {
	if a == "" || b == "" || a == b {
		return dErrors.New(dErrors.CodeValidation, "exclusion needs two distinct customer ids")
	}
	excluded, err := s.exclusions.IsExcluded(ctx, a, b)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "check exclusion")
	}
	if excluded {
		return nil
	}
	if err := s.exclusions.Insert(ctx, models.NewExclusion(a, b, author, s.now())); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "insert exclusion")
	}
	s.logEvent(ctx, "pair_excluded", "first", a, "second", b, "author", author.Name)
	return nil
}

// IsExcluded reports whether the pair is excluded, in either order.
func (s *Service) IsExcluded(ctx context.Context, a, b id.CustomerID) (bool, error) {
	return s.exclusions.IsExcluded(ctx, a, b)
}

// RemoveIdentity cascades the disappearance of cuid: its suspicion row, its
// lock, and every exclusion mentioning it. Called on hard delete and on
// merge-consumption so no suspicion outlives its identity.
func (s *Service) RemoveIdentity(ctx context.Context, cuid id.CustomerID) error {
	if err := s.removeSuspicion(ctx, cuid); err != nil {
		return err
	}
	if _, err := s.exclusions.DeleteMentioning(ctx, cuid); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete exclusions")
	}
	s.logEvent(ctx, "suspicion_identity_removed", "customer_id", cuid)
	return nil
}

// Clear administratively removes the suspicion row and lock for cuid,
// leaving exclusions intact.
func (s *Service) Clear(ctx context.Context, cuid id.CustomerID) error {
	if err := s.removeSuspicion(ctx, cuid); err != nil {
		return err
	}
	s.logEvent(ctx, "suspicion_cleared", "customer_id", cuid)
	return nil
}

func (s *Service) removeSuspicion(ctx context.Context, cuid id.CustomerID) error {
	if err := s.suspects.Delete(ctx, cuid); err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete suspicion")
	}
	if err := s.locks.Delete(ctx, cuid); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete suspicion lock")
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, event string, attrs ...any) {
	if s.logger == nil {
		return
	}
	args := append(attrs, "event", event, "log_type", "audit")
	s.logger.InfoContext(ctx, event, args...)
}
