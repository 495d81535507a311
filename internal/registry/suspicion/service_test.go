package suspicion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"civreg/internal/registry/models"
	exclusionstore "civreg/internal/registry/suspicion/store/exclusion"
	lockstore "civreg/internal/registry/suspicion/store/lock"
	suspectstore "civreg/internal/registry/suspicion/store/suspect"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

const lockTTL = 1800 * time.Second

type ServiceSuite struct {
	suite.Suite

	ctx     context.Context
	now     time.Time
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	svc, err := New(
		suspectstore.NewMemoryStore(),
		lockstore.NewMemoryStore(),
		exclusionstore.NewMemoryStore(),
		lockTTL,
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *ServiceSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
}

func (s *ServiceSuite) TestRecordCreatesRow() {
	s.Require().NoError(s.service.Record(s.ctx, "cust-1", "R-STRICT"))

	got, err := s.service.Get(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.Equal("R-STRICT", got.RuleCode)
	s.Nil(got.Lock)
}

func (s *ServiceSuite) TestRecordUnderSecondRuleReplacesReference() {
	s.Require().NoError(s.service.Record(s.ctx, "cust-1", "R-STRICT"))
	s.Require().NoError(s.service.Record(s.ctx, "cust-1", "R-FUZZY"))

	all, err := s.service.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 1, "one row per customer id")
	s.Equal("R-FUZZY", all[0].RuleCode)
}

func (s *ServiceSuite) TestRecordRequiresCustomerAndRule() {
	s.Error(s.service.Record(s.ctx, "", "R-STRICT"))
	s.Error(s.service.Record(s.ctx, "cust-1", ""))
}

// Lock contention: a second author cannot take a live lock, the first
// author re-locks idempotently, and expiry frees the row for anyone.
func (s *ServiceSuite) TestLockContentionAndExpiry() {
	authorA := models.Author{Type: models.AuthorUser, Name: "agent-a"}
	authorB := models.Author{Type: models.AuthorUser, Name: "agent-b"}

	s.Require().NoError(s.service.Record(s.ctx, "cust-1", "R-STRICT"))

	lock, err := s.service.Lock(s.ctx, "cust-1", authorA)
	s.Require().NoError(err)
	s.Equal(authorA, lock.Author)
	s.True(lock.ExpiresAt.Equal(s.now.Add(lockTTL)))

	// Same author again: no-op, expiry unchanged.
	s.advance(10 * time.Minute)
	again, err := s.service.Lock(s.ctx, "cust-1", authorA)
	s.Require().NoError(err)
	s.True(again.ExpiresAt.Equal(lock.ExpiresAt))

	// Different author while the lock is live: conflict exposing the holder.
	held, err := s.service.Lock(s.ctx, "cust-1", authorB)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Require().NotNil(held)
	s.Equal(authorA, held.Author)

	// After the TTL passes the stale lock is treated as absent.
	s.advance(lockTTL)
	state, err := s.service.LockState(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.Nil(state)

	fresh, err := s.service.Lock(s.ctx, "cust-1", authorB)
	s.Require().NoError(err)
	s.Equal(authorB, fresh.Author)
}

func (s *ServiceSuite) TestLockRequiresSuspicionRow() {
	_, err := s.service.Lock(s.ctx, "unknown", models.Author{Type: models.AuthorUser, Name: "agent-a"})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestUnlockHasNoOwnershipCheck() {
	authorA := models.Author{Type: models.AuthorUser, Name: "agent-a"}
	s.Require().NoError(s.service.Record(s.ctx, "cust-1", "R-STRICT"))
	_, err := s.service.Lock(s.ctx, "cust-1", authorA)
	s.Require().NoError(err)

	s.Require().NoError(s.service.Unlock(s.ctx, "cust-1"))

	state, err := s.service.LockState(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.Nil(state)

	// Unlocking again is harmless.
	s.NoError(s.service.Unlock(s.ctx, "cust-1"))
}

func (s *ServiceSuite) TestGetHidesExpiredLock() {
	author := models.Author{Type: models.AuthorUser, Name: "agent-a"}
	s.Require().NoError(s.service.Record(s.ctx, "cust-1", "R-STRICT"))
	_, err := s.service.Lock(s.ctx, "cust-1", author)
	s.Require().NoError(err)

	got, err := s.service.Get(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.NotNil(got.Lock)

	s.advance(lockTTL + time.Second)
	got, err = s.service.Get(s.ctx, "cust-1")
	s.Require().NoError(err)
	s.Nil(got.Lock, "an expired lock reads as absent before the sweep runs")
}

func (s *ServiceSuite) TestSweepExpiredPurgesStaleLocks() {
	author := models.Author{Type: models.AuthorUser, Name: "agent-a"}
	s.Require().NoError(s.service.Record(s.ctx, "cust-1", "R-STRICT"))
	_, err := s.service.Lock(s.ctx, "cust-1", author)
	s.Require().NoError(err)

	removed, err := s.service.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Zero(removed)

	s.advance(lockTTL + time.Second)
	removed, err = s.service.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, removed)
}

func (s *ServiceSuite) TestExcludeIsSymmetricAndIdempotent() {
	author := models.Author{Type: models.AuthorUser, Name: "agent-a"}

	s.Require().NoError(s.service.Exclude(s.ctx, "cust-a", "cust-b", author))
	s.Require().NoError(s.service.Exclude(s.ctx, "cust-b", "cust-a", author), "reversed order is the same pair")

	excluded, err := s.service.IsExcluded(s.ctx, "cust-b", "cust-a")
	s.Require().NoError(err)
	s.True(excluded)

	s.Error(s.service.Exclude(s.ctx, "cust-a", "cust-a", author), "self pair is invalid")
}

func (s *ServiceSuite) TestExcludeLeavesSuspicionRowsInPlace() {
	author := models.Author{Type: models.AuthorUser, Name: "agent-a"}
	s.Require().NoError(s.service.Record(s.ctx, "cust-a", "R-STRICT"))

	s.Require().NoError(s.service.Exclude(s.ctx, "cust-a", "cust-b", author))

	_, err := s.service.Get(s.ctx, "cust-a")
	s.NoError(err, "exclusion only silences future evaluations")
}

func (s *ServiceSuite) TestRemoveIdentityCascades() {
	author := models.Author{Type: models.AuthorUser, Name: "agent-a"}
	s.Require().NoError(s.service.Record(s.ctx, "cust-a", "R-STRICT"))
	_, err := s.service.Lock(s.ctx, "cust-a", author)
	s.Require().NoError(err)
	s.Require().NoError(s.service.Exclude(s.ctx, "cust-a", "cust-b", author))
	s.Require().NoError(s.service.Exclude(s.ctx, "cust-b", "cust-c", author))

	s.Require().NoError(s.service.RemoveIdentity(s.ctx, "cust-a"))

	_, err = s.service.Get(s.ctx, "cust-a")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	excluded, err := s.service.IsExcluded(s.ctx, "cust-a", "cust-b")
	s.Require().NoError(err)
	s.False(excluded, "exclusions mentioning the removed identity are gone")

	excluded, err = s.service.IsExcluded(s.ctx, "cust-b", "cust-c")
	s.Require().NoError(err)
	s.True(excluded, "unrelated exclusions survive")
}

func (s *ServiceSuite) TestRemoveIdentityWithoutRowIsHarmless() {
	s.NoError(s.service.RemoveIdentity(s.ctx, "never-seen"))
}

func (s *ServiceSuite) TestClearLeavesExclusions() {
	author := models.Author{Type: models.AuthorUser, Name: "agent-a"}
	s.Require().NoError(s.service.Record(s.ctx, "cust-a", "R-STRICT"))
	s.Require().NoError(s.service.Exclude(s.ctx, "cust-a", "cust-b", author))

	s.Require().NoError(s.service.Clear(s.ctx, "cust-a"))

	_, err := s.service.Get(s.ctx, "cust-a")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	excluded, err := s.service.IsExcluded(s.ctx, "cust-a", "cust-b")
	s.Require().NoError(err)
	s.True(excluded)
}

func (s *ServiceSuite) TestRecordIsRecorderForScanner() {
	// The scanner records through the same interface the service exposes.
	var recorder interface {
		Record(ctx context.Context, cuid id.CustomerID, ruleCode string) error
	} = s.service
	s.NoError(recorder.Record(s.ctx, "cust-1", "R-STRICT"))
}
