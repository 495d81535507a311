//go:build integration

package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"civreg/internal/registry/audit"
	"civreg/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *audit.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = audit.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "audit_events")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestAppendAndListOrdered() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Category:   audit.CategoryCompliance,
		Action:     "identity_created",
		Timestamp:  base,
		CustomerID: "cust-1",
		AuthorType: "USER",
		AuthorName: "agent-7",
		RequestID:  "req-1",
	}))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Category:   audit.CategoryOperations,
		Action:     "identity_updated",
		Timestamp:  base.Add(time.Second),
		CustomerID: "cust-1",
	}))

	events, err := s.store.ListByCustomer(ctx, "cust-1")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal("identity_created", events[0].Action)
	s.Equal(audit.CategoryCompliance, events[0].Category)
	s.Equal("req-1", events[0].RequestID)
	s.Equal("identity_updated", events[1].Action)
	s.True(events[0].Timestamp.Before(events[1].Timestamp))
}

func (s *PostgresStoreSuite) TestListMatchesMergeParties() {
	ctx := context.Background()

	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Category:         audit.CategoryCompliance,
		Action:           "identity_merged",
		Timestamp:        time.Now().UTC(),
		CustomerID:       "cust-secondary",
		MasterCustomerID: "cust-master",
		RuleCode:         "DUP-PIVOT-EXACT",
	}))

	forMaster, err := s.store.ListByCustomer(ctx, "cust-master")
	s.Require().NoError(err)
	s.Require().Len(forMaster, 1)
	s.Equal("DUP-PIVOT-EXACT", forMaster[0].RuleCode)

	forUnrelated, err := s.store.ListByCustomer(ctx, "cust-elsewhere")
	s.Require().NoError(err)
	s.Empty(forUnrelated)
}
