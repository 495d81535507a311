package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civreg/pkg/platform/notify"
	"civreg/pkg/requestcontext"
)

func TestTrailClassifiesAndRecords(t *testing.T) {
	trail := NewTrail(NewMemoryStore())
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, trail.Deliver(ctx, notify.Event{
		Kind:       notify.KindIdentityCreated,
		Timestamp:  now,
		CustomerID: "cust-1",
		AuthorType: "USER",
		AuthorName: "agent-7",
	}))
	require.NoError(t, trail.Deliver(ctx, notify.Event{
		Kind:       notify.KindSuspicionRecorded,
		Timestamp:  now,
		CustomerID: "cust-1",
		RuleCode:   "DUP-FULL-NAME",
	}))

	events, err := trail.ListByCustomer(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, CategoryCompliance, events[0].Category)
	assert.Equal(t, "identity_created", events[0].Action)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, "agent-7", events[0].AuthorName)

	assert.Equal(t, CategoryOperations, events[1].Category)
	assert.Equal(t, "DUP-FULL-NAME", events[1].RuleCode)
}

func TestTrailIndexesMergePartiesBothWays(t *testing.T) {
	trail := NewTrail(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, trail.Deliver(ctx, notify.Event{
		Kind:             notify.KindIdentityMerged,
		Timestamp:        time.Now(),
		CustomerID:       "cust-secondary",
		MasterCustomerID: "cust-master",
	}))

	forMaster, err := trail.ListByCustomer(ctx, "cust-master")
	require.NoError(t, err)
	assert.Len(t, forMaster, 1)

	forSecondary, err := trail.ListByCustomer(ctx, "cust-secondary")
	require.NoError(t, err)
	assert.Len(t, forSecondary, 1)
}

func TestTrailDefaultsTimestamp(t *testing.T) {
	store := NewMemoryStore()
	trail := NewTrail(store)

	require.NoError(t, trail.Deliver(context.Background(), notify.Event{
		Kind:       notify.KindIdentityUpdated,
		CustomerID: "cust-1",
	}))

	events, err := store.ListByCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].Timestamp.IsZero())
}
