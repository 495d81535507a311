package exclusion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civreg/internal/registry/models"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	author := models.Author{Type: models.AuthorUser, Name: "agent-7"}

	t.Run("IsExcluded matches either order", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Insert(ctx, models.NewExclusion("cust-a", "cust-b", author, now)))

		excluded, err := store.IsExcluded(ctx, "cust-a", "cust-b")
		require.NoError(t, err)
		assert.True(t, excluded)

		excluded, err = store.IsExcluded(ctx, "cust-b", "cust-a")
		require.NoError(t, err)
		assert.True(t, excluded)

		excluded, err = store.IsExcluded(ctx, "cust-a", "cust-c")
		require.NoError(t, err)
		assert.False(t, excluded)
	})

	t.Run("DeleteMentioning removes pairs on either side", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Insert(ctx, models.NewExclusion("cust-a", "cust-b", author, now)))
		require.NoError(t, store.Insert(ctx, models.NewExclusion("cust-c", "cust-a", author, now)))
		require.NoError(t, store.Insert(ctx, models.NewExclusion("cust-b", "cust-c", author, now)))

		removed, err := store.DeleteMentioning(ctx, "cust-a")
		require.NoError(t, err)
		assert.Equal(t, 2, removed)

		remaining, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, remaining, 1)
		assert.True(t, remaining[0].Matches("cust-b", "cust-c"))
	})

	t.Run("Insert rejects incomplete pairs", func(t *testing.T) {
		store := NewMemoryStore()
		err := store.Insert(ctx, &models.ExcludedPair{FirstCustomerID: "cust-a"})
		assert.Error(t, err)
	})
}
