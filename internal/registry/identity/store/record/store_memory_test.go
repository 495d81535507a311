package record

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civreg/internal/registry/duplicates"
	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

func newIdentity(cuid string, now time.Time, attrs ...*models.AttributeValue) *models.Identity {
	identity := models.NewIdentity(id.CustomerID(cuid), now)
	for _, attr := range attrs {
		identity.SetAttribute(attr)
	}
	return identity
}

func attr(key models.AttributeKey, value string) *models.AttributeValue {
	return &models.AttributeValue{Key: key, Value: value, Certifier: "CIVIL", Level: 200}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("GetByCustomerID for missing identity is not found", func(t *testing.T) {
		store := NewMemoryStore()
		_, err := store.GetByCustomerID(ctx, "missing")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("Save then load by all three keys", func(t *testing.T) {
		store := NewMemoryStore()
		identity := newIdentity("cust-1", now, attr("email", "a@example.org"))
		identity.ConnectionID = "conn-1"
		require.NoError(t, store.Save(ctx, identity))

		byCustomer, err := store.GetByCustomerID(ctx, "cust-1")
		require.NoError(t, err)
		assert.Equal(t, identity.ID, byCustomer.ID)
		assert.Equal(t, "a@example.org", byCustomer.Attribute("email").Value)

		byID, err := store.GetByID(ctx, identity.ID)
		require.NoError(t, err)
		assert.Equal(t, "cust-1", string(byID.CustomerID))

		byConn, err := store.GetByConnectionID(ctx, "conn-1")
		require.NoError(t, err)
		assert.Equal(t, "cust-1", string(byConn.CustomerID))
	})

	t.Run("Save returns clones, not aliases", func(t *testing.T) {
		store := NewMemoryStore()
		identity := newIdentity("cust-1", now, attr("email", "a@example.org"))
		require.NoError(t, store.Save(ctx, identity))

		loaded, err := store.GetByCustomerID(ctx, "cust-1")
		require.NoError(t, err)
		loaded.Attribute("email").Value = "mutated"

		again, err := store.GetByCustomerID(ctx, "cust-1")
		require.NoError(t, err)
		assert.Equal(t, "a@example.org", again.Attribute("email").Value)
	})

	t.Run("connection id held by another identity conflicts", func(t *testing.T) {
		store := NewMemoryStore()
		first := newIdentity("cust-1", now)
		first.ConnectionID = "conn-1"
		require.NoError(t, store.Save(ctx, first))

		second := newIdentity("cust-2", now)
		second.ConnectionID = "conn-1"
		err := store.Save(ctx, second)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

		// Re-saving the holder itself is fine.
		require.NoError(t, store.Save(ctx, first))
	})

	t.Run("ListActive skips merged and deleted and pages in order", func(t *testing.T) {
		store := NewMemoryStore()
		for _, cuid := range []string{"cust-c", "cust-a", "cust-b"} {
			require.NoError(t, store.Save(ctx, newIdentity(cuid, now)))
		}
		deleted := newIdentity("cust-d", now)
		deleted.ApplySoftDelete(now)
		require.NoError(t, store.Save(ctx, deleted))

		page, err := store.ListActive(ctx, 0, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "cust-a", string(page[0].CustomerID))
		assert.Equal(t, "cust-b", string(page[1].CustomerID))

		page, err = store.ListActive(ctx, 2, 2)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "cust-c", string(page[0].CustomerID))

		page, err = store.ListActive(ctx, 10, 2)
		require.NoError(t, err)
		assert.Empty(t, page)
	})
}

func TestMemoryStoreFindCandidates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()

	require.NoError(t, store.Save(ctx, newIdentity("cust-1", now,
		attr(models.KeyFamilyName, "Du-Pont"),
		attr(models.KeyBirthDate, "1990-01-01"),
	)))
	require.NoError(t, store.Save(ctx, newIdentity("cust-2", now,
		attr(models.KeyFamilyName, "Martin"),
		attr(models.KeyBirthDate, "1990-01-01"),
	)))

	t.Run("exact match is case-insensitive", func(t *testing.T) {
		found, err := store.FindCandidates(ctx, duplicates.SearchQuery{
			Attributes: map[models.AttributeKey]string{
				models.KeyFamilyName: "MARTIN",
				models.KeyBirthDate:  "1990-01-01",
			},
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "cust-2", string(found[0].CustomerID))
	})

	t.Run("fuzzy match ignores spaces and hyphens", func(t *testing.T) {
		found, err := store.FindCandidates(ctx, duplicates.SearchQuery{
			Attributes: map[models.AttributeKey]string{models.KeyFamilyName: "du pont"},
			MatchTypes: map[models.AttributeKey]models.MatchType{models.KeyFamilyName: models.MatchFuzzy},
		})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "cust-1", string(found[0].CustomerID))
	})

	t.Run("excluded customer id never matches itself", func(t *testing.T) {
		found, err := store.FindCandidates(ctx, duplicates.SearchQuery{
			Attributes:        map[models.AttributeKey]string{models.KeyFamilyName: "Martin"},
			ExcludeCustomerID: "cust-2",
		})
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("any unmatched key disqualifies", func(t *testing.T) {
		found, err := store.FindCandidates(ctx, duplicates.SearchQuery{
			Attributes: map[models.AttributeKey]string{
				models.KeyFamilyName: "Martin",
				models.KeyBirthDate:  "2000-12-31",
			},
		})
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}
