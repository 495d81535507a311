package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civreg/internal/registry/models"
)

func newRedisStore(t *testing.T, now time.Time) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, WithClock(func() time.Time { return now })), mr
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	author := models.Author{Type: models.AuthorSystem, Name: "merge-queue"}

	t.Run("Get for missing lock returns nil", func(t *testing.T) {
		store, _ := newRedisStore(t, now)
		lock, err := store.Get(ctx, "cust-1")
		require.NoError(t, err)
		assert.Nil(t, lock)
	})

	t.Run("Put then Get round-trips author and expiry", func(t *testing.T) {
		store, _ := newRedisStore(t, now)
		require.NoError(t, store.Put(ctx, "cust-1", &models.SuspicionLock{
			ExpiresAt: now.Add(30 * time.Minute),
			Author:    author,
		}))

		lock, err := store.Get(ctx, "cust-1")
		require.NoError(t, err)
		require.NotNil(t, lock)
		assert.Equal(t, author, lock.Author)
		assert.True(t, lock.ExpiresAt.Equal(now.Add(30*time.Minute)))
	})

	t.Run("lock key expires with the redis TTL", func(t *testing.T) {
		store, mr := newRedisStore(t, now)
		require.NoError(t, store.Put(ctx, "cust-1", &models.SuspicionLock{
			ExpiresAt: now.Add(time.Minute),
			Author:    author,
		}))

		mr.FastForward(2 * time.Minute)

		lock, err := store.Get(ctx, "cust-1")
		require.NoError(t, err)
		assert.Nil(t, lock)
	})

	t.Run("Put rejects an already expired lock", func(t *testing.T) {
		store, _ := newRedisStore(t, now)
		err := store.Put(ctx, "cust-1", &models.SuspicionLock{
			ExpiresAt: now.Add(-time.Second),
			Author:    author,
		})
		assert.Error(t, err)
	})

	t.Run("Delete removes the lock", func(t *testing.T) {
		store, _ := newRedisStore(t, now)
		require.NoError(t, store.Put(ctx, "cust-1", &models.SuspicionLock{
			ExpiresAt: now.Add(time.Hour),
			Author:    author,
		}))
		require.NoError(t, store.Delete(ctx, "cust-1"))

		lock, err := store.Get(ctx, "cust-1")
		require.NoError(t, err)
		assert.Nil(t, lock)
	})
}
