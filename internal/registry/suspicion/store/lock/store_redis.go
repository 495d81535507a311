package lock

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"civreg/internal/registry/models"
	id "civreg/pkg/domain"
	dErrors "civreg/pkg/domain-errors"
)

const lockKeyPrefix = "suspicion:lock:"

// RedisStore is a Redis-backed LockStore. The key TTL mirrors the lock
// expiry, so Redis reclaims stale locks on its own and DeleteExpired has
// nothing to do.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithClock overrides the time source used to derive key TTLs. For tests.
func WithClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) { s.now = now }
}

func NewRedisStore(client *redis.Client, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

type lockRecord struct {
	ExpiresAt  time.Time `json:"expires_at"`
	AuthorType string    `json:"author_type"`
	AuthorName string    `json:"author_name"`
}

func (s *RedisStore) Get(ctx context.Context, cuid id.CustomerID) (*models.SuspicionLock, error) {
	raw, err := s.client.Get(ctx, lockKeyPrefix+string(cuid)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get suspicion lock")
	}
	var record lockRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode suspicion lock")
	}
	return &models.SuspicionLock{
		ExpiresAt: record.ExpiresAt,
		Author: models.Author{
			Type: models.AuthorType(record.AuthorType),
			Name: record.AuthorName,
		},
	}, nil
}

func (s *RedisStore) Put(ctx context.Context, cuid id.CustomerID, lock *models.SuspicionLock) error {
	ttl := lock.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return dErrors.New(dErrors.CodeValidation, "lock already expired")
	}
	raw, err := json.Marshal(lockRecord{
		ExpiresAt:  lock.ExpiresAt,
		AuthorType: string(lock.Author.Type),
		AuthorName: lock.Author.Name,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode suspicion lock")
	}
	if err := s.client.Set(ctx, lockKeyPrefix+string(cuid), raw, ttl).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "store suspicion lock")
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, cuid id.CustomerID) error {
	if err := s.client.Del(ctx, lockKeyPrefix+string(cuid)).Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete suspicion lock")
	}
	return nil
}

// DeleteExpired is a no-op: Redis expires lock keys natively.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
