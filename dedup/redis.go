package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis, for deployments where multiple
// worker processes consume the same logical queue. Keys carry a TTL equal to
// the retention window; SET NX makes check-then-commit races converge on a
// single winner without locking around the handler.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// RedisOption configures the RedisStore.
type RedisOption func(*RedisStore)

// WithRedisRetention sets the key TTL. Zero means keys never expire.
func WithRedisRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.retention = d
	}
}

// WithKeyPrefix sets the key namespace prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed dedup store.
func NewRedisStore(client *redis.Client, options ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		prefix:    "taskrelay:dedup:",
		retention: 24 * time.Hour,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// HasProcessed implements Store.
func (s *RedisStore) HasProcessed(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: exists check failed for %s: %w", id, err)
	}
	return n > 0, nil
}

// Commit implements Store. SET NX keeps the first committed digest; a
// concurrent duplicate commit is a no-op, which is fine because the value is
// idempotent.
func (s *RedisStore) Commit(ctx context.Context, id string, resultDigest string) error {
	if err := s.client.SetNX(ctx, s.key(id), resultDigest, s.retention).Err(); err != nil {
		return fmt.Errorf("dedup: commit failed for %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}
