// Package idempotency reserves client supplied Idempotency-Key values so a
// retried booking can be answered from the stored appointment.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultPrefix = "carebook:idem:"
	DefaultTTL    = 24 * time.Hour
)

// Store keeps reservations in Redis with a TTL.
type Store struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, prefix: DefaultPrefix, ttl: ttl}
}

// Reserve records value under key unless the key is already held. It reports
// whether this call took the reservation and, when it did not, the value the
// earlier holder stored.
func (s *Store) Reserve(ctx context.Context, key, value string) (bool, string, error) {
	ok, err := s.rdb.SetNX(ctx, s.prefix+key, value, s.ttl).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, value, nil
	}

	existing, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; try once more.
		ok, err = s.rdb.SetNX(ctx, s.prefix+key, value, s.ttl).Result()
		if err != nil {
			return false, "", err
		}
		if ok {
			return true, value, nil
		}
		existing, err = s.rdb.Get(ctx, s.prefix+key).Result()
	}
	if err != nil {
		return false, "", err
	}
	return false, existing, nil
}

// Release drops a reservation so the client may retry with the same key.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}

// Noop is used when Redis is not configured; every key is reserved.
type Noop struct{}

func (Noop) Reserve(ctx context.Context, key, value string) (bool, string, error) {
	return true, value, nil
}

func (Noop) Release(ctx context.Context, key string) error {
	return nil
}
