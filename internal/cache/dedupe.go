// Package cache holds the redis-backed dedupe store for carrier status
// callbacks. Carriers redeliver callbacks on timeouts, so the same
// (message, status) pair can arrive several times within seconds.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "textline:callback:"

// DedupeStore remembers recently applied status updates. Losing an entry
// is harmless; the delivery log's transition guard turns a replayed update
// into a no-op write.
type DedupeStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDedupeStore(client *redis.Client, ttl time.Duration) *DedupeStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &DedupeStore{client: client, ttl: ttl}
}

// Seen reports whether key was already marked. The check and the mark are
// split so callers only Mark once an update has actually been handled; a
// concurrent redelivery slipping between the two is caught by the delivery
// log's transition guard.
func (s *DedupeStore) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, dedupeKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe exists: %w", err)
	}
	return n > 0, nil
}

// Mark records key as handled for the configured TTL.
func (s *DedupeStore) Mark(ctx context.Context, key string) error {
	if err := s.client.Set(ctx, dedupeKeyPrefix+key, 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("dedupe set: %w", err)
	}
	return nil
}
