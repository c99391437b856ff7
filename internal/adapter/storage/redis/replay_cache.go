package redis

import (
	"context"
	"fmt"
	"time"

	"fotofeed-core/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// ReplayCache implements ports.ReplayCache using Redis. It is a fast path
// only: a miss or a cache outage always falls through to the ledger, which
// remains the source of truth.
type ReplayCache struct {
	client *goredis.Client
	prefix string
}

// NewReplayCache creates a new Redis-backed replay cache.
func NewReplayCache(client *goredis.Client) *ReplayCache {
	return &ReplayCache{
		client: client,
		prefix: "event_replay:",
	}
}

func (c *ReplayCache) key(provider, eventID string) string {
	return c.prefix + provider + ":" + eventID
}

// GetStatus retrieves the cached terminal status for an event.
// Returns "" on a miss.
func (c *ReplayCache) GetStatus(ctx context.Context, provider, eventID string) (domain.EventStatus, error) {
	val, err := c.client.Get(ctx, c.key(provider, eventID)).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("redis replay get: %w", err)
	}
	return domain.EventStatus(val), nil
}

// SetStatus caches an event's status with TTL.
func (c *ReplayCache) SetStatus(ctx context.Context, provider, eventID string, status domain.EventStatus, ttl time.Duration) error {
	err := c.client.Set(ctx, c.key(provider, eventID), string(status), ttl).Err()
	if err != nil {
		return fmt.Errorf("redis replay set: %w", err)
	}
	return nil
}
