package sms

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduplicator suppresses webhook retries of a message already handled
type Deduplicator interface {
	// FirstSeen records id and reports whether it was new
	FirstSeen(ctx context.Context, id string) (bool, error)
}

// NoopDeduplicator treats every message as new
type NoopDeduplicator struct{}

// FirstSeen always reports true
func (NoopDeduplicator) FirstSeen(ctx context.Context, id string) (bool, error) {
	return true, nil
}

// RedisDeduplicator remembers message ids in Redis for a fixed time
type RedisDeduplicator struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

// NewRedisDeduplicator creates a deduplicator keyed under "coyote:inbound:"
func NewRedisDeduplicator(client redis.Cmdable, ttl time.Duration) *RedisDeduplicator {
	return &RedisDeduplicator{
		client: client,
		ttl:    ttl,
		prefix: "coyote:inbound:",
	}
}

// FirstSeen sets the key only if absent, so exactly one delivery wins
func (d *RedisDeduplicator) FirstSeen(ctx context.Context, id string) (bool, error) {
	return d.client.SetNX(ctx, d.prefix+id, time.Now().Unix(), d.ttl).Result()
}
