package fraud

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Deduplicator remembers which transfers are being or have been analyzed.
type Deduplicator interface {
	// Mark reports true when the caller is the first to claim transferID.
	Mark(ctx context.Context, transferID uuid.UUID) (bool, error)
	// Release forgets transferID so a redelivery is analyzed again.
	Release(ctx context.Context, transferID uuid.UUID) error
}

// RedisDeduplicator claims transfer ids with SET NX and a TTL.
type RedisDeduplicator struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
}

func NewRedisDeduplicator(client redis.Cmdable, ttl time.Duration) *RedisDeduplicator {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduplicator{client: client, ttl: ttl, prefix: "wallet:fraud:processed:"}
}

func (d *RedisDeduplicator) key(id uuid.UUID) string {
	return d.prefix + id.String()
}

func (d *RedisDeduplicator) Mark(ctx context.Context, transferID uuid.UUID) (bool, error) {
	return d.client.SetNX(ctx, d.key(transferID), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
}

func (d *RedisDeduplicator) Release(ctx context.Context, transferID uuid.UUID) error {
	return d.client.Del(ctx, d.key(transferID)).Err()
}
