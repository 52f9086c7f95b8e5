package dedup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "bf1942:sent:"

// RedisGuard keeps delivery records in Redis with a TTL, for deployments that
// run the engine next to a shared cache instead of relying on the local
// SQLite file.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard creates a guard. A zero ttl keeps records forever.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func key(userID, identity string) string {
	return keyPrefix + userID + ":" + identity
}

// AlreadySent reports whether the pair has been recorded.
func (g *RedisGuard) AlreadySent(ctx context.Context, userID, identity string) (bool, error) {
	n, err := g.client.Exists(ctx, key(userID, identity)).Result()
	if err != nil {
		return false, fmt.Errorf("check delivery record: %w", err)
	}
	return n > 0, nil
}

// RecordSent stores the pair. An existing record keeps its original
// timestamp.
func (g *RedisGuard) RecordSent(ctx context.Context, userID, identity string, at time.Time) error {
	err := g.client.SetNX(ctx, key(userID, identity), strconv.FormatInt(at.Unix(), 10), g.ttl).Err()
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (g *RedisGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}
