package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper is a pricesync.Deduper backed by Redis SET NX, for
// deployments with more than one intake instance.
type RedisDeduper struct {
	client *redis.Client
}

// NewRedisDeduper constructs a RedisDeduper around an existing client.
func NewRedisDeduper(client *redis.Client) *RedisDeduper {
	return &RedisDeduper{client: client}
}

// Seen records the key with the window as TTL; a failed SETNX means the key
// already exists, i.e. the event is a repeat.
func (d *RedisDeduper) Seen(ctx context.Context, key string, window time.Duration) (bool, error) {
	set, err := d.client.SetNX(ctx, key, "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx %s: %w", key, err)
	}
	return !set, nil
}
