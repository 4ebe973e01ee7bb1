package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/docstore"
)

// Counter implements docstore.Counter on Redis INCR. A missing key is seeded
// once with SETNX so concurrent callers agree on the starting value.
type Counter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCounter builds a counter whose keys expire after ttl of inactivity.
func NewCounter(client *redis.Client, prefix string, ttl time.Duration) *Counter {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Counter{client: client, prefix: prefix, ttl: ttl}
}

// Next implements docstore.Counter.
func (c *Counter) Next(ctx context.Context, key string, seed docstore.SeedFunc) (int64, error) {
	full := c.prefix + key
	exists, err := c.client.Exists(ctx, full).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
	}
	if exists == 0 {
		var start int64
		if seed != nil {
			if start, err = seed(ctx); err != nil {
				return 0, err
			}
		}
		if err := c.client.SetNX(ctx, full, start, c.ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
		}
	}

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, full)
	pipe.Expire(ctx, full, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", docstore.ErrUnavailable, err)
	}
	return incr.Val(), nil
}
