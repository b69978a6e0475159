package stock

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// BalanceCache is a read-through Redis cache for current-balance queries.
// Entries carry a short TTL and are invalidated on every committed movement,
// so listing pages never serve a balance more than a few seconds stale.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewBalanceCache constructs the cache.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(bucket Bucket) string {
	return "stock:balance:" + bucket.String()
}

// Get returns the cached balance or loads it, collapsing concurrent loads of
// the same bucket into one query.
func (c *BalanceCache) Get(ctx context.Context, bucket Bucket, load func(context.Context) (Balance, error)) (Balance, error) {
	key := balanceKey(bucket)
	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var bal Balance
		if err := json.Unmarshal(data, &bal); err == nil {
			return bal, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		bal, err := load(ctx)
		if err != nil {
			return Balance{}, err
		}
		if data, err := json.Marshal(bal); err == nil {
			c.client.Set(ctx, key, data, c.ttl)
		}
		return bal, nil
	})
	if err != nil {
		return Balance{}, err
	}
	return v.(Balance), nil
}

// Invalidate drops the cached entry for a bucket.
func (c *BalanceCache) Invalidate(ctx context.Context, bucket Bucket) {
	c.client.Del(ctx, balanceKey(bucket))
}
