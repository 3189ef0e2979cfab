package services

import (
	"context"
	"encoding/json"
	"time"

	"billing/internal/gateway"

	"github.com/go-redis/redis/v8"
)

// RedisStatusCache keeps the gateway's last answer for a short TTL so the
// poll channel is cheap while a QR modal is open. The cache is strictly
// best-effort: errors degrade to a gateway round trip.
type RedisStatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStatusCache(rdb *redis.Client, ttl time.Duration) *RedisStatusCache {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &RedisStatusCache{rdb: rdb, ttl: ttl}
}

func statusKey(orderID string) string {
	return "sbp:status:" + orderID
}

func (c *RedisStatusCache) Get(ctx context.Context, orderID string) (gateway.StatusResult, bool) {
	data, err := c.rdb.Get(ctx, statusKey(orderID)).Bytes()
	if err != nil {
		return gateway.StatusResult{}, false
	}
	var status gateway.StatusResult
	if err := json.Unmarshal(data, &status); err != nil {
		return gateway.StatusResult{}, false
	}
	return status, true
}

func (c *RedisStatusCache) Set(ctx context.Context, orderID string, status gateway.StatusResult) {
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	_ = c.rdb.Set(ctx, statusKey(orderID), data, c.ttl).Err()
}
