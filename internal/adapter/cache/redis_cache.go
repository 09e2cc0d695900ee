package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	domain "github.com/farmlink/market-api/internal/entity"
	"github.com/farmlink/market-api/internal/usecase"
)

// RedisOrderCache keeps JSON snapshots of orders under "order:<id>".
type RedisOrderCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisOrderCache(rdb *redis.Client, ttl time.Duration) *RedisOrderCache {
	return &RedisOrderCache{rdb: rdb, ttl: ttl}
}

func orderKey(id string) string { return "order:" + id }

func (r *RedisOrderCache) Get(ctx context.Context, id string) (*domain.Order, bool, error) {
	raw, err := r.rdb.Get(ctx, orderKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var o domain.Order
	if err := json.Unmarshal(raw, &o); err != nil {
		// drop entries we can no longer read
		_ = r.rdb.Del(ctx, orderKey(id)).Err()
		return nil, false, nil
	}
	return &o, true, nil
}

func (r *RedisOrderCache) Set(ctx context.Context, o *domain.Order) error {
	raw, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, orderKey(o.ID), raw, r.ttl).Err()
}

func (r *RedisOrderCache) Invalidate(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, orderKey(id)).Err()
}

var _ usecase.OrderCache = (*RedisOrderCache)(nil)
