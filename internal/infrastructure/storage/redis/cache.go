package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain/model"
)

// Cache is the shared network tier. Every error degrades to a miss so an
// unreachable redis only lowers the hit rate.
type Cache struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client, prefix string) *Cache {
	if prefix == "" {
		prefix = "price"
	}
	return &Cache{rdb: rdb, prefix: prefix}
}

func (c *Cache) key(coinID string) string { return c.prefix + ":" + coinID }

func (c *Cache) Get(ctx context.Context, coinID string) (*model.PricePoint, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(coinID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var p model.PricePoint
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

func (c *Cache) Set(ctx context.Context, coinID string, p *model.PricePoint, ttl time.Duration) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(coinID), b, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, coinID string) error {
	return c.rdb.Del(ctx, c.key(coinID)).Err()
}

var _ port.SharedCache = (*Cache)(nil)
