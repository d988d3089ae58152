package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps derived stock figures in Redis behind a TTL. It is a
// best-effort side channel, never authoritative: the ledger sum is always
// the ground truth and every reader may bypass and recompute.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func keyProduct(productID int64) string {
	return fmt.Sprintf("stock:product:%d", productID)
}

func keyVariant(variantID int64) string {
	return fmt.Sprintf("stock:variant:%d", variantID)
}

const (
	keyTodayInbound  = "stock:today:in"
	keyTodayOutbound = "stock:today:out"
	keyTotalValue    = "stock:value:total"
)

// FetchInt64 loads a cached integer or populates it via loader. The bool
// result reports a cache hit. Redis failures degrade to the loader.
func (c *Cache) FetchInt64(ctx context.Context, key string, loader func(context.Context) (int64, error)) (int64, bool, error) {
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		return value, false, err
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		if value, parseErr := strconv.ParseInt(raw, 10, 64); parseErr == nil {
			return value, true, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		value, loadErr := loader(ctx)
		return value, false, loadErr
	}
	value, err := loader(ctx)
	if err != nil {
		return 0, false, err
	}
	_ = c.client.Set(ctx, key, strconv.FormatInt(value, 10), c.ttl).Err()
	return value, false, nil
}

// FetchString loads a cached string or populates it via loader, same
// degradation rules as FetchInt64.
func (c *Cache) FetchString(ctx context.Context, key string, loader func(context.Context) (string, error)) (string, bool, error) {
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		return value, false, err
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return raw, true, nil
	}
	if !errors.Is(err, redis.Nil) {
		value, loadErr := loader(ctx)
		return value, false, loadErr
	}
	value, err := loader(ctx)
	if err != nil {
		return "", false, err
	}
	_ = c.client.Set(ctx, key, value, c.ttl).Err()
	return value, false, nil
}

// Invalidate drops the cached figures a committed write can touch. The
// fan-out is a fixed, enumerated list on purpose: the dependent aggregate
// keys (today's totals, total stock value) have no direct link to the
// written row and would otherwise go stale silently.
func (c *Cache) Invalidate(ctx context.Context, productID int64, variantIDs []int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	keys := []string{
		keyProduct(productID),
		keyTodayInbound,
		keyTodayOutbound,
		keyTotalValue,
	}
	for _, variantID := range variantIDs {
		keys = append(keys, keyVariant(variantID))
	}
	return c.client.Del(ctx, keys...).Err()
}
