// Package cache implements the optional promotions read cache on Redis.
// The server reads through it; the coordinator invalidates entries
// after the nightly replacement so readers converge within one request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldnotes-io/tipline/internal/domain"
)

const keyPrefix = "tipline:promotions:"

// PromotionCache caches per-location promotion lists with a TTL.
type PromotionCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New constructs a PromotionCache. A zero TTL falls back to 60s.
func New(rdb *redis.Client, ttl time.Duration) *PromotionCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &PromotionCache{rdb: rdb, ttl: ttl}
}

func key(locationID int64) string { return keyPrefix + strconv.FormatInt(locationID, 10) }

// Get returns the cached promotion list and whether it was present.
// Cache failures surface as misses with the error attached; callers
// fall through to the database.
func (c *PromotionCache) Get(ctx context.Context, locationID int64) ([]domain.Promotion, bool, error) {
	raw, err := c.rdb.Get(ctx, key(locationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("op=cache.promotions.get: %w", err)
	}
	var promos []domain.Promotion
	if err := json.Unmarshal(raw, &promos); err != nil {
		// Corrupt entry: treat as a miss, it will be rewritten.
		return nil, false, fmt.Errorf("op=cache.promotions.get: %w", err)
	}
	return promos, true, nil
}

// Set stores a promotion list under the configured TTL.
func (c *PromotionCache) Set(ctx context.Context, locationID int64, promos []domain.Promotion) error {
	raw, err := json.Marshal(promos)
	if err != nil {
		return fmt.Errorf("op=cache.promotions.set: %w", err)
	}
	if err := c.rdb.Set(ctx, key(locationID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("op=cache.promotions.set: %w", err)
	}
	return nil
}

// Invalidate drops the cached list for a location.
func (c *PromotionCache) Invalidate(ctx context.Context, locationID int64) error {
	if err := c.rdb.Del(ctx, key(locationID)).Err(); err != nil {
		return fmt.Errorf("op=cache.promotions.invalidate: %w", err)
	}
	return nil
}
