package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coinpulse/coinpulse/internal/model"
)

const chartKeyPrefix = "chart:"

// ErrCacheMiss is returned when the key is absent.
var ErrCacheMiss = errors.New("cache miss")

func chartKey(coinID string, days int) string {
	return chartKeyPrefix + coinID + ":" + strconv.Itoa(days)
}

// GetChart returns a cached price series. Returns ErrCacheMiss if absent.
func (c *Cache) GetChart(ctx context.Context, coinID string, days int) ([]model.PricePoint, error) {
	raw, err := c.client.Get(ctx, chartKey(coinID, days)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var points []model.PricePoint
	if err := json.Unmarshal(raw, &points); err != nil {
		// Corrupt entry; treat as a miss so the caller refetches.
		c.client.Del(ctx, chartKey(coinID, days))
		return nil, ErrCacheMiss
	}
	return points, nil
}

// SetChart caches a price series for ttl.
func (c *Cache) SetChart(ctx context.Context, coinID string, days int, points []model.PricePoint, ttl time.Duration) error {
	raw, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("marshal chart: %w", err)
	}
	if err := c.client.Set(ctx, chartKey(coinID, days), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
