// Package cache provides the Redis access layer: per-IP rate limits,
// the cross-replica refresh lock and the market-chart cache.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client with the operations the service needs.
type Cache struct {
	client *redis.Client
}

// Option adjusts the client options before connecting.
type Option func(*redis.Options)

// WithPoolSize caps the connection pool. Values below 1 are ignored.
func WithPoolSize(n int) Option {
	return func(o *redis.Options) {
		if n > 0 {
			o.PoolSize = n
			if o.MinIdleConns > n {
				o.MinIdleConns = n
			}
		}
	}
}

// New parses redisURL, connects and verifies the server with a ping.
func New(ctx context.Context, redisURL string, opts ...Option) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse Redis URL: %w", err)
	}

	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.ClientName = "coinpulse"
	for _, o := range opts {
		o(opt)
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the raw client to integration tests.
func (c *Cache) Client() *redis.Client {
	return c.client
}
