// Package redis backs the cache with go-redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/bastionlabs/bastion/internal/cache"
	rdb "github.com/redis/go-redis/v9"
)

type Client struct {
	client *rdb.Client
	prefix string
}

// Config for the Redis cache backend.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New connects and pings the Redis server.
func New(cfg Config) (cache.Client, error) {
	c := rdb.NewClient(&rdb.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis ping failed: %w", err)
	}

	return &Client{client: c, prefix: cfg.Prefix}, nil
}

func (c *Client) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *Client) Get(ctx context.Context, k string) ([]byte, bool) {
	b, err := c.client.Get(ctx, c.key(k)).Bytes()
	if err != nil {
		return nil, false
	}
	return b, true
}

func (c *Client) Set(ctx context.Context, k string, v []byte, ttl time.Duration) {
	_ = c.client.Set(ctx, c.key(k), v, ttl).Err()
}

func (c *Client) Delete(ctx context.Context, k string) {
	_ = c.client.Del(ctx, c.key(k)).Err()
}

func (c *Client) Close() error {
	return c.client.Close()
}
