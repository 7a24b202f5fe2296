package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"mathilda/internal/platform/config"
)

// Client embeds the go-redis client and adds the health probe the ops
// endpoint reports on.
type Client struct {
	*redis.Client
}

// New dials Redis from the configuration and verifies the connection with a
// ping. An empty URL returns (nil, nil): Redis is optional and the caller
// falls back to the in-memory KV store.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client}, nil
}

// Health pings the server; a non-nil error marks the service degraded.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.Client.Close()
}
