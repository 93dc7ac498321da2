// Package redis connects the optional cross-process purchaser info mirror.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"purchasekit/internal/platform/config"
)

// Client wraps the go-redis client the mirror cache runs on. Construction
// verifies connectivity; callers decide whether a mirror is configured at all
// (an empty URL means no mirror, and no Client).
type Client struct {
	*redis.Client
}

func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
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
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Client{Client: client}, nil
}
