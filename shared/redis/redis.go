package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"campusconnect/backend/pkg/config"

	"github.com/redis/go-redis/v9"
)

// NewClient builds a go-redis client from the Redis config group. REDIS_URL
// accepts either host:port or a redis:// URL.
func NewClient(cfg *config.Config) (*redis.Client, error) {
	var opts *redis.Options
	if strings.HasPrefix(cfg.Redis.URL, "redis://") || strings.HasPrefix(cfg.Redis.URL, "rediss://") {
		parsed, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.Redis.URL}
	}

	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	opts.DialTimeout = 5 * time.Second

	return redis.NewClient(opts), nil
}

// Ping returns a health probe for client
func Ping(client *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
