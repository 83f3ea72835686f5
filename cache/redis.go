// Package cache opens the optional Redis connection backing the listing cache.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"caff_back/config"
)

const pingTimeout = 2 * time.Second

// Options selects the Redis server.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// OptionsFromSettings picks the REDIS_* values out of settings.
func OptionsFromSettings(s config.Settings) Options {
	return Options{Addr: s.RedisAddr, Password: s.RedisPassword, DB: s.RedisDB}
}

// Open connects to Redis and pings it. An empty address disables the cache:
// Open returns nil without error.
func Open(ctx context.Context, opts Options) (*redis.Client, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping redis %s failed: %w", addr, err)
	}
	return client, nil
}

// Close releases client. A nil client is a no-op.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
