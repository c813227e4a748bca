// Package cache puts Redis in front of receipt lookups.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = time.Hour

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// client is the subset of *redis.Client the caches use.
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Close() error
}

// Dial connects to Redis. It returns a nil client when no address is
// configured, which the caches treat as pass-through.
func Dial(ctx context.Context, cfg Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}

func isMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}
