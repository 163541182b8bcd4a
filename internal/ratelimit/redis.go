package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter shared by every instance pointed at the
// same Redis server.
type Redis struct {
	client *redis.Client
	prefix string
	limit  int
	period time.Duration
}

// NewRedis creates a limiter storing counters under prefix.
func NewRedis(client *redis.Client, prefix string, limit int, period time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, limit: limit, period: period}
}

// NewRedisClient parses url and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// Allow implements Limiter. The window starts when the counter is
// created; EXPIRE NX keeps later hits from extending it.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := r.prefix + key
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, r.period)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("increment rate counter: %w", err)
	}
	return incr.Val() <= int64(r.limit), nil
}
