// Package redis provides the shared admission-control limiter backed by
// Redis. Counters use a fixed one-minute window keyed by risk tier, updated
// with an atomic INCR so concurrent admission checks across engine
// instances cannot race.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cascadehq/care/runtime/routing"
)

const defaultPrefix = "care:ratelimit"

// Limiter implements the engine's RateLimiter on Redis.
type Limiter struct {
	client *redis.Client
	prefix string
}

// Options configures the limiter.
type Options struct {
	// Client is the Redis client. Required.
	Client *redis.Client
	// Prefix namespaces the counter keys. Defaults to "care:ratelimit".
	Prefix string
}

// New builds a Limiter.
func New(opts Options) (*Limiter, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Limiter{client: opts.Client, prefix: prefix}, nil
}

// Allow admits the request when the tier's window counter is within limit.
// The counter key embeds the current minute so the window resets
// deterministically; the expiry only reclaims stale keys.
func (l *Limiter) Allow(ctx context.Context, tier routing.RiskPolicy, limit int) (bool, error) {
	key := fmt.Sprintf("%s:%s:%d", l.prefix, tier, time.Now().Unix()/60)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit incr %s: %w", key, err)
	}
	return incr.Val() <= int64(limit), nil
}

// Name implements health.Pinger.
func (l *Limiter) Name() string { return "ratelimit-redis" }

// Ping implements health.Pinger.
func (l *Limiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
