// Package redis provides the shared probe-result cache backed by Redis.
// Entries carry their own cached_until timestamp in addition to the Redis
// TTL, so a stale entry is never served even if expiry lags.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cascadehq/care/runtime/probe"
)

const defaultPrefix = "care:probe"

// Cache implements probe.Cache on Redis.
type Cache struct {
	client *redis.Client
	prefix string
}

// Options configures the cache.
type Options struct {
	// Client is the Redis client. Required.
	Client *redis.Client
	// Prefix namespaces the cache keys. Defaults to "care:probe".
	Prefix string
}

// New builds a Cache.
func New(opts Options) (*Cache, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Cache{client: opts.Client, prefix: prefix}, nil
}

// Get returns the cached probe result when a fresh entry exists.
func (c *Cache) Get(ctx context.Context, key string) (probe.Result, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+":"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return probe.Result{}, false, nil
	}
	if err != nil {
		return probe.Result{}, false, fmt.Errorf("probe cache get %s: %w", key, err)
	}
	var res probe.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return probe.Result{}, false, fmt.Errorf("probe cache decode %s: %w", key, err)
	}
	if !res.CachedUntil.IsZero() && time.Now().After(res.CachedUntil) {
		return probe.Result{}, false, nil
	}
	return res, true, nil
}

// Set stores the result under the cache TTL.
func (c *Cache) Set(ctx context.Context, key string, res probe.Result, ttl time.Duration) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("probe cache encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, c.prefix+":"+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("probe cache set %s: %w", key, err)
	}
	return nil
}
