// Package redis provides the shared routing-statistics counters backed by
// Redis, so the stats endpoint aggregates decisions across every engine
// instance.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/cascadehq/care/runtime/engine"
)

const defaultKey = "care:stats"

// Counters implements the engine's CounterStore on a single Redis hash.
type Counters struct {
	client *redis.Client
	key    string
}

// Options configures the counters.
type Options struct {
	// Client is the Redis client. Required.
	Client *redis.Client
	// Key names the stats hash. Defaults to "care:stats".
	Key string
}

// New builds a Counters store.
func New(opts Options) (*Counters, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	key := opts.Key
	if key == "" {
		key = defaultKey
	}
	return &Counters{client: opts.Client, key: key}, nil
}

// Inc increments one outcome counter.
func (c *Counters) Inc(ctx context.Context, name string) error {
	if err := c.client.HIncrBy(ctx, c.key, name, 1).Err(); err != nil {
		return fmt.Errorf("stats incr %s: %w", name, err)
	}
	return nil
}

// ObserveLatencyMS accumulates one decision latency observation.
func (c *Counters) ObserveLatencyMS(ctx context.Context, ms int64) error {
	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, c.key, "latency_sum_ms", ms)
	pipe.HIncrBy(ctx, c.key, "latency_count", 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stats latency: %w", err)
	}
	return nil
}

// Snapshot reads the aggregate statistics.
func (c *Counters) Snapshot(ctx context.Context) (engine.Stats, error) {
	fields, err := c.client.HGetAll(ctx, c.key).Result()
	if err != nil {
		return engine.Stats{}, fmt.Errorf("stats read: %w", err)
	}
	get := func(name string) int64 {
		n, _ := strconv.ParseInt(fields[name], 10, 64)
		return n
	}
	stats := engine.Stats{
		Total:           get("total"),
		Routed:          get("routed"),
		Blocked:         get("blocked"),
		RateLimited:     get("rate_limited"),
		NoEligible:      get("no_eligible"),
		Invalid:         get("invalid"),
		Degraded:        get("degraded"),
		PersistFailures: get("persist_failures"),
	}
	if n := get("latency_count"); n > 0 {
		stats.AvgDecisionLatencyMS = float64(get("latency_sum_ms")) / float64(n)
	}
	return stats, nil
}

// Name implements health.Pinger.
func (c *Counters) Name() string { return "stats-redis" }

// Ping implements health.Pinger.
func (c *Counters) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
