// Package redis provides the shared assignment window backed by Redis. Each
// agent's recent selections live in a sorted set scored by selection time,
// pruned on read, so the fairness term sees selections made by every engine
// instance.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "care:assignments"

// Window implements the engine's AssignmentWindow on Redis.
type Window struct {
	client *redis.Client
	prefix string
}

// Options configures the window.
type Options struct {
	// Client is the Redis client. Required.
	Client *redis.Client
	// Prefix namespaces the sorted-set keys. Defaults to "care:assignments".
	Prefix string
}

// New builds a Window.
func New(opts Options) (*Window, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Window{client: opts.Client, prefix: prefix}, nil
}

// Record notes that the agent was selected now. Members carry a unique
// suffix so simultaneous selections are not collapsed into one entry.
func (w *Window) Record(ctx context.Context, agentID string) error {
	now := time.Now()
	key := w.prefix + ":" + agentID

	pipe := w.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString(),
	})
	pipe.Expire(ctx, key, time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("assignment record %s: %w", agentID, err)
	}
	return nil
}

// RecentCount returns the number of selections within the trailing window,
// pruning entries that have aged out.
func (w *Window) RecentCount(ctx context.Context, agentID string, window time.Duration) (int, error) {
	key := w.prefix + ":" + agentID
	cutoff := strconv.FormatInt(time.Now().Add(-window).UnixNano(), 10)

	pipe := w.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("assignment count %s: %w", agentID, err)
	}
	return int(card.Val()), nil
}

// Name implements health.Pinger.
func (w *Window) Name() string { return "assignments-redis" }

// Ping implements health.Pinger.
func (w *Window) Ping(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}
