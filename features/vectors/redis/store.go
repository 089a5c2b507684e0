// Package redis provides the shared performance-vector store backed by
// Redis. Per-agent aggregates live in a hash with a rolling-window TTL, plus
// a capped list of latency samples for the p95 estimate. Multiple engine
// instances ingest and read concurrently through atomic hash increments.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cascadehq/care/runtime/routing"
)

const (
	defaultPrefix = "care:vectors"
	// maxSamples caps the retained latency samples per agent.
	maxSamples = 100
)

// Store implements feedback.Store on Redis.
type Store struct {
	client *redis.Client
	prefix string
	window time.Duration
}

// Options configures the store.
type Options struct {
	// Client is the Redis client. Required.
	Client *redis.Client
	// Prefix namespaces the aggregate keys. Defaults to "care:vectors".
	Prefix string
	// Window is the rolling aggregation window. Defaults to 24h.
	Window time.Duration
}

// New builds a Store.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	window := opts.Window
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Store{client: opts.Client, prefix: prefix, window: window}, nil
}

// Ingest applies one outcome to the agent's aggregates. The window TTL is
// set only when the hash is created, so aggregates expire as a block rather
// than sliding with every outcome.
func (s *Store) Ingest(ctx context.Context, out routing.Outcome) error {
	key := s.key(out.AgentID)
	samplesKey := key + ":samples"

	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "total", 1)
	if out.Success {
		pipe.HIncrBy(ctx, key, "successes", 1)
	}
	if out.RiskViolated {
		pipe.HIncrBy(ctx, key, "risk_violations", 1)
	}
	if out.WasFallback {
		pipe.HIncrBy(ctx, key, "fallbacks", 1)
	}
	pipe.HIncrBy(ctx, key, "latency_sum", out.LatencyMS)
	pipe.LPush(ctx, samplesKey, out.LatencyMS)
	pipe.LTrim(ctx, samplesKey, 0, maxSamples-1)
	pipe.ExpireNX(ctx, key, s.window)
	pipe.Expire(ctx, samplesKey, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("vector ingest %s: %w", out.AgentID, err)
	}
	return nil
}

// Vector derives the agent's current performance vector. Agents without
// aggregates in the window yield the optimistic default.
func (s *Store) Vector(ctx context.Context, agentID string) (routing.PerformanceVector, error) {
	key := s.key(agentID)

	pipe := s.client.TxPipeline()
	fields := pipe.HGetAll(ctx, key)
	samples := pipe.LRange(ctx, key+":samples", 0, maxSamples-1)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return routing.PerformanceVector{}, fmt.Errorf("vector read %s: %w", agentID, err)
	}

	agg := fields.Val()
	total := parseInt(agg["total"])
	if total == 0 {
		return routing.DefaultVector(agentID), nil
	}

	vec := routing.PerformanceVector{
		AgentID:           agentID,
		AvgLatencyMS:      float64(parseInt(agg["latency_sum"])) / float64(total),
		P95LatencyMS:      p95(samples.Val()),
		SuccessRate:       float64(parseInt(agg["successes"])) / float64(total),
		RiskViolationRate: float64(parseInt(agg["risk_violations"])) / float64(total),
		FallbackRate:      float64(parseInt(agg["fallbacks"])) / float64(total),
		FairnessScore:     1.0,
		SampleCount:       total,
	}
	if d := ttl.Val(); d > 0 {
		vec.WindowExpiresAt = time.Now().Add(d).UTC()
	}
	return vec, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string { return "vectors-redis" }

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) key(agentID string) string {
	return s.prefix + ":" + agentID
}

func parseInt(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

func p95(raw []string) float64 {
	if len(raw) == 0 {
		return 0
	}
	sorted := make([]int64, 0, len(raw))
	for _, v := range raw {
		sorted = append(sorted, parseInt(v))
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted)*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	return float64(sorted[idx])
}
