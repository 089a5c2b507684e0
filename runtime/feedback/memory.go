package feedback

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cascadehq/care/runtime/routing"
)

// maxSamples caps the latency samples kept per agent for the p95 estimate.
const maxSamples = 100

// MemoryStore is a process-local Store for development and tests.
// Production deployments share vectors across instances via
// features/vectors/redis.
type MemoryStore struct {
	mu     sync.Mutex
	window time.Duration
	agents map[string]*agentAggregates
}

type agentAggregates struct {
	total          int64
	successes      int64
	riskViolations int64
	fallbacks      int64
	latencySum     int64
	samples        []int64
	expiresAt      time.Time
}

// NewMemoryStore creates an empty in-memory store with the given rolling
// window; zero means DefaultWindow.
func NewMemoryStore(window time.Duration) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryStore{window: window, agents: make(map[string]*agentAggregates)}
}

// Ingest applies one outcome to the agent's rolling aggregates. Aggregates
// past their window restart from empty.
func (s *MemoryStore) Ingest(_ context.Context, out routing.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.agents[out.AgentID]
	if !ok || time.Now().After(agg.expiresAt) {
		agg = &agentAggregates{expiresAt: time.Now().Add(s.window)}
		s.agents[out.AgentID] = agg
	}
	agg.total++
	if out.Success {
		agg.successes++
	}
	if out.RiskViolated {
		agg.riskViolations++
	}
	if out.WasFallback {
		agg.fallbacks++
	}
	agg.latencySum += out.LatencyMS
	agg.samples = append(agg.samples, out.LatencyMS)
	if len(agg.samples) > maxSamples {
		agg.samples = agg.samples[len(agg.samples)-maxSamples:]
	}
	return nil
}

// Vector derives the current performance vector. Agents without evidence in
// the window yield the optimistic default.
func (s *MemoryStore) Vector(_ context.Context, agentID string) (routing.PerformanceVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.agents[agentID]
	if !ok || time.Now().After(agg.expiresAt) || agg.total == 0 {
		return routing.DefaultVector(agentID), nil
	}
	return routing.PerformanceVector{
		AgentID:           agentID,
		AvgLatencyMS:      float64(agg.latencySum) / float64(agg.total),
		P95LatencyMS:      p95(agg.samples),
		SuccessRate:       float64(agg.successes) / float64(agg.total),
		RiskViolationRate: float64(agg.riskViolations) / float64(agg.total),
		FallbackRate:      float64(agg.fallbacks) / float64(agg.total),
		FairnessScore:     1.0,
		SampleCount:       agg.total,
		WindowExpiresAt:   agg.expiresAt.UTC(),
	}, nil
}

// p95 estimates the 95th-percentile latency from the retained samples.
func p95(samples []int64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted)*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	return float64(sorted[idx])
}
