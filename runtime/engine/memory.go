package engine

import (
	"context"
	"sync"
	"time"

	"github.com/cascadehq/care/runtime/routing"
)

// Process-local fallbacks for the shared stores. They keep single-instance
// deployments and tests self-contained; multi-instance deployments wire the
// Redis-backed implementations under features/ instead.

type (
	memoryLimiter struct {
		mu      sync.Mutex
		windows map[string]*limiterWindow
	}

	limiterWindow struct {
		start time.Time
		count int
	}

	memoryWindow struct {
		mu          sync.Mutex
		assignments map[string][]time.Time
	}

	memoryCounters struct {
		mu         sync.Mutex
		counts     map[string]int64
		latencySum int64
		latencyN   int64
	}
)

func newMemoryLimiter() *memoryLimiter {
	return &memoryLimiter{windows: make(map[string]*limiterWindow)}
}

// Allow implements a fixed one-minute window per tier.
func (l *memoryLimiter) Allow(_ context.Context, tier routing.RiskPolicy, limit int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	w, ok := l.windows[string(tier)]
	if !ok || now.Sub(w.start) >= time.Minute {
		w = &limiterWindow{start: now}
		l.windows[string(tier)] = w
	}
	if w.count >= limit {
		return false, nil
	}
	w.count++
	return true, nil
}

func newMemoryWindow() *memoryWindow {
	return &memoryWindow{assignments: make(map[string][]time.Time)}
}

func (w *memoryWindow) Record(_ context.Context, agentID string) error {
	w.mu.Lock()
	w.assignments[agentID] = append(w.assignments[agentID], time.Now())
	w.mu.Unlock()
	return nil
}

func (w *memoryWindow) RecentCount(_ context.Context, agentID string, window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window)
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.assignments[agentID][:0]
	for _, at := range w.assignments[agentID] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	w.assignments[agentID] = kept
	return len(kept), nil
}

func newMemoryCounters() *memoryCounters {
	return &memoryCounters{counts: make(map[string]int64)}
}

func (c *memoryCounters) Inc(_ context.Context, name string) error {
	c.mu.Lock()
	c.counts[name]++
	c.mu.Unlock()
	return nil
}

func (c *memoryCounters) ObserveLatencyMS(_ context.Context, ms int64) error {
	c.mu.Lock()
	c.latencySum += ms
	c.latencyN++
	c.mu.Unlock()
	return nil
}

func (c *memoryCounters) Snapshot(_ context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{
		Total:           c.counts["total"],
		Routed:          c.counts["routed"],
		Blocked:         c.counts["blocked"],
		RateLimited:     c.counts["rate_limited"],
		NoEligible:      c.counts["no_eligible"],
		Invalid:         c.counts["invalid"],
		Degraded:        c.counts["degraded"],
		PersistFailures: c.counts["persist_failures"],
	}
	if c.latencyN > 0 {
		stats.AvgDecisionLatencyMS = float64(c.latencySum) / float64(c.latencyN)
	}
	return stats, nil
}
