// Package probe implements the capability probe subsystem: real-time
// availability checks of the infrastructure dependencies an agent candidate
// declares (databases, caches, API keys, HTTP endpoints, peer agents).
//
// Probes for one candidate's dependency set run concurrently, each bounded
// by a short timeout. Results are cached per (type, target) key with a TTL
// in a shared store; cache-store failures never fail a probe (fail-open).
// Hard dependencies fail closed on timeout, soft dependencies fail open:
// wrongly blocking a candidate costs more than wrongly degrading one.
package probe

import (
	"context"
	"time"

	"github.com/cascadehq/care/runtime/routing"
)

type (
	// Result is the outcome of probing one dependency target.
	Result struct {
		Type      routing.DependencyType `json:"probe_type"`
		Target    string                 `json:"target"`
		Available bool                   `json:"available"`
		LatencyMS int64                  `json:"latency_ms"`
		Hardness  routing.Hardness       `json:"hardness"`
		// CachedUntil is the expiry of the cache entry holding this result.
		// A cached result is never served past this timestamp.
		CachedUntil time.Time `json:"cached_until,omitzero"`
		// Reason explains an unavailable result.
		Reason string `json:"reason,omitempty"`
		// Cached reports whether the result was served from cache.
		Cached bool `json:"-"`
	}

	// Report aggregates the probe results for one candidate's dependency
	// set, split by the hardness of what failed.
	Report struct {
		Results      []Result
		HardFailures []Result
		SoftFailures []Result
	}

	// Prober checks a single target of one dependency type. A nil error
	// means the target is available. Implementations must honor the
	// context deadline.
	Prober interface {
		Probe(ctx context.Context, target string) error
	}

	// ProberFunc adapts a function to the Prober interface.
	ProberFunc func(ctx context.Context, target string) error

	// Cache stores probe results keyed by (type, target) with a TTL.
	// Implementations must be safe for concurrent use. Errors are treated
	// as cache misses by the runner; they never fail a probe.
	Cache interface {
		// Get returns the cached result and whether a fresh entry exists.
		Get(ctx context.Context, key string) (Result, bool, error)
		// Set stores the result for the given TTL.
		Set(ctx context.Context, key string, res Result, ttl time.Duration) error
	}
)

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, target string) error {
	return f(ctx, target)
}

// Key builds the cache key for a dependency type and target.
func Key(t routing.DependencyType, target string) string {
	return string(t) + ":" + target
}

// Degraded reports whether the candidate should be marked degraded (any soft
// failure) without being disqualified.
func (r Report) Degraded() bool { return len(r.SoftFailures) > 0 }

// Eliminated reports whether any hard dependency failed, which disqualifies
// the candidate outright.
func (r Report) Eliminated() bool { return len(r.HardFailures) > 0 }
