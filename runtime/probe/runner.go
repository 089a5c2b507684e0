package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cascadehq/care/runtime/routing"
	"github.com/cascadehq/care/runtime/telemetry"
)

const (
	// DefaultTTL is how long a probe result stays fresh in the cache.
	DefaultTTL = 60 * time.Second
	// DefaultTimeout bounds a single probe round-trip.
	DefaultTimeout = 150 * time.Millisecond
	// DefaultPacePerSecond caps probe launches per second per process so
	// probe fan-out cannot stampede shared infrastructure.
	DefaultPacePerSecond = 200
)

type (
	// Runner executes the probes for a candidate's dependency set: cache
	// lookup, concurrent fan-out with per-probe timeouts, and hard/soft
	// failure classification.
	Runner struct {
		probers map[routing.DependencyType]Prober
		cache   Cache
		ttl     time.Duration
		timeout time.Duration
		pace    *rate.Limiter
		logger  telemetry.Logger
		metrics telemetry.Metrics
	}

	// Options configures a Runner.
	Options struct {
		// Cache stores probe results across requests. Defaults to a
		// process-local memory cache.
		Cache Cache
		// Probers overrides entries of the default prober set.
		Probers map[routing.DependencyType]Prober
		// TTL is the cache freshness window. Defaults to DefaultTTL.
		TTL time.Duration
		// Timeout bounds one probe round-trip. Defaults to DefaultTimeout.
		Timeout time.Duration
		// PacePerSecond caps probe launches per second. Defaults to
		// DefaultPacePerSecond; negative disables pacing.
		PacePerSecond float64
		// Logger receives probe diagnostics. Defaults to a no-op logger.
		Logger telemetry.Logger
		// Metrics receives probe counters and timers. Defaults to no-op.
		Metrics telemetry.Metrics
	}
)

// NewRunner builds a Runner with the standard prober set, applying any
// overrides from opts.
func NewRunner(opts Options) *Runner {
	probers := DefaultProbers()
	for t, p := range opts.Probers {
		probers[t] = p
	}
	cache := opts.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var pace *rate.Limiter
	if opts.PacePerSecond >= 0 {
		pps := opts.PacePerSecond
		if pps == 0 {
			pps = DefaultPacePerSecond
		}
		pace = rate.NewLimiter(rate.Limit(pps), int(pps))
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Runner{
		probers: probers,
		cache:   cache,
		ttl:     ttl,
		timeout: timeout,
		pace:    pace,
		logger:  logger,
		metrics: metrics,
	}
}

// Run probes every dependency concurrently and classifies failures by
// effective hardness. The context carries the caller's overall budget: when
// it expires before a probe completes, hard dependencies are reported
// unavailable (fail-closed) and soft ones degraded (fail-open), so Run
// always returns a bounded, complete report.
func (r *Runner) Run(ctx context.Context, deps []routing.Dependency) Report {
	results := make([]Result, len(deps))
	var wg sync.WaitGroup
	for i, dep := range deps {
		wg.Add(1)
		go func(i int, dep routing.Dependency) {
			defer wg.Done()
			results[i] = r.probe(ctx, dep)
		}(i, dep)
	}
	wg.Wait()

	var report Report
	report.Results = results
	for _, res := range results {
		if res.Available {
			continue
		}
		if res.Hardness == routing.HardnessHard {
			report.HardFailures = append(report.HardFailures, res)
		} else {
			report.SoftFailures = append(report.SoftFailures, res)
		}
	}
	return report
}

// probe resolves one dependency: cache first, then a live check bounded by
// the per-probe timeout.
func (r *Runner) probe(ctx context.Context, dep routing.Dependency) Result {
	hardness := dep.EffectiveHardness()
	key := Key(dep.Type, dep.Target)

	if cached, ok, err := r.cache.Get(ctx, key); err != nil {
		// Fail-open: a broken cache store must never fail a probe.
		r.logger.Debug(ctx, "probe cache read failed", "key", key, "err", err.Error())
	} else if ok {
		cached.Cached = true
		cached.Hardness = hardness
		r.metrics.IncCounter("care.probe.cache_hits", 1, "type", string(dep.Type))
		return cached
	}

	res := r.live(ctx, dep, hardness)

	if err := r.cache.Set(ctx, key, res, r.ttl); err != nil {
		r.logger.Debug(ctx, "probe cache write failed", "key", key, "err", err.Error())
	}
	r.metrics.IncCounter("care.probe.executions", 1,
		"type", string(dep.Type), "available", fmt.Sprintf("%t", res.Available))
	return res
}

func (r *Runner) live(ctx context.Context, dep routing.Dependency, hardness routing.Hardness) Result {
	res := Result{
		Type:        dep.Type,
		Target:      dep.Target,
		Hardness:    hardness,
		CachedUntil: time.Now().UTC().Add(r.ttl),
	}

	prober, ok := r.probers[dep.Type]
	if !ok {
		res.Reason = fmt.Sprintf("no prober for type %s", dep.Type)
		return res
	}

	if r.pace != nil {
		if err := r.pace.Wait(ctx); err != nil {
			return timedOut(res, hardness)
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	err := prober.Probe(probeCtx, dep.Target)
	res.LatencyMS = time.Since(start).Milliseconds()
	r.metrics.RecordTimer("care.probe.latency", time.Since(start), "type", string(dep.Type))

	switch {
	case err == nil:
		res.Available = true
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return timedOut(res, hardness)
	default:
		res.Reason = err.Error()
	}
	return res
}

// timedOut applies the timeout asymmetry: a hard dependency that misses its
// deadline counts as unavailable (fail-closed), a soft one merely degrades
// the candidate (fail-open).
func timedOut(res Result, hardness routing.Hardness) Result {
	res.Reason = "probe timeout"
	if hardness == routing.HardnessSoft {
		res.Reason = "probe timeout (degraded)"
	}
	return res
}
