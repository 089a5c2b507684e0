// Package engine implements the cascade-aware routing engine: a five-stage
// evaluation pipeline over a pool of agent candidates, combined with
// admission control, capability probing, scoring with an anti-starvation
// fairness term, a confidence gate, and audit-grade decision recording.
//
// The engine holds no process-local mutable state. Rate-limit counters, the
// probe cache, performance vectors and the fairness window all live behind
// narrow store interfaces so multiple engine instances can share them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cascadehq/care/runtime/probe"
	"github.com/cascadehq/care/runtime/routing"
	"github.com/cascadehq/care/runtime/telemetry"
)

type (
	// Source yields the candidate pool for a task domain. Implemented by
	// the registry package; the agent registry itself is an external
	// collaborator.
	Source interface {
		Candidates(ctx context.Context, domain string) ([]routing.Candidate, error)
	}

	// Prober runs the capability probes for a dependency set. Implemented
	// by probe.Runner.
	Prober interface {
		Run(ctx context.Context, deps []routing.Dependency) probe.Report
	}

	// RateLimiter admits or rejects a request against the per-tier
	// per-minute limit. Implementations use atomic windowed counters in a
	// shared store. An error means the store is unavailable; the engine
	// fails open and flags the decision degraded.
	RateLimiter interface {
		Allow(ctx context.Context, tier routing.RiskPolicy, limit int) (bool, error)
	}

	// Recorder persists decisions append-only. Every decision is recorded,
	// whatever its outcome.
	Recorder interface {
		Record(ctx context.Context, d routing.Decision) error
	}

	// VectorReader reads rolling per-agent performance vectors. Missing
	// agents yield the optimistic default.
	VectorReader interface {
		Vector(ctx context.Context, agentID string) (routing.PerformanceVector, error)
	}

	// AssignmentWindow tracks recent agent selections for the fairness
	// score.
	AssignmentWindow interface {
		// Record notes that the agent was selected now.
		Record(ctx context.Context, agentID string) error
		// RecentCount returns the number of selections within the trailing
		// window.
		RecentCount(ctx context.Context, agentID string, window time.Duration) (int, error)
	}

	// CounterStore accumulates the aggregate routing statistics.
	CounterStore interface {
		Inc(ctx context.Context, name string) error
		ObserveLatencyMS(ctx context.Context, ms int64) error
		Snapshot(ctx context.Context) (Stats, error)
	}

	// Stats is the aggregate reported by the stats endpoint.
	Stats struct {
		Total                int64   `json:"total"`
		Routed               int64   `json:"routed"`
		Blocked              int64   `json:"blocked"`
		RateLimited          int64   `json:"rate_limited"`
		NoEligible           int64   `json:"no_eligible"`
		Invalid              int64   `json:"invalid"`
		Degraded             int64   `json:"degraded"`
		PersistFailures      int64   `json:"persist_failures"`
		AvgDecisionLatencyMS float64 `json:"avg_decision_latency_ms"`
	}

	// Engine evaluates routing requests. Safe for concurrent use.
	Engine struct {
		cfg         Config
		source      Source
		prober      Prober
		limiter     RateLimiter
		recorder    Recorder
		vectors     VectorReader
		assignments AssignmentWindow
		counters    CounterStore
		logger      telemetry.Logger
		metrics     telemetry.Metrics
		tracer      telemetry.Tracer
	}

	// Options configures an Engine.
	Options struct {
		// Config holds the tunables; zero means DefaultConfig.
		Config Config
		// Source yields candidates per domain. Required.
		Source Source
		// Recorder persists decisions. Required.
		Recorder Recorder
		// Prober runs capability probes. Defaults to probe.NewRunner with a
		// process-local cache.
		Prober Prober
		// Limiter admits requests. Defaults to a process-local windowed
		// limiter; production deployments use features/ratelimit/redis.
		Limiter RateLimiter
		// Vectors reads performance vectors. Defaults to optimistic
		// defaults for every agent.
		Vectors VectorReader
		// Assignments tracks recent selections. Defaults to a process-local
		// window.
		Assignments AssignmentWindow
		// Counters accumulates stats. Defaults to a process-local store.
		Counters CounterStore
		// Logger, Metrics and Tracer default to no-ops.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
	}

	// CandidateEvaluation is the per-candidate outcome returned by the
	// dry-run Evaluate entry point.
	CandidateEvaluation struct {
		AgentID          string                `json:"agent_id"`
		Stages           []routing.StageResult `json:"stage_results"`
		Eligible         bool                  `json:"eligible"`
		EliminatedReason string                `json:"eliminated_reason,omitempty"`
		Degraded         bool                  `json:"degraded"`
		BaseScore        float64               `json:"base_score"`
		FairnessScore    float64               `json:"fairness_score"`
		FinalScore       float64               `json:"final_score"`
		Confidence       float64               `json:"confidence_score"`
	}

	// EvaluateResult is the dry-run response.
	EvaluateResult struct {
		EvaluatedCount int                   `json:"evaluated_count"`
		EligibleCount  int                   `json:"eligible_count"`
		Candidates     []CandidateEvaluation `json:"candidates"`
	}
)

// New builds an Engine, applying defaults for optional collaborators.
func New(opts Options) (*Engine, error) {
	if opts.Source == nil {
		return nil, errors.New("candidate source is required")
	}
	if opts.Recorder == nil {
		return nil, errors.New("decision recorder is required")
	}
	cfg := opts.Config
	if cfg.StageWeights == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	e := &Engine{
		cfg:         cfg,
		source:      opts.Source,
		prober:      opts.Prober,
		limiter:     opts.Limiter,
		recorder:    opts.Recorder,
		vectors:     opts.Vectors,
		assignments: opts.Assignments,
		counters:    opts.Counters,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
	}
	if e.prober == nil {
		e.prober = probe.NewRunner(probe.Options{})
	}
	if e.limiter == nil {
		e.limiter = newMemoryLimiter()
	}
	if e.vectors == nil {
		e.vectors = optimisticVectors{}
	}
	if e.assignments == nil {
		e.assignments = newMemoryWindow()
	}
	if e.counters == nil {
		e.counters = newMemoryCounters()
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewNoopMetrics()
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewNoopTracer()
	}
	return e, nil
}

// Dispatch runs the full pipeline for one request and persists the
// resulting decision. Exactly one decision is returned for every call,
// whatever the outcome; the error return is operational only (decision
// persistence failed) and never replaces the decision.
func (e *Engine) Dispatch(ctx context.Context, req routing.Request) (routing.Decision, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "care.dispatch")
	defer span.End()

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	d := routing.Decision{RequestID: req.RequestID}

	if err := req.Validate(); err != nil {
		d.Error = routing.ErrInvalidRequest
		d.ActionableFix = err.Error()
		return e.finish(ctx, d, start)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.TotalBudget)
	defer cancel()

	// Admission control runs before any pipeline work. Store failures
	// admit the request but mark the decision degraded.
	tier := req.RiskTolerance
	allowed, err := e.limiter.Allow(ctx, tier, e.cfg.Tiers[tier])
	if err != nil {
		e.logger.Warn(ctx, "rate limiter unavailable, admitting", "tier", string(tier), "err", err.Error())
		d.Degraded = true
		d.DegradedReason = "rate limiter unavailable (fail-open)"
		allowed = true
	}
	if !allowed {
		d.Error = routing.ErrRateLimited
		d.ActionableFix = fmt.Sprintf("tier %s admitted %d requests/min; retry after the window resets", tier, e.cfg.Tiers[tier])
		return e.finish(ctx, d, start)
	}

	candidates, err := e.source.Candidates(ctx, req.TaskDomain)
	if err != nil {
		d.Error = routing.ErrNoEligibleCandidate
		d.ActionableFix = fmt.Sprintf("agent registry unreachable: %v; check registry connectivity", err)
		return e.finish(ctx, d, start)
	}
	if len(candidates) == 0 {
		d.Error = routing.ErrNoEligibleCandidate
		d.ActionableFix = fmt.Sprintf("no agents registered for domain %q; register one or adjust the task domain", req.TaskDomain)
		return e.finish(ctx, d, start)
	}

	evals := e.evaluateAll(ctx, req, candidates)
	ranked := rank(evals)
	if len(ranked) == 0 {
		d.Error = eliminationError(evals)
		d.ActionableFix = eliminationFix(evals)
		return e.finish(ctx, d, start)
	}

	selected, fallbacks, score, action := e.selectCandidates(ranked)
	d.ConfidenceScore = score
	if action == gateBlock {
		d.ConfidenceBlocked = true
		d.Error = routing.ErrLowConfidence
		d.ActionableFix = fmt.Sprintf("confidence %.2f below %.2f; add better-fitting agents or relax the task constraints", score, e.cfg.ConfidenceBlock)
		return e.finish(ctx, d, start)
	}

	d.Routed = true
	d.SelectedAgentID = selected.candidate.AgentID
	d.FallbackAgents = fallbacks
	d.SuccessMetric = selected.metric
	d.Orchestrator = selected.mode
	d.ConfidenceEnforcedFallback = action == gateEnforceFallback
	d.StageResults = selected.stages
	if reason := selected.degradedReason(); reason != "" {
		d.Degraded = true
		if d.DegradedReason != "" {
			d.DegradedReason += "; "
		}
		d.DegradedReason += reason
	}

	if err := e.assignments.Record(ctx, selected.candidate.AgentID); err != nil {
		e.logger.Debug(ctx, "assignment record failed", "agent_id", selected.candidate.AgentID, "err", err.Error())
	}

	return e.finish(ctx, d, start)
}

// Evaluate is the dry-run entry point: it runs the pipeline and scoring for
// an explicit candidate list without selection, admission control, or
// persistence.
func (e *Engine) Evaluate(ctx context.Context, req routing.Request, candidates []routing.Candidate) (EvaluateResult, error) {
	if err := req.Validate(); err != nil {
		return EvaluateResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.TotalBudget)
	defer cancel()

	evals := e.evaluateAll(ctx, req, candidates)
	result := EvaluateResult{EvaluatedCount: len(evals)}
	for _, ev := range evals {
		ce := CandidateEvaluation{
			AgentID:          ev.candidate.AgentID,
			Stages:           ev.stages,
			Eligible:         !ev.eliminated,
			EliminatedReason: ev.eliminatedReason,
			Degraded:         ev.report.Degraded(),
			BaseScore:        ev.baseScore,
			FairnessScore:    ev.fairness,
			FinalScore:       ev.finalScore,
			Confidence:       e.confidence(ev),
		}
		if ce.Eligible {
			result.EligibleCount++
		}
		result.Candidates = append(result.Candidates, ce)
	}
	return result, nil
}

// Stats returns the aggregate routing statistics.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	return e.counters.Snapshot(ctx)
}

// evaluateAll runs the pipeline and scoring for every candidate
// concurrently. Candidates only write to their own evaluation, so no
// synchronization beyond the join is needed.
func (e *Engine) evaluateAll(ctx context.Context, req routing.Request, candidates []routing.Candidate) []*evaluation {
	evals := make([]*evaluation, len(candidates))
	var wg sync.WaitGroup
	for i, cand := range candidates {
		wg.Add(1)
		go func(i int, cand routing.Candidate) {
			defer wg.Done()
			ev := e.evaluate(ctx, req, cand, i)
			e.score(ctx, &ev)
			evals[i] = &ev
		}(i, cand)
	}
	wg.Wait()
	return evals
}

// finish stamps, persists and counts the decision. Persistence failures do
// not fail the request: the decision is still returned, and the failure
// surfaces as the (operational) error return and a counter.
func (e *Engine) finish(ctx context.Context, d routing.Decision, start time.Time) (routing.Decision, error) {
	d.DecidedAt = time.Now().UTC()
	d.TotalLatencyMS = time.Since(start).Milliseconds()

	// Persist on a fresh context so an exhausted evaluation budget cannot
	// drop the audit record.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var opErr error
	if err := e.recorder.Record(persistCtx, d); err != nil {
		opErr = fmt.Errorf("persist decision %s: %w", d.RequestID, err)
		e.logger.Error(ctx, "decision persistence failed", "request_id", d.RequestID, "err", err.Error())
		e.metrics.IncCounter("care.decisions.persist_failures", 1)
		e.count(ctx, "persist_failures")
	}

	e.count(ctx, "total")
	switch {
	case d.Routed:
		e.count(ctx, "routed")
	case d.Error == routing.ErrRateLimited:
		e.count(ctx, "rate_limited")
	case d.Error == routing.ErrLowConfidence:
		e.count(ctx, "blocked")
	case d.Error == routing.ErrInvalidRequest:
		e.count(ctx, "invalid")
	default:
		e.count(ctx, "no_eligible")
	}
	if d.Degraded {
		e.count(ctx, "degraded")
	}
	if err := e.counters.ObserveLatencyMS(ctx, d.TotalLatencyMS); err != nil {
		e.logger.Debug(ctx, "latency observation failed", "err", err.Error())
	}

	e.metrics.IncCounter("care.decisions", 1, "routed", fmt.Sprintf("%t", d.Routed), "error", string(d.Error))
	e.metrics.RecordTimer("care.decision.latency", time.Duration(d.TotalLatencyMS)*time.Millisecond)
	e.logger.Info(ctx, "routing decision",
		"request_id", d.RequestID,
		"routed", d.Routed,
		"selected_agent_id", d.SelectedAgentID,
		"error", string(d.Error),
		"confidence", d.ConfidenceScore,
		"degraded", d.Degraded,
		"latency_ms", d.TotalLatencyMS,
	)
	return d, opErr
}

func (e *Engine) count(ctx context.Context, name string) {
	if err := e.counters.Inc(ctx, name); err != nil {
		e.logger.Debug(ctx, "stats counter failed", "counter", name, "err", err.Error())
	}
}

// eliminationError classifies an empty ranked set: when every hard failure
// was a probe timeout the timeout is the cause and is surfaced as such,
// otherwise the generic no-eligible-candidate error applies.
func eliminationError(evals []*evaluation) routing.ErrorCode {
	sawTimeout := false
	for _, ev := range evals {
		for _, f := range ev.report.HardFailures {
			if strings.Contains(f.Reason, "probe timeout") {
				sawTimeout = true
			} else {
				return routing.ErrNoEligibleCandidate
			}
		}
		if ev.eliminated && len(ev.report.HardFailures) == 0 {
			return routing.ErrNoEligibleCandidate
		}
	}
	if sawTimeout {
		return routing.ErrProbeTimeout
	}
	return routing.ErrNoEligibleCandidate
}

// eliminationFix summarizes why each candidate was eliminated, capped to
// keep the fix actionable rather than exhaustive.
func eliminationFix(evals []*evaluation) string {
	const maxReasons = 3
	var reasons []string
	for _, ev := range evals {
		if ev.eliminated && len(reasons) < maxReasons {
			reasons = append(reasons, ev.eliminatedReason)
		}
	}
	if len(reasons) == 0 {
		return "no candidate passed evaluation; review agent registrations for this domain"
	}
	return strings.Join(reasons, "; ")
}

// optimisticVectors is the VectorReader default: every agent reads as the
// optimistic default vector until a real store is wired.
type optimisticVectors struct{}

func (optimisticVectors) Vector(_ context.Context, agentID string) (routing.PerformanceVector, error) {
	return routing.DefaultVector(agentID), nil
}
