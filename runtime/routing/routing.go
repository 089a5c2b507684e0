// Package routing defines the data model shared by the cascade-aware routing
// engine: requests, agent candidates (the "strategy cascade"), per-stage
// evaluation results, routing decisions, and rolling per-agent performance
// vectors.
//
// Values in this package are plain data. The engine in runtime/engine owns
// evaluation semantics; stores under features/ own persistence. Candidate
// records are loaded read-only from an external agent registry and are never
// mutated by the engine.
package routing

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type (
	// Request is one unit of work to route. It is immutable and lives only
	// for the duration of a single routing evaluation.
	Request struct {
		// RequestID uniquely identifies the dispatch call. Assigned by the
		// engine when empty.
		RequestID string `json:"request_id"`
		// TaskDescription is the free-form description of the work.
		TaskDescription string `json:"task_description"`
		// TaskDomain names the functional domain the work belongs to.
		TaskDomain string `json:"task_domain"`
		// Difficulty is the ordinal difficulty of the task.
		Difficulty Difficulty `json:"difficulty"`
		// RiskTolerance is the most permissive risk posture the caller
		// accepts. It also selects the admission tier.
		RiskTolerance RiskPolicy `json:"risk_tolerance"`
	}

	// Dependency is one declared infrastructure dependency of a candidate.
	Dependency struct {
		Type   DependencyType `json:"type"`
		Target string         `json:"target"`
		// Hardness overrides the default classification for the type.
		// Empty means "use the type default".
		Hardness Hardness `json:"hardness,omitempty"`
	}

	// RoutingConfig carries orchestrator hints declared on a candidate.
	RoutingConfig struct {
		// OrchestratorHint, when set, overrides the engine's mode inference.
		OrchestratorHint OrchestratorMode `json:"orchestrator_hint,omitempty"`
		// MaxParallelTasks caps concurrent sub-tasks when the parallel mode
		// is selected. Zero means no declared cap.
		MaxParallelTasks int `json:"max_parallel_tasks,omitempty"`
	}

	// Candidate is the full declared configuration of an agent as loaded
	// from the agent registry. Read-only at evaluation time.
	Candidate struct {
		AgentID string `json:"agent_id"`
		// Domains is the set of task domains the agent serves.
		Domains []string `json:"domains"`
		// Tools is the agent's declared toolset.
		Tools []string `json:"tools,omitempty"`
		// RequiredTools are the tools the agent needs to operate; they must
		// be covered by Tools for the candidate to pass the domain filter.
		RequiredTools []string `json:"required_tools,omitempty"`
		// ContextRestrictions are terms that must not appear in a task
		// description handled by this agent.
		ContextRestrictions []string `json:"context_restrictions,omitempty"`
		// DifficultyThreshold is the hardest task the agent accepts.
		DifficultyThreshold Difficulty `json:"difficulty_threshold"`
		// RiskPolicy is the agent's declared risk posture.
		RiskPolicy RiskPolicy `json:"risk_policy"`
		// FulfillmentScore is the rolling historical success measure in
		// [0, 1] maintained outside this engine.
		FulfillmentScore float64 `json:"fulfillment_score"`
		// Dependencies are the declared infrastructure dependencies probed
		// by the capability gate.
		Dependencies []Dependency `json:"declared_dependencies,omitempty"`
		// Routing carries orchestrator mode hints.
		Routing RoutingConfig `json:"routing_config"`
	}

	// StageResult records the outcome of one pipeline stage for one
	// candidate. Ephemeral: produced and consumed within one evaluation,
	// persisted only as part of the selected candidate's audit trail.
	StageResult struct {
		Stage StageName `json:"stage_name"`
		// Passed reports whether the candidate cleared the stage.
		Passed bool `json:"passed"`
		// Confidence is the stage's contribution in [0, 1]: 1 on pass, 0 on
		// fail, partial only for probabilistic inputs such as the
		// fulfillment score.
		Confidence float64 `json:"confidence_contribution"`
		LatencyMS  int64   `json:"latency_ms"`
		Reason     string  `json:"reason,omitempty"`
	}

	// Decision is the immutable outcome of one routing evaluation. Exactly
	// one Decision is produced per request and persisted append-only,
	// regardless of outcome.
	Decision struct {
		RequestID       string `json:"request_id"`
		SelectedAgentID string `json:"selected_agent_id,omitempty"`
		// FallbackAgents holds up to three next-ranked eligible agents.
		FallbackAgents []string         `json:"fallback_agents,omitempty"`
		SuccessMetric  SuccessMetric    `json:"success_metric,omitempty"`
		Orchestrator   OrchestratorMode `json:"orchestrator_mode,omitempty"`
		// Degraded is set when the decision was made with reduced fidelity:
		// soft dependencies down, or a shared store unavailable.
		Degraded       bool   `json:"degraded"`
		DegradedReason string `json:"degraded_reason,omitempty"`
		// ConfidenceScore is the weighted aggregate of the selected
		// candidate's stage outcomes.
		ConfidenceScore            float64   `json:"confidence_score"`
		ConfidenceBlocked          bool      `json:"confidence_blocked"`
		ConfidenceEnforcedFallback bool      `json:"confidence_enforced_fallback"`
		Routed                     bool      `json:"routed"`
		Error                      ErrorCode `json:"error,omitempty"`
		// ActionableFix describes the remediation for a failed routing.
		ActionableFix  string        `json:"actionable_fix,omitempty"`
		TotalLatencyMS int64         `json:"total_latency_ms"`
		DecidedAt      time.Time     `json:"decided_at"`
		StageResults   []StageResult `json:"stage_results,omitempty"`
	}

	// PerformanceVector is the rolling per-agent performance aggregate
	// consumed by scoring. Owned and mutated exclusively by the outcome
	// feedback tracker; read-only everywhere else.
	PerformanceVector struct {
		AgentID      string  `json:"agent_id"`
		AvgLatencyMS float64 `json:"avg_latency_ms"`
		P95LatencyMS float64 `json:"p95_latency_ms"`
		// SuccessRate defaults optimistically to 1.0 until evidence arrives.
		SuccessRate       float64 `json:"success_rate"`
		RiskViolationRate float64 `json:"risk_violation_rate"`
		FallbackRate      float64 `json:"fallback_rate"`
		FairnessScore     float64 `json:"fairness_score"`
		SampleCount       int64   `json:"sample_count"`
		// WindowExpiresAt is the end of the 24h rolling window.
		WindowExpiresAt time.Time `json:"window_expires_at,omitzero"`
	}

	// Outcome is one post-execution result fed back to the tracker.
	Outcome struct {
		RequestID    string `json:"request_id"`
		AgentID      string `json:"agent_id"`
		Success      bool   `json:"success"`
		LatencyMS    int64  `json:"latency_ms"`
		RiskViolated bool   `json:"risk_violated"`
		WasFallback  bool   `json:"was_fallback"`
	}
)

// ErrInvalid wraps request validation failures so callers can classify them
// as invalid_request rather than operational errors.
var ErrInvalid = errors.New("invalid routing request")

// Validate checks the request for the malformed-input conditions the engine
// rejects with invalid_request.
func (r Request) Validate() error {
	if strings.TrimSpace(r.TaskDomain) == "" {
		return fmt.Errorf("%w: task domain is required", ErrInvalid)
	}
	if strings.TrimSpace(r.TaskDescription) == "" {
		return fmt.Errorf("%w: task description is required", ErrInvalid)
	}
	if !r.Difficulty.Valid() {
		return fmt.Errorf("%w: invalid difficulty %q", ErrInvalid, r.Difficulty)
	}
	if !r.RiskTolerance.Valid() {
		return fmt.Errorf("%w: invalid risk tolerance %q", ErrInvalid, r.RiskTolerance)
	}
	return nil
}

// Validate checks the candidate configuration as loaded from the registry.
// Registries reject candidates that fail validation; the engine never sees
// free-form strings.
func (c Candidate) Validate() error {
	if strings.TrimSpace(c.AgentID) == "" {
		return errors.New("agent id is required")
	}
	if len(c.Domains) == 0 {
		return fmt.Errorf("agent %s: at least one domain is required", c.AgentID)
	}
	if !c.DifficultyThreshold.Valid() {
		return fmt.Errorf("agent %s: invalid difficulty threshold %q", c.AgentID, c.DifficultyThreshold)
	}
	if !c.RiskPolicy.Valid() {
		return fmt.Errorf("agent %s: invalid risk policy %q", c.AgentID, c.RiskPolicy)
	}
	if c.FulfillmentScore < 0 || c.FulfillmentScore > 1 {
		return fmt.Errorf("agent %s: fulfillment score %v out of [0,1]", c.AgentID, c.FulfillmentScore)
	}
	if _, err := ParseOrchestratorMode(string(c.Routing.OrchestratorHint)); err != nil {
		return fmt.Errorf("agent %s: %w", c.AgentID, err)
	}
	if c.Routing.MaxParallelTasks < 0 {
		return fmt.Errorf("agent %s: max parallel tasks must not be negative", c.AgentID)
	}
	for i, dep := range c.Dependencies {
		if !dep.Type.Valid() {
			return fmt.Errorf("agent %s: dependency %d: invalid type %q", c.AgentID, i, dep.Type)
		}
		if strings.TrimSpace(dep.Target) == "" && dep.Type != DependencyAPIKey {
			return fmt.Errorf("agent %s: dependency %d: target is required", c.AgentID, i)
		}
		if _, err := ParseHardness(string(dep.Hardness)); err != nil {
			return fmt.Errorf("agent %s: dependency %d: %w", c.AgentID, i, err)
		}
	}
	return nil
}

// EffectiveHardness resolves the declared hardness, falling back to the
// default classification for the dependency type.
func (d Dependency) EffectiveHardness() Hardness {
	if d.Hardness != "" {
		return d.Hardness
	}
	return d.Type.Default()
}

// HasDomain reports whether the candidate serves the given task domain.
func (c Candidate) HasDomain(domain string) bool {
	for _, d := range c.Domains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// DefaultVector returns the optimistic performance vector used before any
// outcome evidence exists for an agent.
func DefaultVector(agentID string) PerformanceVector {
	return PerformanceVector{
		AgentID:       agentID,
		SuccessRate:   1.0,
		FairnessScore: 1.0,
	}
}
