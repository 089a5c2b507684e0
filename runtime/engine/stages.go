package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cascadehq/care/runtime/probe"
	"github.com/cascadehq/care/runtime/routing"
)

// evaluation is the full pipeline outcome for one candidate within one
// request. Ephemeral; only the selected candidate's stage results survive
// into the persisted decision.
type evaluation struct {
	candidate routing.Candidate
	// order is the registration position, used as the ranking tie-break.
	order  int
	stages []routing.StageResult
	report probe.Report
	// eliminated marks candidates disqualified outright: a failed hard
	// dependency, a domain-filter mismatch, or a risk-policy
	// incompatibility. Eliminated candidates are never ranked.
	eliminated       bool
	eliminatedReason string
	metric           routing.SuccessMetric
	mode             routing.OrchestratorMode
	baseScore        float64
	fairness         float64
	finalScore       float64
	confidence       float64
}

// defaultContribution is the confidence contribution of an inference stage
// that fell through to its default. Keeping it well under a keyword match
// lets requests with no classifiable evidence land in the lower confidence
// bands instead of masquerading as confident matches.
const defaultContribution = 0.25

// aspirationRules is the ordered keyword rule table mapping task
// descriptions to success metrics. First matching rule wins.
var aspirationRules = []struct {
	metric   routing.SuccessMetric
	keywords []string
}{
	{routing.MetricCost, []string{"cost", "budget", "cheap"}},
	{routing.MetricLatency, []string{"fast", "quick", "real-time"}},
	{routing.MetricAccuracy, []string{"accurate", "precise", "thorough"}},
	{routing.MetricRiskMin, []string{"safe", "risk", "cautious"}},
}

// modeRules is the ordered keyword rule table mapping task descriptions to
// orchestrator modes. First matching rule wins; no match means sequential.
var modeRules = []struct {
	mode     routing.OrchestratorMode
	keywords []string
}{
	{routing.ModeParallel, []string{"independent", "in parallel", "concurrently", "batch", "fan out"}},
	{routing.ModeHierarchical, []string{"subtask", "sub-task", "decompose", "delegate", "break down"}},
	{routing.ModeBlackboard, []string{"shared state", "shared memory", "blackboard", "collaborate"}},
}

// evaluate runs the five pipeline stages for one candidate. Stages are
// independent; only the capability gate (stage 4) performs I/O.
func (e *Engine) evaluate(ctx context.Context, req routing.Request, cand routing.Candidate, order int) evaluation {
	ev := evaluation{candidate: cand, order: order}
	desc := strings.ToLower(req.TaskDescription)

	ev.metric = e.stageAspiration(&ev, desc)
	e.stageDomainFilter(&ev, req, desc)
	e.stageStrategyFit(&ev, req)
	e.stageCapability(ctx, &ev)
	ev.mode = e.stageOrchestrator(&ev, desc)

	return ev
}

// stageAspiration infers the optimization goal from the task description.
// A keyword hit is a certain classification; the balanced default carries
// defaultContribution since it reflects absence of evidence.
func (e *Engine) stageAspiration(ev *evaluation, desc string) routing.SuccessMetric {
	start := time.Now()
	metric := routing.MetricBalanced
	confidence := defaultContribution
	reason := "no aspiration keyword matched, defaulting to balanced"
	for _, rule := range aspirationRules {
		if kw := matchKeyword(desc, rule.keywords); kw != "" {
			metric = rule.metric
			confidence = 1.0
			reason = fmt.Sprintf("matched %q", kw)
			break
		}
	}
	ev.record(routing.StageAspiration, true, confidence, start, reason)
	return metric
}

// stageDomainFilter checks domain membership, tool coverage, and context
// restrictions. A failure here eliminates the candidate: an agent outside
// the task domain is never selectable.
func (e *Engine) stageDomainFilter(ev *evaluation, req routing.Request, desc string) {
	start := time.Now()
	cand := ev.candidate

	if !cand.HasDomain(req.TaskDomain) {
		ev.record(routing.StageDomainFilter, false, 0,
			start, fmt.Sprintf("domain %q not served", req.TaskDomain))
		ev.eliminate(fmt.Sprintf("agent %s does not serve domain %q", cand.AgentID, req.TaskDomain))
		return
	}
	if missing := missingTools(cand); len(missing) > 0 {
		ev.record(routing.StageDomainFilter, false, 0,
			start, fmt.Sprintf("required tools not declared: %s", strings.Join(missing, ", ")))
		ev.eliminate(fmt.Sprintf("agent %s is missing required tools: %s", cand.AgentID, strings.Join(missing, ", ")))
		return
	}
	for _, restriction := range cand.ContextRestrictions {
		if restriction != "" && strings.Contains(desc, strings.ToLower(restriction)) {
			ev.record(routing.StageDomainFilter, false, 0,
				start, fmt.Sprintf("context restriction %q violated", restriction))
			ev.eliminate(fmt.Sprintf("agent %s restricts contexts mentioning %q", cand.AgentID, restriction))
			return
		}
	}
	ev.record(routing.StageDomainFilter, true, 1.0, start, "")
}

// stageStrategyFit checks difficulty threshold, risk compatibility and the
// fulfillment floor. The contribution on pass is the fulfillment score
// itself: it is the one probabilistic input of the pipeline. Difficulty and
// fulfillment shortfalls only zero the contribution; a risk-policy mismatch
// eliminates, since serving a strict request with a looser agent violates
// the caller's stated tolerance.
func (e *Engine) stageStrategyFit(ev *evaluation, req routing.Request) {
	start := time.Now()
	cand := ev.candidate

	switch {
	case req.Difficulty.Rank() > cand.DifficultyThreshold.Rank():
		ev.record(routing.StageStrategyFit, false, 0, start,
			fmt.Sprintf("difficulty %s exceeds threshold %s", req.Difficulty, cand.DifficultyThreshold))
	case !cand.RiskPolicy.Compatible(req.RiskTolerance):
		ev.record(routing.StageStrategyFit, false, 0, start,
			fmt.Sprintf("risk policy %s incompatible with tolerance %s", cand.RiskPolicy, req.RiskTolerance))
		ev.eliminate(fmt.Sprintf("agent %s risk policy %s cannot serve a %s-tolerance request",
			cand.AgentID, cand.RiskPolicy, req.RiskTolerance))
	case cand.FulfillmentScore < e.cfg.MinFulfillment:
		ev.record(routing.StageStrategyFit, false, 0, start,
			fmt.Sprintf("fulfillment %.2f below minimum %.2f", cand.FulfillmentScore, e.cfg.MinFulfillment))
	default:
		ev.record(routing.StageStrategyFit, true, cand.FulfillmentScore, start, "")
	}
}

// stageCapability probes the declared dependencies. Any hard failure
// eliminates the candidate; soft failures degrade it. The contribution is
// the fraction of available dependencies.
func (e *Engine) stageCapability(ctx context.Context, ev *evaluation) {
	start := time.Now()
	deps := ev.candidate.Dependencies
	if len(deps) == 0 {
		ev.record(routing.StageCapability, true, 1.0, start, "no declared dependencies")
		return
	}

	report := e.prober.Run(ctx, deps)
	ev.report = report

	available := len(report.Results) - len(report.HardFailures) - len(report.SoftFailures)
	confidence := float64(available) / float64(len(report.Results))

	if report.Eliminated() {
		reason := failureSummary(report.HardFailures)
		ev.record(routing.StageCapability, false, confidence, start,
			"hard dependencies unavailable: "+reason)
		ev.eliminate(fmt.Sprintf("%s unreachable for agent %s; check connectivity",
			reason, ev.candidate.AgentID))
		return
	}
	reason := ""
	if report.Degraded() {
		reason = "soft dependencies unavailable: " + failureSummary(report.SoftFailures)
	}
	ev.record(routing.StageCapability, true, confidence, start, reason)
}

// stageOrchestrator picks the coordination pattern: a declared hint wins,
// then the ordered keyword rules, then the sequential default. As with
// aspiration, the default carries a reduced contribution.
func (e *Engine) stageOrchestrator(ev *evaluation, desc string) routing.OrchestratorMode {
	start := time.Now()
	if hint := ev.candidate.Routing.OrchestratorHint; hint != "" {
		ev.record(routing.StageOrchestrator, true, 1.0, start, "declared hint "+string(hint))
		return hint
	}
	for _, rule := range modeRules {
		if kw := matchKeyword(desc, rule.keywords); kw != "" {
			ev.record(routing.StageOrchestrator, true, 1.0, start, fmt.Sprintf("matched %q", kw))
			return rule.mode
		}
	}
	ev.record(routing.StageOrchestrator, true, defaultContribution, start, "no structure cue, defaulting to sequential")
	return routing.ModeSequential
}

func (ev *evaluation) record(stage routing.StageName, passed bool, confidence float64, start time.Time, reason string) {
	ev.stages = append(ev.stages, routing.StageResult{
		Stage:      stage,
		Passed:     passed,
		Confidence: confidence,
		LatencyMS:  time.Since(start).Milliseconds(),
		Reason:     reason,
	})
}

func (ev *evaluation) eliminate(reason string) {
	if !ev.eliminated {
		ev.eliminated = true
		ev.eliminatedReason = reason
	}
}

// degradedReason renders the human-readable soft-failure summary carried on
// degraded decisions.
func (ev *evaluation) degradedReason() string {
	if !ev.report.Degraded() {
		return ""
	}
	return "Soft dependencies unavailable: " + failureSummary(ev.report.SoftFailures)
}

// failureSummary lists the distinct dependency types of the failures in
// stable order.
func failureSummary(failures []probe.Result) string {
	seen := make(map[string]struct{}, len(failures))
	var types []string
	for _, f := range failures {
		if _, ok := seen[string(f.Type)]; ok {
			continue
		}
		seen[string(f.Type)] = struct{}{}
		types = append(types, string(f.Type))
	}
	sort.Strings(types)
	return strings.Join(types, ", ")
}

// matchKeyword returns the first keyword contained in the description.
func matchKeyword(desc string, keywords []string) string {
	for _, kw := range keywords {
		if strings.Contains(desc, kw) {
			return kw
		}
	}
	return ""
}

// missingTools returns required tools the candidate's declared toolset does
// not cover.
func missingTools(cand routing.Candidate) []string {
	declared := make(map[string]struct{}, len(cand.Tools))
	for _, tool := range cand.Tools {
		declared[tool] = struct{}{}
	}
	var missing []string
	for _, tool := range cand.RequiredTools {
		if _, ok := declared[tool]; !ok {
			missing = append(missing, tool)
		}
	}
	return missing
}
