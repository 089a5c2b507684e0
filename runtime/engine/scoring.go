package engine

import (
	"context"
	"sort"

	"github.com/cascadehq/care/runtime/routing"
)

// base-score mix: declared fit (stages 2-3), historical fulfillment, and
// observed success rate from the performance vector.
const (
	baseDomainWeight      = 0.25
	baseStrategyWeight    = 0.25
	baseFulfillmentWeight = 0.30
	baseSuccessWeight     = 0.20
)

// score computes base, fairness and final scores for one evaluation.
// Fairness reads are fail-open: when the assignment window store is
// unavailable the candidate scores as if it had no recent assignments.
func (e *Engine) score(ctx context.Context, ev *evaluation) {
	cand := ev.candidate

	vector, err := e.vectors.Vector(ctx, cand.AgentID)
	if err != nil {
		e.logger.Debug(ctx, "performance vector read failed", "agent_id", cand.AgentID, "err", err.Error())
		vector = routing.DefaultVector(cand.AgentID)
	}

	ev.baseScore = baseDomainWeight*ev.stageIndicator(routing.StageDomainFilter) +
		baseStrategyWeight*ev.stageIndicator(routing.StageStrategyFit) +
		baseFulfillmentWeight*cand.FulfillmentScore +
		baseSuccessWeight*vector.SuccessRate

	recent, err := e.assignments.RecentCount(ctx, cand.AgentID, e.cfg.FairnessWindow)
	if err != nil {
		e.logger.Debug(ctx, "assignment window read failed", "agent_id", cand.AgentID, "err", err.Error())
		recent = 0
	}
	ev.fairness = Fairness(recent)

	ev.finalScore = e.cfg.BaseWeight*ev.baseScore + e.cfg.FairnessWeight*ev.fairness
}

// Fairness maps a recent-assignment count to the anti-starvation score
// 1/(1+n).
func Fairness(recentAssignments int) float64 {
	if recentAssignments < 0 {
		recentAssignments = 0
	}
	return 1.0 / (1.0 + float64(recentAssignments))
}

// rank orders the non-eliminated evaluations by final score descending.
// Ties keep candidate registration order (stable sort).
func rank(evals []*evaluation) []*evaluation {
	ranked := make([]*evaluation, 0, len(evals))
	for _, ev := range evals {
		if ev.eliminated {
			continue
		}
		ranked = append(ranked, ev)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].finalScore > ranked[j].finalScore
	})
	return ranked
}

// stageIndicator returns 1 when the named stage passed, 0 otherwise.
func (ev *evaluation) stageIndicator(name routing.StageName) float64 {
	for _, s := range ev.stages {
		if s.Stage == name && s.Passed {
			return 1
		}
	}
	return 0
}
