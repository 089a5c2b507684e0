package engine

// gateAction is the confidence gate verdict for a ranked candidate set.
type gateAction int

const (
	// gateProceed selects the top-ranked candidate.
	gateProceed gateAction = iota
	// gateEnforceFallback discards the top-ranked candidate in favor of the
	// next eligible one.
	gateEnforceFallback
	// gateBlock refuses to route.
	gateBlock
)

// confidence computes the weighted aggregate of one candidate's stage
// contributions using the configured stage weights.
func (e *Engine) confidence(ev *evaluation) float64 {
	var score float64
	for _, s := range ev.stages {
		score += e.cfg.StageWeights[s.Stage] * s.Confidence
	}
	return score
}

// gate applies the confidence thresholds: block below ConfidenceBlock,
// enforce fallback below ConfidenceFallback, proceed otherwise.
func (e *Engine) gate(score float64) gateAction {
	switch {
	case score < e.cfg.ConfidenceBlock:
		return gateBlock
	case score < e.cfg.ConfidenceFallback:
		return gateEnforceFallback
	default:
		return gateProceed
	}
}

// selectCandidates applies the gate to the ranked set and returns the
// selected evaluation, the fallback chain, and the gate flags. The
// confidence score recorded on the decision is the top-ranked candidate's:
// it is what the gate acted on.
//
// An enforced fallback picks the next-ranked eligible candidate; when the
// top candidate is the only eligible one it is kept, flagged, so a single
// mid-confidence match still routes.
func (e *Engine) selectCandidates(ranked []*evaluation) (selected *evaluation, fallbacks []string, score float64, action gateAction) {
	top := ranked[0]
	score = e.confidence(top)
	action = e.gate(score)

	discarded := -1
	switch action {
	case gateBlock:
		return nil, nil, score, action
	case gateEnforceFallback:
		selected = top
		if len(ranked) > 1 {
			selected = ranked[1]
			discarded = 0
		}
	default:
		selected = top
	}

	for i, ev := range ranked {
		if ev == selected || i == discarded {
			continue
		}
		if len(fallbacks) >= e.cfg.MaxFallbacks {
			break
		}
		fallbacks = append(fallbacks, ev.candidate.AgentID)
	}
	return selected, fallbacks, score, action
}
