package routing

import "fmt"

type (
	// Difficulty is the ordinal task difficulty declared on a routing request
	// and the ceiling a candidate is willing to accept.
	Difficulty string

	// RiskPolicy is the closed set of risk postures. It is used both as the
	// policy a candidate declares and as the tolerance a request carries;
	// admission tiers are keyed by it.
	RiskPolicy string

	// Hardness classifies a dependency as disqualifying (hard) or merely
	// degrading (soft) when unavailable.
	Hardness string

	// DependencyType enumerates the infrastructure dependency kinds a
	// candidate may declare.
	DependencyType string

	// OrchestratorMode is the execution coordination pattern chosen for a
	// task once an agent is selected.
	OrchestratorMode string

	// SuccessMetric is the optimization goal inferred from the task
	// description (the "aspiration").
	SuccessMetric string

	// StageName identifies one of the five pipeline evaluation stages.
	StageName string

	// ErrorCode is the closed routing error taxonomy. Decisions carry at
	// most one code; empty means the request routed successfully.
	ErrorCode string
)

const (
	DifficultyLow    Difficulty = "low"
	DifficultyMedium Difficulty = "medium"
	DifficultyHigh   Difficulty = "high"
)

const (
	RiskStrict   RiskPolicy = "strict"
	RiskBalanced RiskPolicy = "balanced"
	RiskFast     RiskPolicy = "fast"
)

const (
	HardnessHard Hardness = "hard"
	HardnessSoft Hardness = "soft"
)

const (
	DependencyDatabase DependencyType = "database"
	DependencySMTP     DependencyType = "smtp"
	DependencyDNS      DependencyType = "dns"
	DependencyAPIKey   DependencyType = "api_key"
	DependencyS3       DependencyType = "s3"
	DependencyRedis    DependencyType = "redis"
	DependencyHTTP     DependencyType = "http"
	DependencyAgent    DependencyType = "agent"
	DependencyService  DependencyType = "service"
)

const (
	ModeParallel     OrchestratorMode = "parallel"
	ModeHierarchical OrchestratorMode = "hierarchical"
	ModeBlackboard   OrchestratorMode = "blackboard"
	ModeSequential   OrchestratorMode = "sequential"
)

const (
	MetricCost     SuccessMetric = "cost"
	MetricLatency  SuccessMetric = "latency"
	MetricAccuracy SuccessMetric = "accuracy"
	MetricRiskMin  SuccessMetric = "risk_min"
	MetricBalanced SuccessMetric = "balanced"
)

const (
	StageAspiration   StageName = "aspiration"
	StageDomainFilter StageName = "domain_filter"
	StageStrategyFit  StageName = "strategy_fit"
	StageCapability   StageName = "capability_gate"
	StageOrchestrator StageName = "orchestrator_mode"
)

const (
	ErrRateLimited         ErrorCode = "rate_limited"
	ErrLowConfidence       ErrorCode = "low_confidence"
	ErrNoEligibleCandidate ErrorCode = "no_eligible_candidate"
	ErrInvalidRequest      ErrorCode = "invalid_request"
	ErrProbeTimeout        ErrorCode = "probe_timeout"
)

// difficultyRank orders difficulties for threshold comparisons.
var difficultyRank = map[Difficulty]int{
	DifficultyLow:    0,
	DifficultyMedium: 1,
	DifficultyHigh:   2,
}

// riskRank orders risk policies from most to least conservative.
var riskRank = map[RiskPolicy]int{
	RiskStrict:   0,
	RiskBalanced: 1,
	RiskFast:     2,
}

// hardnessByType is the default dependency classification: unavailability of
// a hard dependency disqualifies a candidate, a soft one only degrades it.
var hardnessByType = map[DependencyType]Hardness{
	DependencyDatabase: HardnessHard,
	DependencySMTP:     HardnessHard,
	DependencyDNS:      HardnessHard,
	DependencyAPIKey:   HardnessHard,
	DependencyS3:       HardnessHard,
	DependencyRedis:    HardnessSoft,
	DependencyHTTP:     HardnessSoft,
	DependencyAgent:    HardnessSoft,
	DependencyService:  HardnessSoft,
}

// ParseDifficulty validates and returns a Difficulty.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(s)
	if _, ok := difficultyRank[d]; !ok {
		return "", fmt.Errorf("invalid difficulty %q", s)
	}
	return d, nil
}

// ParseRiskPolicy validates and returns a RiskPolicy.
func ParseRiskPolicy(s string) (RiskPolicy, error) {
	p := RiskPolicy(s)
	if _, ok := riskRank[p]; !ok {
		return "", fmt.Errorf("invalid risk policy %q", s)
	}
	return p, nil
}

// ParseHardness validates and returns a Hardness. Empty is allowed and means
// "default by dependency type".
func ParseHardness(s string) (Hardness, error) {
	switch h := Hardness(s); h {
	case "", HardnessHard, HardnessSoft:
		return h, nil
	default:
		return "", fmt.Errorf("invalid hardness %q", s)
	}
}

// ParseDependencyType validates and returns a DependencyType.
func ParseDependencyType(s string) (DependencyType, error) {
	t := DependencyType(s)
	if _, ok := hardnessByType[t]; !ok {
		return "", fmt.Errorf("invalid dependency type %q", s)
	}
	return t, nil
}

// ParseOrchestratorMode validates and returns an OrchestratorMode. Empty is
// allowed and means "no hint declared".
func ParseOrchestratorMode(s string) (OrchestratorMode, error) {
	switch m := OrchestratorMode(s); m {
	case "", ModeParallel, ModeHierarchical, ModeBlackboard, ModeSequential:
		return m, nil
	default:
		return "", fmt.Errorf("invalid orchestrator mode %q", s)
	}
}

// Rank returns the ordinal position of the difficulty (low < medium < high).
func (d Difficulty) Rank() int { return difficultyRank[d] }

// Valid reports whether the difficulty is a known value.
func (d Difficulty) Valid() bool { _, ok := difficultyRank[d]; return ok }

// Valid reports whether the risk policy is a known value.
func (p RiskPolicy) Valid() bool { _, ok := riskRank[p]; return ok }

// Compatible reports whether a candidate with policy p may serve a request
// with the given tolerance. A candidate qualifies when its policy is at
// least as conservative as the request demands: a strict request is served
// only by strict agents, a balanced one by strict or balanced agents, and a
// fast one by any agent.
func (p RiskPolicy) Compatible(tolerance RiskPolicy) bool {
	return riskRank[p] <= riskRank[tolerance]
}

// Default returns the default hardness classification for the type.
func (t DependencyType) Default() Hardness { return hardnessByType[t] }

// Valid reports whether the dependency type is a known value.
func (t DependencyType) Valid() bool { _, ok := hardnessByType[t]; return ok }
