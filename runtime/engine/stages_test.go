package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/care/runtime/probe"
	"github.com/cascadehq/care/runtime/routing"
)

func testEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Source == nil {
		opts.Source = sourceFunc(func(context.Context, string) ([]routing.Candidate, error) {
			return nil, nil
		})
	}
	if opts.Recorder == nil {
		opts.Recorder = &captureRecorder{}
	}
	e, err := New(opts)
	require.NoError(t, err)
	return e
}

func stageByName(t *testing.T, stages []routing.StageResult, name routing.StageName) routing.StageResult {
	t.Helper()
	for _, s := range stages {
		if s.Stage == name {
			return s
		}
	}
	t.Fatalf("stage %s not recorded", name)
	return routing.StageResult{}
}

func TestStageAspirationKeywords(t *testing.T) {
	cases := []struct {
		desc   string
		metric routing.SuccessMetric
	}{
		{"keep the cost down on this batch", routing.MetricCost},
		{"we need a quick turnaround", routing.MetricLatency},
		{"produce a thorough and precise analysis", routing.MetricAccuracy},
		{"handle this in a safe manner", routing.MetricRiskMin},
		{"summarize the report", routing.MetricBalanced},
	}
	e := testEngine(t, Options{})
	for _, tc := range cases {
		t.Run(string(tc.metric), func(t *testing.T) {
			ev := e.evaluate(context.Background(), routing.Request{
				TaskDescription: tc.desc,
				TaskDomain:      "ops",
				Difficulty:      routing.DifficultyLow,
				RiskTolerance:   routing.RiskFast,
			}, routing.Candidate{
				AgentID:             "a",
				Domains:             []string{"ops"},
				DifficultyThreshold: routing.DifficultyHigh,
				RiskPolicy:          routing.RiskStrict,
				FulfillmentScore:    0.9,
			}, 0)
			assert.Equal(t, tc.metric, ev.metric)
		})
	}
}

func TestStageAspirationFirstRuleWins(t *testing.T) {
	// "cheap but fast" matches both cost and latency; cost is checked first.
	e := testEngine(t, Options{})
	ev := e.evaluate(context.Background(), routing.Request{
		TaskDescription: "cheap but fast sync",
		TaskDomain:      "ops",
		Difficulty:      routing.DifficultyLow,
		RiskTolerance:   routing.RiskFast,
	}, routing.Candidate{
		AgentID:             "a",
		Domains:             []string{"ops"},
		DifficultyThreshold: routing.DifficultyHigh,
		RiskPolicy:          routing.RiskStrict,
		FulfillmentScore:    0.9,
	}, 0)
	assert.Equal(t, routing.MetricCost, ev.metric)
}

func TestStageDomainFilterEliminates(t *testing.T) {
	e := testEngine(t, Options{})
	base := routing.Candidate{
		AgentID:             "a",
		Domains:             []string{"billing"},
		Tools:               []string{"ledger"},
		DifficultyThreshold: routing.DifficultyHigh,
		RiskPolicy:          routing.RiskStrict,
		FulfillmentScore:    0.9,
	}
	req := routing.Request{
		TaskDescription: "reconcile accounts",
		TaskDomain:      "billing",
		Difficulty:      routing.DifficultyLow,
		RiskTolerance:   routing.RiskFast,
	}

	t.Run("wrong domain", func(t *testing.T) {
		r := req
		r.TaskDomain = "support"
		ev := e.evaluate(context.Background(), r, base, 0)
		assert.True(t, ev.eliminated)
		assert.Contains(t, ev.eliminatedReason, "does not serve domain")
	})

	t.Run("missing required tool", func(t *testing.T) {
		cand := base
		cand.RequiredTools = []string{"ledger", "mailer"}
		ev := e.evaluate(context.Background(), req, cand, 0)
		assert.True(t, ev.eliminated)
		assert.Contains(t, ev.eliminatedReason, "mailer")
	})

	t.Run("context restriction violated", func(t *testing.T) {
		cand := base
		cand.ContextRestrictions = []string{"medical"}
		r := req
		r.TaskDescription = "reconcile Medical claims"
		ev := e.evaluate(context.Background(), r, cand, 0)
		assert.True(t, ev.eliminated)
		assert.Contains(t, ev.eliminatedReason, "medical")
	})

	t.Run("passes", func(t *testing.T) {
		cand := base
		cand.RequiredTools = []string{"ledger"}
		cand.ContextRestrictions = []string{"medical"}
		ev := e.evaluate(context.Background(), req, cand, 0)
		assert.False(t, ev.eliminated)
		assert.True(t, stageByName(t, ev.stages, routing.StageDomainFilter).Passed)
	})
}

func TestStageStrategyFitFailsWithoutEliminating(t *testing.T) {
	e := testEngine(t, Options{})
	req := routing.Request{
		TaskDescription: "migrate the schema",
		TaskDomain:      "db",
		Difficulty:      routing.DifficultyHigh,
		RiskTolerance:   routing.RiskStrict,
	}
	base := routing.Candidate{
		AgentID:             "a",
		Domains:             []string{"db"},
		DifficultyThreshold: routing.DifficultyHigh,
		RiskPolicy:          routing.RiskStrict,
		FulfillmentScore:    0.9,
	}

	cases := []struct {
		name   string
		mutate func(*routing.Candidate)
		reason string
	}{
		{"difficulty over threshold", func(c *routing.Candidate) { c.DifficultyThreshold = routing.DifficultyLow }, "exceeds threshold"},
		{"fulfillment below floor", func(c *routing.Candidate) { c.FulfillmentScore = 0.1 }, "below minimum"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cand := base
			tc.mutate(&cand)
			ev := e.evaluate(context.Background(), req, cand, 0)
			stage := stageByName(t, ev.stages, routing.StageStrategyFit)
			assert.False(t, stage.Passed)
			assert.Contains(t, stage.Reason, tc.reason)
			// Capability misfit tanks the score but does not disqualify.
			assert.False(t, ev.eliminated)
		})
	}

	t.Run("pass contribution is fulfillment score", func(t *testing.T) {
		ev := e.evaluate(context.Background(), req, base, 0)
		stage := stageByName(t, ev.stages, routing.StageStrategyFit)
		assert.True(t, stage.Passed)
		assert.InDelta(t, 0.9, stage.Confidence, 1e-9)
	})
}

func TestStageStrategyFitRiskMismatchEliminates(t *testing.T) {
	e := testEngine(t, Options{})
	cand := routing.Candidate{
		AgentID:             "a",
		Domains:             []string{"db"},
		DifficultyThreshold: routing.DifficultyHigh,
		RiskPolicy:          routing.RiskFast,
		FulfillmentScore:    0.9,
	}

	ev := e.evaluate(context.Background(), routing.Request{
		TaskDescription: "migrate the schema",
		TaskDomain:      "db",
		Difficulty:      routing.DifficultyLow,
		RiskTolerance:   routing.RiskStrict,
	}, cand, 0)

	stage := stageByName(t, ev.stages, routing.StageStrategyFit)
	assert.False(t, stage.Passed)
	assert.Contains(t, stage.Reason, "incompatible")
	assert.True(t, ev.eliminated)
	assert.Contains(t, ev.eliminatedReason, "cannot serve a strict-tolerance request")
}

func TestStageCapability(t *testing.T) {
	req := routing.Request{
		TaskDescription: "send the digest",
		TaskDomain:      "mail",
		Difficulty:      routing.DifficultyLow,
		RiskTolerance:   routing.RiskFast,
	}
	cand := routing.Candidate{
		AgentID:             "mailer",
		Domains:             []string{"mail"},
		DifficultyThreshold: routing.DifficultyHigh,
		RiskPolicy:          routing.RiskStrict,
		FulfillmentScore:    0.8,
		Dependencies: []routing.Dependency{
			{Type: routing.DependencySMTP, Target: "smtp:25"},
			{Type: routing.DependencyRedis, Target: "cache:6379"},
		},
	}

	t.Run("hard failure eliminates with actionable fix", func(t *testing.T) {
		e := testEngine(t, Options{Prober: proberFunc(func(_ context.Context, deps []routing.Dependency) probe.Report {
			return probe.Report{
				Results:      []probe.Result{{Type: routing.DependencySMTP}, {Type: routing.DependencyRedis, Available: true}},
				HardFailures: []probe.Result{{Type: routing.DependencySMTP, Reason: "connection refused"}},
			}
		})})
		ev := e.evaluate(context.Background(), req, cand, 0)
		assert.True(t, ev.eliminated)
		assert.Contains(t, ev.eliminatedReason, "smtp unreachable for agent mailer")
		assert.Contains(t, ev.eliminatedReason, "check connectivity")
	})

	t.Run("soft failure degrades only", func(t *testing.T) {
		e := testEngine(t, Options{Prober: proberFunc(func(_ context.Context, deps []routing.Dependency) probe.Report {
			return probe.Report{
				Results:      []probe.Result{{Type: routing.DependencySMTP, Available: true}, {Type: routing.DependencyRedis}},
				SoftFailures: []probe.Result{{Type: routing.DependencyRedis, Reason: "connection refused"}},
			}
		})})
		ev := e.evaluate(context.Background(), req, cand, 0)
		assert.False(t, ev.eliminated)
		stage := stageByName(t, ev.stages, routing.StageCapability)
		assert.True(t, stage.Passed)
		assert.InDelta(t, 0.5, stage.Confidence, 1e-9)
		assert.Equal(t, "Soft dependencies unavailable: redis", ev.degradedReason())
	})

	t.Run("no dependencies is a full pass", func(t *testing.T) {
		e := testEngine(t, Options{Prober: proberFunc(func(context.Context, []routing.Dependency) probe.Report {
			t.Fatal("prober must not run without dependencies")
			return probe.Report{}
		})})
		bare := cand
		bare.Dependencies = nil
		ev := e.evaluate(context.Background(), req, bare, 0)
		stage := stageByName(t, ev.stages, routing.StageCapability)
		assert.True(t, stage.Passed)
		assert.Equal(t, 1.0, stage.Confidence)
	})
}

func TestStageOrchestrator(t *testing.T) {
	e := testEngine(t, Options{})
	req := func(desc string) routing.Request {
		return routing.Request{
			TaskDescription: desc,
			TaskDomain:      "ops",
			Difficulty:      routing.DifficultyLow,
			RiskTolerance:   routing.RiskFast,
		}
	}
	cand := routing.Candidate{
		AgentID:             "a",
		Domains:             []string{"ops"},
		DifficultyThreshold: routing.DifficultyHigh,
		RiskPolicy:          routing.RiskStrict,
		FulfillmentScore:    0.9,
	}

	cases := []struct {
		desc string
		mode routing.OrchestratorMode
	}{
		{"process these independent records", routing.ModeParallel},
		{"fan out over the shard list", routing.ModeParallel},
		{"decompose the migration into steps", routing.ModeHierarchical},
		{"collaborate on the draft", routing.ModeBlackboard},
		{"just do the thing", routing.ModeSequential},
	}
	for _, tc := range cases {
		ev := e.evaluate(context.Background(), req(tc.desc), cand, 0)
		assert.Equal(t, tc.mode, ev.mode, "desc %q", tc.desc)
	}

	t.Run("declared hint overrides inference", func(t *testing.T) {
		hinted := cand
		hinted.Routing.OrchestratorHint = routing.ModeBlackboard
		ev := e.evaluate(context.Background(), req("process these independent records"), hinted, 0)
		assert.Equal(t, routing.ModeBlackboard, ev.mode)
		stage := stageByName(t, ev.stages, routing.StageOrchestrator)
		assert.Equal(t, 1.0, stage.Confidence)
	})
}
