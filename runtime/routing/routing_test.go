package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() Request {
	return Request{
		RequestID:       "req-1",
		TaskDescription: "summarize the quarterly billing report",
		TaskDomain:      "billing",
		Difficulty:      DifficultyMedium,
		RiskTolerance:   RiskBalanced,
	}
}

func validCandidate() Candidate {
	return Candidate{
		AgentID:             "billing-agent",
		Domains:             []string{"billing"},
		Tools:               []string{"ledger", "mailer"},
		RequiredTools:       []string{"ledger"},
		DifficultyThreshold: DifficultyHigh,
		RiskPolicy:          RiskBalanced,
		FulfillmentScore:    0.9,
	}
}

func TestRequestValidate(t *testing.T) {
	require.NoError(t, validRequest().Validate())

	cases := []struct {
		name   string
		mutate func(*Request)
	}{
		{"missing domain", func(r *Request) { r.TaskDomain = "" }},
		{"blank domain", func(r *Request) { r.TaskDomain = "   " }},
		{"missing description", func(r *Request) { r.TaskDescription = "" }},
		{"bad difficulty", func(r *Request) { r.Difficulty = "impossible" }},
		{"bad tolerance", func(r *Request) { r.RiskTolerance = "yolo" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestCandidateValidate(t *testing.T) {
	require.NoError(t, validCandidate().Validate())

	cases := []struct {
		name   string
		mutate func(*Candidate)
	}{
		{"missing id", func(c *Candidate) { c.AgentID = "" }},
		{"no domains", func(c *Candidate) { c.Domains = nil }},
		{"bad threshold", func(c *Candidate) { c.DifficultyThreshold = "extreme" }},
		{"bad risk policy", func(c *Candidate) { c.RiskPolicy = "wild" }},
		{"fulfillment above one", func(c *Candidate) { c.FulfillmentScore = 1.2 }},
		{"fulfillment negative", func(c *Candidate) { c.FulfillmentScore = -0.1 }},
		{"bad hint", func(c *Candidate) { c.Routing.OrchestratorHint = "swarm" }},
		{"negative parallel cap", func(c *Candidate) { c.Routing.MaxParallelTasks = -1 }},
		{"bad dependency type", func(c *Candidate) {
			c.Dependencies = []Dependency{{Type: "ftp", Target: "host:21"}}
		}},
		{"dependency without target", func(c *Candidate) {
			c.Dependencies = []Dependency{{Type: DependencyDatabase}}
		}},
		{"bad dependency hardness", func(c *Candidate) {
			c.Dependencies = []Dependency{{Type: DependencyRedis, Target: "r:6379", Hardness: "firm"}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cand := validCandidate()
			tc.mutate(&cand)
			require.Error(t, cand.Validate())
		})
	}
}

func TestCandidateValidateAPIKeyTargetOptional(t *testing.T) {
	cand := validCandidate()
	cand.Dependencies = []Dependency{{Type: DependencyAPIKey}}
	require.NoError(t, cand.Validate())
}

func TestHasDomain(t *testing.T) {
	cand := validCandidate()
	assert.True(t, cand.HasDomain("billing"))
	assert.True(t, cand.HasDomain("BILLING"))
	assert.False(t, cand.HasDomain("support"))
}

func TestDefaultVector(t *testing.T) {
	vec := DefaultVector("agent-1")
	assert.Equal(t, "agent-1", vec.AgentID)
	assert.Equal(t, 1.0, vec.SuccessRate)
	assert.Equal(t, 1.0, vec.FairnessScore)
	assert.Zero(t, vec.SampleCount)
}
