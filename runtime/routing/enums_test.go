package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDifficulty(t *testing.T) {
	for _, valid := range []string{"low", "medium", "high"} {
		d, err := ParseDifficulty(valid)
		require.NoError(t, err)
		assert.Equal(t, Difficulty(valid), d)
	}
	_, err := ParseDifficulty("extreme")
	require.Error(t, err)
	_, err = ParseDifficulty("")
	require.Error(t, err)
}

func TestDifficultyRank(t *testing.T) {
	assert.Less(t, DifficultyLow.Rank(), DifficultyMedium.Rank())
	assert.Less(t, DifficultyMedium.Rank(), DifficultyHigh.Rank())
}

func TestRiskCompatible(t *testing.T) {
	cases := []struct {
		policy    RiskPolicy
		tolerance RiskPolicy
		want      bool
	}{
		{RiskStrict, RiskStrict, true},
		{RiskStrict, RiskBalanced, true},
		{RiskStrict, RiskFast, true},
		{RiskBalanced, RiskStrict, false},
		{RiskBalanced, RiskBalanced, true},
		{RiskBalanced, RiskFast, true},
		{RiskFast, RiskStrict, false},
		{RiskFast, RiskBalanced, false},
		{RiskFast, RiskFast, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.policy.Compatible(tc.tolerance),
			"policy %s tolerance %s", tc.policy, tc.tolerance)
	}
}

func TestDependencyTypeDefaults(t *testing.T) {
	hard := []DependencyType{DependencyDatabase, DependencySMTP, DependencyDNS, DependencyAPIKey, DependencyS3}
	for _, typ := range hard {
		assert.Equal(t, HardnessHard, typ.Default(), "type %s", typ)
	}
	soft := []DependencyType{DependencyRedis, DependencyHTTP, DependencyAgent, DependencyService}
	for _, typ := range soft {
		assert.Equal(t, HardnessSoft, typ.Default(), "type %s", typ)
	}
}

func TestEffectiveHardnessOverride(t *testing.T) {
	dep := Dependency{Type: DependencyRedis, Target: "localhost:6379"}
	assert.Equal(t, HardnessSoft, dep.EffectiveHardness())

	dep.Hardness = HardnessHard
	assert.Equal(t, HardnessHard, dep.EffectiveHardness())

	dep = Dependency{Type: DependencyDatabase, Target: "db:5432", Hardness: HardnessSoft}
	assert.Equal(t, HardnessSoft, dep.EffectiveHardness())
}

func TestParseHardness(t *testing.T) {
	for _, valid := range []string{"", "hard", "soft"} {
		_, err := ParseHardness(valid)
		require.NoError(t, err)
	}
	_, err := ParseHardness("firm")
	require.Error(t, err)
}

func TestParseOrchestratorMode(t *testing.T) {
	for _, valid := range []string{"", "sequential", "parallel", "hierarchical", "blackboard"} {
		_, err := ParseOrchestratorMode(valid)
		require.NoError(t, err)
	}
	_, err := ParseOrchestratorMode("swarm")
	require.Error(t, err)
}
