package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/care/runtime/routing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Tiers[routing.RiskStrict])
	assert.Equal(t, 30, cfg.Tiers[routing.RiskBalanced])
	assert.Equal(t, 100, cfg.Tiers[routing.RiskFast])
	assert.Equal(t, 5*time.Minute, cfg.FairnessWindow)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "care.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
min_fulfillment: 0.5
confidence_block: 0.4
max_fallbacks: 5
tiers:
  strict: 20
  balanced: 30
  fast: 100
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, cfg.MinFulfillment, 1e-9)
	assert.InDelta(t, 0.4, cfg.ConfidenceBlock, 1e-9)
	assert.Equal(t, 5, cfg.MaxFallbacks)
	assert.Equal(t, 20, cfg.Tiers[routing.RiskStrict])
	// Untouched fields keep the defaults.
	assert.InDelta(t, 0.55, cfg.ConfidenceFallback, 1e-9)
	assert.Equal(t, 2*time.Second, cfg.TotalBudget)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("tiers: ["), 0o600))
		_, err := LoadConfig(path)
		require.Error(t, err)
	})

	t.Run("invalid overrides rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("confidence_block: 0.9"), 0o600))
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be below fallback threshold")
	})
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing stage weight", func(c *Config) { delete(c.StageWeights, routing.StageCapability) }},
		{"weights do not sum to one", func(c *Config) { c.StageWeights[routing.StageAspiration] = 0.5 }},
		{"fulfillment out of range", func(c *Config) { c.MinFulfillment = 1.5 }},
		{"block above fallback", func(c *Config) { c.ConfidenceBlock = 0.6 }},
		{"score weights do not sum to one", func(c *Config) { c.FairnessWeight = 0.5 }},
		{"non-positive fairness window", func(c *Config) { c.FairnessWindow = 0 }},
		{"negative fallback cap", func(c *Config) { c.MaxFallbacks = -1 }},
		{"non-positive budget", func(c *Config) { c.TotalBudget = 0 }},
		{"missing tier limit", func(c *Config) { delete(c.Tiers, routing.RiskFast) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
