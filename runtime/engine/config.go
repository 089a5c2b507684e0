package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cascadehq/care/runtime/routing"
)

type (
	// Config holds the engine tunables. The zero value is not usable; start
	// from DefaultConfig and override selectively, or load overrides from a
	// YAML file via LoadConfig.
	Config struct {
		// StageWeights maps each pipeline stage to its share of the overall
		// confidence score. The weights must sum to 1.
		StageWeights map[routing.StageName]float64 `yaml:"stage_weights"`
		// MinFulfillment is the minimum historical fulfillment score a
		// candidate needs to pass the strategy-fit stage.
		MinFulfillment float64 `yaml:"min_fulfillment"`
		// ConfidenceBlock is the threshold below which routing is blocked.
		ConfidenceBlock float64 `yaml:"confidence_block"`
		// ConfidenceFallback is the threshold below which the top-ranked
		// candidate is discarded in favor of the next eligible one.
		ConfidenceFallback float64 `yaml:"confidence_fallback"`
		// BaseWeight and FairnessWeight combine into the final ranking
		// score: final = base*BaseWeight + fairness*FairnessWeight.
		BaseWeight     float64 `yaml:"base_weight"`
		FairnessWeight float64 `yaml:"fairness_weight"`
		// FairnessWindow is the trailing window for recent-assignment
		// counts feeding the fairness score.
		FairnessWindow time.Duration `yaml:"fairness_window"`
		// MaxFallbacks caps the fallback agent chain.
		MaxFallbacks int `yaml:"max_fallbacks"`
		// TotalBudget bounds one full routing evaluation including probe
		// fan-out. The engine always returns a decision within it.
		TotalBudget time.Duration `yaml:"total_budget"`
		// Tiers maps risk tiers to admitted requests per minute.
		Tiers map[routing.RiskPolicy]int `yaml:"tiers"`
	}
)

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		StageWeights: map[routing.StageName]float64{
			routing.StageAspiration:   0.20,
			routing.StageDomainFilter: 0.25,
			routing.StageStrategyFit:  0.20,
			routing.StageCapability:   0.25,
			routing.StageOrchestrator: 0.10,
		},
		MinFulfillment:     0.30,
		ConfidenceBlock:    0.35,
		ConfidenceFallback: 0.55,
		BaseWeight:         0.80,
		FairnessWeight:     0.20,
		FairnessWindow:     5 * time.Minute,
		MaxFallbacks:       3,
		TotalBudget:        2 * time.Second,
		Tiers: map[routing.RiskPolicy]int{
			routing.RiskStrict:   10,
			routing.RiskBalanced: 30,
			routing.RiskFast:     100,
		},
	}
}

// LoadConfig reads YAML overrides from path on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read engine config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse engine config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("engine config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks internal consistency of the tunables.
func (c Config) Validate() error {
	var sum float64
	for _, s := range []routing.StageName{
		routing.StageAspiration, routing.StageDomainFilter, routing.StageStrategyFit,
		routing.StageCapability, routing.StageOrchestrator,
	} {
		w, ok := c.StageWeights[s]
		if !ok {
			return fmt.Errorf("missing weight for stage %s", s)
		}
		if w < 0 || w > 1 {
			return fmt.Errorf("stage %s weight %v out of [0,1]", s, w)
		}
		sum += w
	}
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("stage weights sum to %v, want 1", sum)
	}
	if c.MinFulfillment < 0 || c.MinFulfillment > 1 {
		return fmt.Errorf("min fulfillment %v out of [0,1]", c.MinFulfillment)
	}
	if c.ConfidenceBlock >= c.ConfidenceFallback {
		return fmt.Errorf("confidence block threshold %v must be below fallback threshold %v",
			c.ConfidenceBlock, c.ConfidenceFallback)
	}
	if c.BaseWeight+c.FairnessWeight < 0.999 || c.BaseWeight+c.FairnessWeight > 1.001 {
		return fmt.Errorf("base and fairness weights sum to %v, want 1", c.BaseWeight+c.FairnessWeight)
	}
	if c.FairnessWindow <= 0 {
		return fmt.Errorf("fairness window must be positive")
	}
	if c.MaxFallbacks < 0 {
		return fmt.Errorf("max fallbacks must not be negative")
	}
	if c.TotalBudget <= 0 {
		return fmt.Errorf("total budget must be positive")
	}
	for _, tier := range []routing.RiskPolicy{routing.RiskStrict, routing.RiskBalanced, routing.RiskFast} {
		if c.Tiers[tier] <= 0 {
			return fmt.Errorf("tier %s limit must be positive", tier)
		}
	}
	return nil
}
