package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCfg() Config {
	return Config{
		Memory: MemoryConfig{
			VectorDimension:      768,
			DedupThreshold:       0.95,
			SweepIntervalSeconds: 60,
		},
		Ranking: RankingConfig{
			AlphaVector:          0.55,
			BetaGraph:            0.25,
			GammaConfidence:      0.15,
			DeltaFreshness:       0.05,
			FreshnessTauDays:     30,
			DefaultMinConfidence: 7,
		},
		Conflict: ConflictConfig{SimilarityThreshold: 0.85},
	}
}

func TestConfig_Validate_ValidPasses(t *testing.T) {
	cfg := validCfg()
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate_Mutations(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero vector dimension", func(c *Config) { c.Memory.VectorDimension = 0 }, "vector_dimension"},
		{"dedup threshold too high", func(c *Config) { c.Memory.DedupThreshold = 1.5 }, "dedup_threshold"},
		{"negative sweep interval", func(c *Config) { c.Memory.SweepIntervalSeconds = -1 }, "sweep_interval_seconds"},
		{"zero freshness tau", func(c *Config) { c.Ranking.FreshnessTauDays = 0 }, "freshness_tau_days"},
		{"weights do not sum to one", func(c *Config) { c.Ranking.AlphaVector = 0.9 }, "ranking weights"},
		{"min confidence out of range", func(c *Config) { c.Ranking.DefaultMinConfidence = 11 }, "default_min_confidence"},
		{"similarity threshold negative", func(c *Config) { c.Conflict.SimilarityThreshold = -0.1 }, "similarity_threshold"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validCfg()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
