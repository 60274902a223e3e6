package scoring

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"tiers out of order", func(c *Config) { c.Tiers.Verified = c.Tiers.Signature }, "tier weights"},
		{"client outweighs ax", func(c *Config) { c.Credits.ClientConfirmed = c.Credits.AxVerified + 1 }, "credit multipliers"},
		{"negative threshold", func(c *Config) { c.Credits.DiminishingThreshold = -1 }, "diminishing_threshold"},
		{"negative cap", func(c *Config) { c.DistinctClients.MaxImpactCap = -1 }, "max_impact_cap"},
		{"rate thresholds", func(c *Config) { c.ResponseRate.GoodPct = 99 }, "response rate"},
		{"time thresholds", func(c *Config) { c.ResponseTime.FastHours = 0 }, "response time"},
		{"recency windows", func(c *Config) { c.Recency.RecentDays = 2 }, "recency windows"},
		{"inactivity order", func(c *Config) { c.Recency.HeavyInactiveDays = 100 }, "inactivity thresholds"},
		{"penalties", func(c *Config) { c.Recency.HeavyInactivePenalty = 1 }, "penalties"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	profile := `
tiers:
  signature: 150
distinct_clients:
  max_impact_cap: 5
review_weight: 6
`
	require.NoError(t, os.WriteFile(path, []byte(profile), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, 150.0, cfg.Tiers.Signature)
	assert.Equal(t, def.Tiers.Verified, cfg.Tiers.Verified)
	assert.Equal(t, 5, cfg.DistinctClients.MaxImpactCap)
	assert.Equal(t, def.DistinctClients.PerClientScore, cfg.DistinctClients.PerClientScore)
	assert.Equal(t, 6.0, cfg.ReviewWeight)
	assert.Equal(t, def.Recency, cfg.Recency)
}

func TestLoadConfigRejectsInvalidProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	require.NoError(t, os.WriteFile(path, []byte("credits:\n  self_reported: 50\n"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credit multipliers")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestProfilesProduceDifferentScores(t *testing.T) {
	generous := DefaultConfig()
	generous.ReviewWeight = 10

	f := CredibilityFactors{Stats: Stats{PositiveReviewCount: 4}, Now: testNow}
	assert.Equal(t, 16, NewCalculator().ComputeScore(f))
	assert.Equal(t, 40, NewCalculatorWithConfig(generous).ComputeScore(f))
}
