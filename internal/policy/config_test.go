package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		reason ReasonCode
	}{
		{"confidence below floor", func(c *Config) { c.ConfidenceMin = 0.50 }, ReasonThresholdOutOfBounds},
		{"confidence above ceiling", func(c *Config) { c.ConfidenceMin = 0.80 }, ReasonThresholdOutOfBounds},
		{"edge below floor", func(c *Config) { c.EdgeMin = 0.001 }, ReasonThresholdOutOfBounds},
		{"drift zero", func(c *Config) { c.DriftMax = 0 }, ReasonThresholdOutOfBounds},
		{"daily loss non-positive", func(c *Config) { c.HardStops.DailyLossLimitUSD = 0 }, ReasonInvalidHardStopLimit},
		{"consecutive below one", func(c *Config) { c.HardStops.ConsecutiveLossLimit = 0 }, ReasonInvalidHardStopLimit},
		{"bankroll over 100", func(c *Config) { c.HardStops.BankrollPercentLimit = 150 }, ReasonInvalidHardStopLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, IsReason(err, tt.reason), "got %v", err)
		})
	}
}

func TestWeakerThanNamesEachViolation(t *testing.T) {
	current := HardStopLimits{DailyLossLimitUSD: 500, ConsecutiveLossLimit: 5, BankrollPercentLimit: 10}

	same := current
	assert.Empty(t, same.WeakerThan(current))

	stricter := HardStopLimits{DailyLossLimitUSD: 400, ConsecutiveLossLimit: 4, BankrollPercentLimit: 8}
	assert.Empty(t, stricter.WeakerThan(current))

	looser := HardStopLimits{DailyLossLimitUSD: 600, ConsecutiveLossLimit: 6, BankrollPercentLimit: 12}
	weakened := looser.WeakerThan(current)
	assert.Len(t, weakened, 3)

	mixed := HardStopLimits{DailyLossLimitUSD: 400, ConsecutiveLossLimit: 6, BankrollPercentLimit: 10}
	weakened = mixed.WeakerThan(current)
	require.Len(t, weakened, 1)
	assert.Contains(t, weakened[0], "consecutive_loss_limit")
}

func TestClampThresholds(t *testing.T) {
	c, e := ClampThresholds(0.40, 0.50)
	assert.InDelta(t, ConfidenceFloor, c, 1e-9)
	assert.InDelta(t, EdgeCeiling, e, 1e-9)

	c, e = ClampThresholds(0.65, 0.05)
	assert.InDelta(t, 0.65, c, 1e-9)
	assert.InDelta(t, 0.05, e, 1e-9)
}
