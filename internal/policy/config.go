package policy

import (
	"fmt"
	"time"
)

// Platform-safe bounds for gate thresholds. Optimizer recommendations and
// manual edits are clamped so operators can never push thresholds outside
// this envelope.
const (
	ConfidenceFloor   = 0.55
	ConfidenceCeiling = 0.72
	EdgeFloor         = 0.01
	EdgeCeiling       = 0.12
	DriftMaxCeiling   = 1.0
)

// HardStopLimits is the risk budget triple. Smaller values are stricter;
// a restore may only tighten, never loosen (see Versioner.Restore).
type HardStopLimits struct {
	DailyLossLimitUSD    float64 `json:"daily_loss_limit_usd" yaml:"daily_loss_limit_usd"`
	ConsecutiveLossLimit int     `json:"consecutive_loss_limit" yaml:"consecutive_loss_limit"`
	BankrollPercentLimit float64 `json:"bankroll_percent_limit" yaml:"bankroll_percent_limit"`
}

// WeakerThan reports whether any component of l loosens the budget
// relative to current. Each component is checked individually so the
// violation can be named.
func (l HardStopLimits) WeakerThan(current HardStopLimits) []string {
	var weakened []string
	if l.DailyLossLimitUSD > current.DailyLossLimitUSD {
		weakened = append(weakened, fmt.Sprintf("daily_loss_limit_usd %.2f > %.2f", l.DailyLossLimitUSD, current.DailyLossLimitUSD))
	}
	if l.ConsecutiveLossLimit > current.ConsecutiveLossLimit {
		weakened = append(weakened, fmt.Sprintf("consecutive_loss_limit %d > %d", l.ConsecutiveLossLimit, current.ConsecutiveLossLimit))
	}
	if l.BankrollPercentLimit > current.BankrollPercentLimit {
		weakened = append(weakened, fmt.Sprintf("bankroll_percent_limit %.2f > %.2f", l.BankrollPercentLimit, current.BankrollPercentLimit))
	}
	return weakened
}

// Config is the single source of truth for decision thresholds. Exactly
// one Config is active at a time; in-flight evaluations operate on a copy
// taken at admission, so a concurrent update never changes a decision
// mid-evaluation.
type Config struct {
	ConfidenceMin float64        `json:"confidence_min" yaml:"confidence_min"`
	EdgeMin       float64        `json:"edge_min" yaml:"edge_min"`
	DriftMax      float64        `json:"drift_max" yaml:"drift_max"`
	HardStops     HardStopLimits `json:"hard_stops" yaml:"hard_stops"`
	UpdatedAt     time.Time      `json:"updated_at" yaml:"-"`
}

// DefaultConfig returns the production baseline thresholds
func DefaultConfig() Config {
	return Config{
		ConfidenceMin: 0.62,
		EdgeMin:       0.04,
		DriftMax:      0.25,
		HardStops: HardStopLimits{
			DailyLossLimitUSD:    500.0,
			ConsecutiveLossLimit: 5,
			BankrollPercentLimit: 10.0,
		},
		UpdatedAt: time.Now().UTC(),
	}
}

// Validate rejects configs outside the platform-safe envelope
func (c Config) Validate() error {
	if c.ConfidenceMin < ConfidenceFloor || c.ConfidenceMin > ConfidenceCeiling {
		return ValidationError{
			Reason:  ReasonThresholdOutOfBounds,
			Field:   "confidence_min",
			Message: fmt.Sprintf("confidence_min %.4f outside [%.2f, %.2f]", c.ConfidenceMin, ConfidenceFloor, ConfidenceCeiling),
		}
	}
	if c.EdgeMin < EdgeFloor || c.EdgeMin > EdgeCeiling {
		return ValidationError{
			Reason:  ReasonThresholdOutOfBounds,
			Field:   "edge_min",
			Message: fmt.Sprintf("edge_min %.4f outside [%.2f, %.2f]", c.EdgeMin, EdgeFloor, EdgeCeiling),
		}
	}
	if c.DriftMax <= 0 || c.DriftMax > DriftMaxCeiling {
		return ValidationError{
			Reason:  ReasonThresholdOutOfBounds,
			Field:   "drift_max",
			Message: fmt.Sprintf("drift_max %.4f outside (0, %.2f]", c.DriftMax, DriftMaxCeiling),
		}
	}
	if c.HardStops.DailyLossLimitUSD <= 0 {
		return ValidationError{
			Reason:  ReasonInvalidHardStopLimit,
			Field:   "daily_loss_limit_usd",
			Message: fmt.Sprintf("daily_loss_limit_usd must be positive, got %.2f", c.HardStops.DailyLossLimitUSD),
		}
	}
	if c.HardStops.ConsecutiveLossLimit < 1 {
		return ValidationError{
			Reason:  ReasonInvalidHardStopLimit,
			Field:   "consecutive_loss_limit",
			Message: fmt.Sprintf("consecutive_loss_limit must be >= 1, got %d", c.HardStops.ConsecutiveLossLimit),
		}
	}
	if c.HardStops.BankrollPercentLimit <= 0 || c.HardStops.BankrollPercentLimit > 100 {
		return ValidationError{
			Reason:  ReasonInvalidHardStopLimit,
			Field:   "bankroll_percent_limit",
			Message: fmt.Sprintf("bankroll_percent_limit must be in (0, 100], got %.2f", c.HardStops.BankrollPercentLimit),
		}
	}
	return nil
}

// ClampThresholds bounds candidate gate thresholds to the platform envelope
func ClampThresholds(confidenceMin, edgeMin float64) (float64, float64) {
	if confidenceMin < ConfidenceFloor {
		confidenceMin = ConfidenceFloor
	}
	if confidenceMin > ConfidenceCeiling {
		confidenceMin = ConfidenceCeiling
	}
	if edgeMin < EdgeFloor {
		edgeMin = EdgeFloor
	}
	if edgeMin > EdgeCeiling {
		edgeMin = EdgeCeiling
	}
	return confidenceMin, edgeMin
}
