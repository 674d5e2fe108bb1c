package fallback

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/courtline/policycore/internal/models"
	"github.com/courtline/policycore/internal/quality"
)

// Level is one tier in the ordered fallback cascade
type Level string

const (
	LevelPrimary       Level = "primary"
	LevelSecondary     Level = "secondary"
	LevelLastValidated Level = "last_validated"
	LevelForceNoBet    Level = "force_no_bet"
)

// ForcedNoBetRationale is the canonical rationale attached when every
// real level fails its quality bar.
const ForcedNoBetRationale = "Forced No-Bet due to insufficient data quality"

// Attempt records one level's probe. The sequence per decision is
// append-only and retained in full for audit.
type Attempt struct {
	Level        Level   `json:"level"`
	ModelID      string  `json:"model_id,omitempty"`
	QualityScore float64 `json:"quality_score"`
	Passed       bool    `json:"passed"`
	Reason       string  `json:"reason"`
}

// LevelSpec binds a fallback level to the model serving it
type LevelSpec struct {
	Level   Level  `yaml:"level" json:"level"`
	ModelID string `yaml:"model_id" json:"model_id"`
}

// DefaultLevels is the production cascade order
func DefaultLevels() []LevelSpec {
	return []LevelSpec{
		{Level: LevelPrimary, ModelID: "nba_v3_2025"},
		{Level: LevelSecondary, ModelID: "nba_v3_global"},
		{Level: LevelLastValidated, ModelID: "nba_v2_validated"},
	}
}

// Result is the chain's verdict: either a trustworthy candidate model
// output plus its quality assessment, or a forced no-bet.
type Result struct {
	FinalLevel     Level              `json:"final_level"`
	WasForcedNoBet bool               `json:"was_forced_no_bet"`
	Attempts       []Attempt          `json:"attempts"`
	Output         models.ModelOutput `json:"output,omitempty"`
	Quality        quality.Assessment `json:"quality,omitempty"`
	Rationale      string             `json:"rationale,omitempty"`
}

// Chain runs the strict linear fallback cascade. Levels are probed in
// configured order; no level is retried, skipped, or reordered. The
// first level whose quality assessment passes wins.
type Chain struct {
	levels   []LevelSpec
	registry *Registry
	gates    *quality.Gates
	logger   zerolog.Logger
}

func NewChain(levels []LevelSpec, registry *Registry, gates *quality.Gates, logger zerolog.Logger) *Chain {
	real := make([]LevelSpec, 0, len(levels))
	for _, spec := range levels {
		if spec.Level == LevelForceNoBet {
			break
		}
		real = append(real, spec)
	}
	return &Chain{
		levels:   real,
		registry: registry,
		gates:    gates,
		logger:   logger.With().Str("component", "fallback_chain").Logger(),
	}
}

// Resolve probes each level in order until one clears the quality bar.
// Provider failures (timeouts, breaker rejections, lookup misses) are
// converted into failed attempts, never propagated as errors; they only
// drive the chain to the next level.
func (c *Chain) Resolve(ctx context.Context, gameID string) Result {
	result := Result{Attempts: make([]Attempt, 0, len(c.levels)+1)}

	for _, spec := range c.levels {
		output, inputs, err := c.registry.Fetch(ctx, spec.ModelID, gameID)
		if err != nil {
			assessment := quality.Unavailable(fmt.Sprintf("provider unavailable: %v", err))
			result.Attempts = append(result.Attempts, Attempt{
				Level:        spec.Level,
				ModelID:      spec.ModelID,
				QualityScore: assessment.OverallScore,
				Passed:       assessment.Passed,
				Reason:       strings.Join(assessment.FailedChecks, "; "),
			})
			continue
		}

		assessment := c.gates.Assess(inputs)
		attempt := Attempt{
			Level:        spec.Level,
			ModelID:      spec.ModelID,
			QualityScore: assessment.OverallScore,
			Passed:       assessment.Passed,
		}
		if assessment.Passed {
			attempt.Reason = fmt.Sprintf("quality score %.2f passed", assessment.OverallScore)
			result.Attempts = append(result.Attempts, attempt)
			result.FinalLevel = spec.Level
			result.Output = output
			result.Quality = assessment
			return result
		}

		attempt.Reason = fmt.Sprintf("quality checks failed: %v", assessment.FailedChecks)
		result.Attempts = append(result.Attempts, attempt)
	}

	// Every real level failed; manufacture the terminal attempt
	result.Attempts = append(result.Attempts, Attempt{
		Level:  LevelForceNoBet,
		Passed: true,
		Reason: ForcedNoBetRationale,
	})
	result.FinalLevel = LevelForceNoBet
	result.WasForcedNoBet = true
	result.Rationale = ForcedNoBetRationale

	c.logger.Warn().
		Str("game_id", gameID).
		Interface("attempts", result.Attempts).
		Msg("Forced No-Bet: all fallback levels failed data quality")

	return result
}
