// Package quality scores the data feeding a model tier before its output
// is trusted. The score blends source availability, schema validity,
// freshness, and field completeness into a single gate decision.
package quality

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/courtline/policycore/internal/models"
)

// Assessment is the scored result of a quality check on one tier's inputs
type Assessment struct {
	OverallScore       float64  `json:"overall_score"`
	SourceAvailability float64  `json:"source_availability"`
	SchemaValidity     float64  `json:"schema_validity"`
	Freshness          float64  `json:"freshness"`
	Completeness       float64  `json:"completeness"`
	Passed             bool     `json:"passed"`
	FailedChecks       []string `json:"failed_checks,omitempty"`
}

// GateConfig holds the quality thresholds and dimension weights
type GateConfig struct {
	MinOverallScore   float64       `yaml:"min_overall_score"`
	MinAvailability   float64       `yaml:"min_availability"`
	MinSchemaValidity float64       `yaml:"min_schema_validity"`
	MinFreshness      float64       `yaml:"min_freshness"`
	MinCompleteness   float64       `yaml:"min_completeness"`
	FreshnessWarnAge  time.Duration `yaml:"freshness_warn_age"`
	FreshnessMaxAge   time.Duration `yaml:"freshness_max_age"`

	AvailabilityWeight float64 `yaml:"availability_weight"`
	SchemaWeight       float64 `yaml:"schema_weight"`
	FreshnessWeight    float64 `yaml:"freshness_weight"`
	CompletenessWeight float64 `yaml:"completeness_weight"`
}

func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinOverallScore:    0.70,
		MinAvailability:    0.50,
		MinSchemaValidity:  0.90,
		MinFreshness:       0.40,
		MinCompleteness:    0.60,
		FreshnessWarnAge:   30 * time.Minute,
		FreshnessMaxAge:    6 * time.Hour,
		AvailabilityWeight: 0.30,
		SchemaWeight:       0.20,
		FreshnessWeight:    0.30,
		CompletenessWeight: 0.20,
	}
}

// Gates assesses tier inputs against the configured quality thresholds
type Gates struct {
	config GateConfig
	logger zerolog.Logger
	now    func() time.Time
}

func NewGates(config GateConfig, logger zerolog.Logger) *Gates {
	return &Gates{
		config: config,
		logger: logger.With().Str("component", "quality_gates").Logger(),
		now:    time.Now,
	}
}

// Assess scores the tier inputs across all four dimensions and applies
// both the per-dimension floors and the weighted overall floor.
func (g *Gates) Assess(inputs models.TierInputs) Assessment {
	a := Assessment{
		SourceAvailability: g.scoreAvailability(inputs),
		SchemaValidity:     g.scoreSchema(inputs),
		Freshness:          g.scoreFreshness(inputs),
		Completeness:       g.scoreCompleteness(inputs),
	}

	a.OverallScore = a.SourceAvailability*g.config.AvailabilityWeight +
		a.SchemaValidity*g.config.SchemaWeight +
		a.Freshness*g.config.FreshnessWeight +
		a.Completeness*g.config.CompletenessWeight

	checks := []struct {
		name      string
		score     float64
		threshold float64
	}{
		{"source_availability", a.SourceAvailability, g.config.MinAvailability},
		{"schema_validity", a.SchemaValidity, g.config.MinSchemaValidity},
		{"freshness", a.Freshness, g.config.MinFreshness},
		{"completeness", a.Completeness, g.config.MinCompleteness},
		{"overall_score", a.OverallScore, g.config.MinOverallScore},
	}
	for _, c := range checks {
		if c.score < c.threshold {
			a.FailedChecks = append(a.FailedChecks, fmt.Sprintf("%s %.2f below %.2f", c.name, c.score, c.threshold))
		}
	}
	a.Passed = len(a.FailedChecks) == 0

	return a
}

func (g *Gates) scoreAvailability(inputs models.TierInputs) float64 {
	if len(inputs.Sources) == 0 {
		return 0
	}
	available := 0
	for _, s := range inputs.Sources {
		if s.Available {
			available++
		}
	}
	return float64(available) / float64(len(inputs.Sources))
}

func (g *Gates) scoreSchema(inputs models.TierInputs) float64 {
	wanted := len(inputs.FieldsWanted)
	if wanted == 0 {
		return 0
	}
	score := 1.0 - float64(len(inputs.SchemaErrors))/float64(wanted)
	if score < 0 {
		return 0
	}
	return score
}

// scoreFreshness takes the age of the stalest feed; the worst feed wins.
// Fully fresh below the warn age, zero at the max age, linear between.
func (g *Gates) scoreFreshness(inputs models.TierInputs) float64 {
	if len(inputs.LastUpdated) == 0 {
		return 0
	}
	now := g.now()
	var worst time.Duration
	for _, t := range inputs.LastUpdated {
		if age := now.Sub(t); age > worst {
			worst = age
		}
	}
	if worst <= g.config.FreshnessWarnAge {
		return 1.0
	}
	if worst >= g.config.FreshnessMaxAge {
		return 0
	}
	span := g.config.FreshnessMaxAge - g.config.FreshnessWarnAge
	return 1.0 - float64(worst-g.config.FreshnessWarnAge)/float64(span)
}

func (g *Gates) scoreCompleteness(inputs models.TierInputs) float64 {
	wanted := len(inputs.FieldsWanted)
	if wanted == 0 {
		return 0
	}
	seen := 0
	for _, field := range inputs.FieldsWanted {
		if inputs.FieldsSeen[field] {
			seen++
		}
	}
	return float64(seen) / float64(wanted)
}

// Unavailable builds a failed assessment for a tier whose provider could
// not be reached at all.
func Unavailable(reason string) Assessment {
	return Assessment{
		Passed:       false,
		FailedChecks: []string{reason},
	}
}
