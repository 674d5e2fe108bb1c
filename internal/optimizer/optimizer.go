package optimizer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/courtline/policycore/internal/models"
	"github.com/courtline/policycore/internal/policy"
)

// ReasonInsufficientSamples is reported when the lookback window holds
// too few resolved predictions to recommend anything.
const ReasonInsufficientSamples = "insufficient_resolved_samples"

// SampleSource supplies resolved predictions for threshold tuning. An
// empty modelID queries across all models.
type SampleSource interface {
	ResolvedSince(ctx context.Context, modelID string, since time.Time) ([]models.ResolvedOutcome, error)
}

// Config defines the search space and acceptance bars
type Config struct {
	LookbackDays     int     `yaml:"lookback_days"`
	MinSamples       int     `yaml:"min_samples"`
	MinPrecision     float64 `yaml:"min_precision"`
	MinSelectedFrac  float64 `yaml:"min_selected_frac"`
	MinSelectedFloor int     `yaml:"min_selected_floor"`
	ConfidenceLow    float64 `yaml:"confidence_low"`
	ConfidenceHigh   float64 `yaml:"confidence_high"`
	EdgeLow          float64 `yaml:"edge_low"`
	EdgeHigh         float64 `yaml:"edge_high"`
	Step             float64 `yaml:"step"`
}

func DefaultConfig() Config {
	return Config{
		LookbackDays:     120,
		MinSamples:       30,
		MinPrecision:     0.53,
		MinSelectedFrac:  0.08,
		MinSelectedFloor: 15,
		ConfidenceLow:    0.58,
		ConfidenceHigh:   0.72,
		EdgeLow:          0.02,
		EdgeHigh:         0.12,
		Step:             0.01,
	}
}

// Recommendation is the optimizer's verdict. Applied=false carries a
// named reason; recommendations never mutate config directly and are
// applied only through the policy versioner.
type Recommendation struct {
	Applied       bool    `json:"applied"`
	Reason        string  `json:"reason,omitempty"`
	ConfidenceMin float64 `json:"confidence_min,omitempty"`
	EdgeMin       float64 `json:"edge_min,omitempty"`
	Method        string  `json:"method,omitempty"`
	Selected      int     `json:"selected,omitempty"`
	Precision     float64 `json:"precision,omitempty"`
	SampleCount   int     `json:"sample_count"`
	UsedAllModels bool    `json:"used_all_models"`
}

// Optimizer recomputes confidence/edge thresholds from resolved history
type Optimizer struct {
	config Config
	source SampleSource
	logger zerolog.Logger
	now    func() time.Time
}

func New(config Config, source SampleSource, logger zerolog.Logger) *Optimizer {
	return &Optimizer{
		config: config,
		source: source,
		logger: logger.With().Str("component", "threshold_optimizer").Logger(),
		now:    time.Now,
	}
}

type sample struct {
	confidence float64
	edge       float64
	won        bool
}

// Run performs the grid search over the lookback window. Fewer than
// MinSamples model-specific samples falls back to an all-model query;
// still fewer declines with ReasonInsufficientSamples.
func (o *Optimizer) Run(ctx context.Context, modelID string) (Recommendation, error) {
	since := o.now().AddDate(0, 0, -o.config.LookbackDays)

	resolved, err := o.source.ResolvedSince(ctx, modelID, since)
	if err != nil {
		return Recommendation{}, fmt.Errorf("query resolved outcomes: %w", err)
	}

	usedAllModels := false
	if len(resolved) < o.config.MinSamples {
		resolved, err = o.source.ResolvedSince(ctx, "", since)
		if err != nil {
			return Recommendation{}, fmt.Errorf("query all-model outcomes: %w", err)
		}
		usedAllModels = true
	}

	samples := normalize(resolved)
	if len(samples) < o.config.MinSamples {
		o.logger.Info().
			Int("samples", len(samples)).
			Int("required", o.config.MinSamples).
			Msg("Optimizer declined: insufficient resolved samples")
		return Recommendation{
			Applied:       false,
			Reason:        ReasonInsufficientSamples,
			SampleCount:   len(samples),
			UsedAllModels: usedAllModels,
		}, nil
	}

	if rec, ok := o.gridSearch(samples); ok {
		rec.SampleCount = len(samples)
		rec.UsedAllModels = usedAllModels
		o.logger.Info().
			Float64("confidence_min", rec.ConfidenceMin).
			Float64("edge_min", rec.EdgeMin).
			Int("selected", rec.Selected).
			Float64("precision", rec.Precision).
			Msg("Optimizer recommendation from grid search")
		return rec, nil
	}

	if rec, ok := o.percentileFallback(samples); ok {
		rec.SampleCount = len(samples)
		rec.UsedAllModels = usedAllModels
		o.logger.Info().
			Float64("confidence_min", rec.ConfidenceMin).
			Float64("edge_min", rec.EdgeMin).
			Msg("Optimizer recommendation from winner percentiles")
		return rec, nil
	}

	return Recommendation{
		Applied:       false,
		Reason:        "no_viable_thresholds",
		SampleCount:   len(samples),
		UsedAllModels: usedAllModels,
	}, nil
}

// gridSearch scans the 2-D threshold grid and keeps the best surviving
// cell, scored as selected*(precision-0.5), ties broken by precision.
func (o *Optimizer) gridSearch(samples []sample) (Recommendation, bool) {
	minSelected := o.config.MinSelectedFloor
	if frac := int(math.Ceil(o.config.MinSelectedFrac * float64(len(samples)))); frac > minSelected {
		minSelected = frac
	}

	var (
		found         bool
		bestScore     float64
		bestPrecision float64
		bestConf      float64
		bestEdge      float64
		bestSelected  int
	)

	for conf := o.config.ConfidenceLow; conf <= o.config.ConfidenceHigh+1e-9; conf += o.config.Step {
		for edge := o.config.EdgeLow; edge <= o.config.EdgeHigh+1e-9; edge += o.config.Step {
			selected, wins := 0, 0
			for _, s := range samples {
				if s.confidence >= conf && s.edge >= edge {
					selected++
					if s.won {
						wins++
					}
				}
			}
			if selected < minSelected {
				continue
			}
			precision := float64(wins) / float64(selected)
			if precision < o.config.MinPrecision {
				continue
			}
			score := float64(selected) * (precision - 0.5)
			if !found || score > bestScore || (score == bestScore && precision > bestPrecision) {
				found = true
				bestScore = score
				bestPrecision = precision
				bestConf = conf
				bestEdge = edge
				bestSelected = selected
			}
		}
	}

	if !found {
		return Recommendation{}, false
	}

	confMin, edgeMin := policy.ClampThresholds(round2(bestConf), round2(bestEdge))
	return Recommendation{
		Applied:       true,
		Method:        "grid_search",
		ConfidenceMin: confMin,
		EdgeMin:       edgeMin,
		Selected:      bestSelected,
		Precision:     bestPrecision,
	}, true
}

// percentileFallback uses the 40th percentile of confidence and edge
// among winning samples only, still clamped to platform-safe bounds.
// Requires at least MinSamples winners.
func (o *Optimizer) percentileFallback(samples []sample) (Recommendation, bool) {
	var confs, edges []float64
	for _, s := range samples {
		if s.won {
			confs = append(confs, s.confidence)
			edges = append(edges, s.edge)
		}
	}
	if len(confs) < o.config.MinSamples {
		return Recommendation{}, false
	}

	confMin, edgeMin := policy.ClampThresholds(percentile(confs, 0.40), percentile(edges, 0.40))
	return Recommendation{
		Applied:       true,
		Method:        "winner_percentile",
		ConfidenceMin: confMin,
		EdgeMin:       edgeMin,
		Selected:      len(confs),
	}, true
}

// normalize maps confidence/edge into [0,1]. Values above 1 are assumed
// percentage-scaled and divided by 100. Known limitation: edges
// legitimately between 1 and 100 in fractional units are indistinguishable
// from percent-scaled values under this heuristic.
func normalize(resolved []models.ResolvedOutcome) []sample {
	out := make([]sample, 0, len(resolved))
	for _, r := range resolved {
		out = append(out, sample{
			confidence: normalizeUnit(r.Confidence),
			edge:       normalizeUnit(r.Edge),
			won:        r.Won,
		})
	}
	return out
}

func normalizeUnit(v float64) float64 {
	if v > 1 {
		v = v / 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	if len(sorted) == 0 {
		return 0
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
