// Package providers contains model provider implementations for the
// fallback registry. Production deployments register adapters for the
// real model-serving endpoints; the static provider serves canned
// outputs for demos and smoke tests.
package providers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/courtline/policycore/internal/models"
)

// Static serves one fixed output per game id. Unknown games return an
// error so fallback and breaker paths stay exercised.
type Static struct {
	mu      sync.RWMutex
	modelID string
	version string
	outputs map[string]models.ModelOutput
	inputs  models.TierInputs
}

func NewStatic(modelID, version string) *Static {
	return &Static{
		modelID: modelID,
		version: version,
		outputs: make(map[string]models.ModelOutput),
		inputs:  HealthyInputs(),
	}
}

func (s *Static) ModelID() string {
	return s.modelID
}

// Seed registers a canned prediction for a game
func (s *Static) Seed(gameID, pick string, confidence, edge, drift float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[gameID] = models.ModelOutput{
		ModelID:      s.modelID,
		ModelVersion: s.version,
		GameID:       gameID,
		PredictionID: uuid.NewString(),
		Pick:         pick,
		Confidence:   &confidence,
		Edge:         &edge,
		DriftScore:   &drift,
		GeneratedAt:  time.Now().UTC(),
	}
}

// SetInputs overrides the tier inputs reported alongside every output
func (s *Static) SetInputs(inputs models.TierInputs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = inputs
}

func (s *Static) Score(ctx context.Context, gameID string) (models.ModelOutput, models.TierInputs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.outputs[gameID]
	if !ok {
		return models.ModelOutput{}, models.TierInputs{}, fmt.Errorf("model %s has no prediction for game %s", s.modelID, gameID)
	}
	return out, s.inputs, nil
}

// HealthyInputs builds tier inputs that pass every quality dimension,
// useful for demos and test fixtures.
func HealthyInputs() models.TierInputs {
	now := time.Now().UTC()
	return models.TierInputs{
		Sources: []models.SourceStatus{
			{Name: "odds_feed", Available: true},
			{Name: "injury_report", Available: true},
			{Name: "box_scores", Available: true},
		},
		FieldsWanted: []string{"moneyline", "spread", "total", "injuries", "rest_days"},
		FieldsSeen: map[string]bool{
			"moneyline": true,
			"spread":    true,
			"total":     true,
			"injuries":  true,
			"rest_days": true,
		},
		LastUpdated: map[string]time.Time{
			"odds_feed":     now,
			"injury_report": now,
			"box_scores":    now,
		},
	}
}
