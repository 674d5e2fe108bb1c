package models

import "time"

// ModelOutput is the opaque scoring result produced by one model tier.
// The core never inspects model internals; it only reads the scored
// fields and the version identifier for attribution.
type ModelOutput struct {
	ModelID      string    `json:"model_id"`
	ModelVersion string    `json:"model_version"`
	GameID       string    `json:"game_id"`
	PredictionID string    `json:"prediction_id"`
	Pick         string    `json:"pick"`
	Confidence   *float64  `json:"confidence,omitempty"`
	Edge         *float64  `json:"edge,omitempty"`
	DriftScore   *float64  `json:"drift_score,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// TierInputs describes the raw input feeds available to one model tier
// at evaluation time. Quality gates score these, never the model output.
type TierInputs struct {
	Sources      []SourceStatus       `json:"sources"`
	FieldsWanted []string             `json:"fields_wanted"`
	FieldsSeen   map[string]bool      `json:"fields_seen"`
	SchemaErrors []string             `json:"schema_errors,omitempty"`
	LastUpdated  map[string]time.Time `json:"last_updated"`
}

// SourceStatus reports availability of a single upstream feed.
type SourceStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// ResolvedOutcome is a settled prediction result fed back into the core
// for risk accounting and threshold tuning.
type ResolvedOutcome struct {
	PredictionID string    `json:"prediction_id"`
	ModelID      string    `json:"model_id"`
	Won          bool      `json:"won"`
	StakeUSD     float64   `json:"stake_usd"`
	ProfitUSD    float64   `json:"profit_usd"`
	Confidence   float64   `json:"confidence"`
	Edge         float64   `json:"edge"`
	ResolvedAt   time.Time `json:"resolved_at"`
}
