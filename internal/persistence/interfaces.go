package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/courtline/policycore/internal/models"
)

// DecisionRecord is the persisted form of a terminal decision. The
// decision log is append-only and keyed by trace id; corrections create
// a new record, never rewrite one.
type DecisionRecord struct {
	ID                string          `json:"id" db:"id"`
	TraceID           string          `json:"trace_id" db:"trace_id"`
	GameID            string          `json:"game_id" db:"game_id"`
	Status            string          `json:"status" db:"status"`
	Rationale         string          `json:"rationale" db:"rationale"`
	Confidence        float64         `json:"confidence" db:"confidence"`
	Edge              float64         `json:"edge" db:"edge"`
	HardStopReason    *string         `json:"hard_stop_reason,omitempty" db:"hard_stop_reason"`
	RecommendedAction *string         `json:"recommended_action,omitempty" db:"recommended_action"`
	FallbackContext   json.RawMessage `json:"fallback_context,omitempty" db:"fallback_context"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// DecisionRepo provides the append-only decision/audit log
type DecisionRepo interface {
	// Insert appends a decision record; records are never updated
	Insert(ctx context.Context, record DecisionRecord) error

	// GetByTraceID retrieves every record sharing a trace id, oldest first
	GetByTraceID(ctx context.Context, traceID string) ([]DecisionRecord, error)

	// ListRecent returns the newest records for dashboards
	ListRecent(ctx context.Context, limit int) ([]DecisionRecord, error)
}

// OutcomeRepo persists resolved prediction outcomes. ResolvedSince with
// an empty modelID queries across all models, which is what the
// threshold optimizer falls back to under thin per-model history.
type OutcomeRepo interface {
	Insert(ctx context.Context, outcome models.ResolvedOutcome) error
	ResolvedSince(ctx context.Context, modelID string, since time.Time) ([]models.ResolvedOutcome, error)
}
