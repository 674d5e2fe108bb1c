package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/courtline/policycore/internal/persistence"
)

// DecisionRepo implements persistence.DecisionRepo for PostgreSQL
type DecisionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewDecisionRepo(db *sqlx.DB, timeout time.Duration) *DecisionRepo {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DecisionRepo{db: db, timeout: timeout}
}

// Insert appends a decision record. The log is append-only; there is no
// update path by design of the decision lifecycle.
func (r *DecisionRepo) Insert(ctx context.Context, record persistence.DecisionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO decisions
		(id, trace_id, game_id, status, rationale, confidence, edge,
		 hard_stop_reason, recommended_action, fallback_context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.TraceID, record.GameID, record.Status, record.Rationale,
		record.Confidence, record.Edge, record.HardStopReason, record.RecommendedAction,
		[]byte(record.FallbackContext), record.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// GetByTraceID returns all records for a trace, oldest first
func (r *DecisionRepo) GetByTraceID(ctx context.Context, traceID string) ([]persistence.DecisionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var records []persistence.DecisionRecord
	query := `
		SELECT id, trace_id, game_id, status, rationale, confidence, edge,
		       hard_stop_reason, recommended_action, fallback_context, created_at
		FROM decisions WHERE trace_id = $1 ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &records, query, traceID); err != nil {
		return nil, fmt.Errorf("get decisions by trace: %w", err)
	}
	return records, nil
}

// ListRecent returns the newest records
func (r *DecisionRepo) ListRecent(ctx context.Context, limit int) ([]persistence.DecisionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var records []persistence.DecisionRecord
	query := `
		SELECT id, trace_id, game_id, status, rationale, confidence, edge,
		       hard_stop_reason, recommended_action, fallback_context, created_at
		FROM decisions ORDER BY created_at DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("list recent decisions: %w", err)
	}
	return records, nil
}
