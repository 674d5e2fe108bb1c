package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/courtline/policycore/internal/models"
)

// OutcomeRepo implements persistence.OutcomeRepo for PostgreSQL. It also
// satisfies optimizer.SampleSource.
type OutcomeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewOutcomeRepo(db *sqlx.DB, timeout time.Duration) *OutcomeRepo {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OutcomeRepo{db: db, timeout: timeout}
}

type outcomeRow struct {
	PredictionID string    `db:"prediction_id"`
	ModelID      string    `db:"model_id"`
	Won          bool      `db:"won"`
	StakeUSD     float64   `db:"stake_usd"`
	ProfitUSD    float64   `db:"profit_usd"`
	Confidence   float64   `db:"confidence"`
	Edge         float64   `db:"edge"`
	ResolvedAt   time.Time `db:"resolved_at"`
}

// Insert upserts a resolved outcome keyed by prediction id
func (r *OutcomeRepo) Insert(ctx context.Context, outcome models.ResolvedOutcome) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO outcomes
		(prediction_id, model_id, won, stake_usd, profit_usd, confidence, edge, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (prediction_id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query,
		outcome.PredictionID, outcome.ModelID, outcome.Won, outcome.StakeUSD,
		outcome.ProfitUSD, outcome.Confidence, outcome.Edge, outcome.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// ResolvedSince returns outcomes resolved after since. Empty modelID
// queries across all models.
func (r *OutcomeRepo) ResolvedSince(ctx context.Context, modelID string, since time.Time) ([]models.ResolvedOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []outcomeRow
	var err error
	if modelID == "" {
		query := `
			SELECT prediction_id, model_id, won, stake_usd, profit_usd, confidence, edge, resolved_at
			FROM outcomes WHERE resolved_at >= $1 ORDER BY resolved_at ASC`
		err = r.db.SelectContext(ctx, &rows, query, since)
	} else {
		query := `
			SELECT prediction_id, model_id, won, stake_usd, profit_usd, confidence, edge, resolved_at
			FROM outcomes WHERE model_id = $1 AND resolved_at >= $2 ORDER BY resolved_at ASC`
		err = r.db.SelectContext(ctx, &rows, query, modelID, since)
	}
	if err != nil {
		return nil, fmt.Errorf("query resolved outcomes: %w", err)
	}

	out := make([]models.ResolvedOutcome, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.ResolvedOutcome{
			PredictionID: row.PredictionID,
			ModelID:      row.ModelID,
			Won:          row.Won,
			StakeUSD:     row.StakeUSD,
			ProfitUSD:    row.ProfitUSD,
			Confidence:   row.Confidence,
			Edge:         row.Edge,
			ResolvedAt:   row.ResolvedAt,
		})
	}
	return out, nil
}
