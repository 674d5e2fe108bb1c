package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/courtline/policycore/internal/hardstop"
)

// HardStopRepo implements hardstop.Store on PostgreSQL: a singleton
// state row plus the processed-prediction set backing idempotent
// ingestion.
type HardStopRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewHardStopRepo(db *sqlx.DB, timeout time.Duration) *HardStopRepo {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HardStopRepo{db: db, timeout: timeout}
}

// Load reads the singleton state row, returning a zero state when the
// row has never been written.
func (r *HardStopRepo) Load(ctx context.Context) (hardstop.State, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var blob []byte
	err := r.db.GetContext(ctx, &blob, `SELECT state FROM hardstop_state WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return hardstop.State{DailyLossUSD: decimal.Zero}, nil
	}
	if err != nil {
		return hardstop.State{}, fmt.Errorf("load hard-stop state: %w", err)
	}

	var state hardstop.State
	if err := json.Unmarshal(blob, &state); err != nil {
		return hardstop.State{}, fmt.Errorf("decode hard-stop state: %w", err)
	}
	return state, nil
}

// Save upserts the singleton state row
func (r *HardStopRepo) Save(ctx context.Context, state hardstop.State) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode hard-stop state: %w", err)
	}

	query := `
		INSERT INTO hardstop_state (id, state, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`
	if _, err := r.db.ExecContext(ctx, query, blob); err != nil {
		return fmt.Errorf("save hard-stop state: %w", err)
	}
	return nil
}

// Apply records the prediction id and upserts the state in one
// transaction. A replayed id rolls back without touching the state
// row; any failure leaves both unwritten so the outcome can be
// replayed safely.
func (r *HardStopRepo) Apply(ctx context.Context, predictionID string, state hardstop.State) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	blob, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("encode hard-stop state: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin hard-stop apply: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO hardstop_processed (prediction_id) VALUES ($1) ON CONFLICT (prediction_id) DO NOTHING`,
		predictionID)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	query := `
		INSERT INTO hardstop_state (id, state, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`
	if _, err := tx.ExecContext(ctx, query, blob); err != nil {
		return false, fmt.Errorf("save hard-stop state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit hard-stop apply: %w", err)
	}
	return true, nil
}
