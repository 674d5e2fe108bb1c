package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// DefaultTimeout bounds every repository query
const DefaultTimeout = 5 * time.Second

// Connect opens and pings a PostgreSQL pool
func Connect(ctx context.Context, dsn string, maxOpen int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS policy_active_config (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	config JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS policy_snapshots (
	id UUID PRIMARY KEY,
	version BIGINT GENERATED ALWAYS AS IDENTITY UNIQUE,
	created_at TIMESTAMPTZ NOT NULL,
	created_by TEXT NOT NULL,
	config JSONB NOT NULL,
	change_reason TEXT NOT NULL DEFAULT '',
	is_restore BOOLEAN NOT NULL DEFAULT FALSE,
	previous_version_id UUID
);

CREATE TABLE IF NOT EXISTS decisions (
	id UUID PRIMARY KEY,
	trace_id TEXT NOT NULL,
	game_id TEXT NOT NULL,
	status TEXT NOT NULL,
	rationale TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	edge DOUBLE PRECISION NOT NULL DEFAULT 0,
	hard_stop_reason TEXT,
	recommended_action TEXT,
	fallback_context JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_decisions_trace ON decisions (trace_id, created_at);

CREATE TABLE IF NOT EXISTS outcomes (
	prediction_id TEXT PRIMARY KEY,
	model_id TEXT NOT NULL,
	won BOOLEAN NOT NULL,
	stake_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	profit_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	edge DOUBLE PRECISION NOT NULL DEFAULT 0,
	resolved_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_model_resolved ON outcomes (model_id, resolved_at);

CREATE TABLE IF NOT EXISTS hardstop_state (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	state JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS hardstop_processed (
	prediction_id TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the persisted state layout if missing
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
