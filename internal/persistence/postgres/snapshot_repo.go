package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/courtline/policycore/internal/policy"
)

// configSchemaVersion tags persisted config blobs so the parsing step at
// this boundary can reject shapes it does not understand instead of
// letting untyped data flow into the core.
const configSchemaVersion = 1

type configEnvelope struct {
	SchemaVersion int           `json:"schema_version"`
	Config        policy.Config `json:"config"`
}

func marshalConfig(cfg policy.Config) ([]byte, error) {
	return json.Marshal(configEnvelope{SchemaVersion: configSchemaVersion, Config: cfg})
}

func unmarshalConfig(raw []byte) (policy.Config, error) {
	var env configEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return policy.Config{}, fmt.Errorf("decode config blob: %w", err)
	}
	if env.SchemaVersion != configSchemaVersion {
		return policy.Config{}, fmt.Errorf("unsupported config schema version %d", env.SchemaVersion)
	}
	return env.Config, nil
}

// SnapshotRepo implements policy.SnapshotStore on PostgreSQL. Version
// numbers come from an identity column, so assignment is transactional
// and monotonic under concurrent writers.
type SnapshotRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewSnapshotRepo(db *sqlx.DB, timeout time.Duration) *SnapshotRepo {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SnapshotRepo{db: db, timeout: timeout}
}

type snapshotRow struct {
	ID                string         `db:"id"`
	Version           int64          `db:"version"`
	CreatedAt         time.Time      `db:"created_at"`
	CreatedBy         string         `db:"created_by"`
	Config            []byte         `db:"config"`
	ChangeReason      string         `db:"change_reason"`
	IsRestore         bool           `db:"is_restore"`
	PreviousVersionID sql.NullString `db:"previous_version_id"`
}

func (r snapshotRow) toSnapshot() (policy.Snapshot, error) {
	cfg, err := unmarshalConfig(r.Config)
	if err != nil {
		return policy.Snapshot{}, err
	}
	s := policy.Snapshot{
		ID:           r.ID,
		Version:      r.Version,
		CreatedAt:    r.CreatedAt,
		CreatedBy:    r.CreatedBy,
		Config:       cfg,
		ChangeReason: r.ChangeReason,
		IsRestore:    r.IsRestore,
	}
	if r.PreviousVersionID.Valid {
		s.PreviousVersionID = r.PreviousVersionID.String
	}
	return s, nil
}

// Append inserts a snapshot and returns it with id and version assigned
func (r *SnapshotRepo) Append(ctx context.Context, snapshot policy.Snapshot) (policy.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	blob, err := marshalConfig(snapshot.Config)
	if err != nil {
		return policy.Snapshot{}, fmt.Errorf("marshal config: %w", err)
	}

	snapshot.ID = uuid.NewString()
	var prev interface{}
	if snapshot.PreviousVersionID != "" {
		prev = snapshot.PreviousVersionID
	}

	query := `
		INSERT INTO policy_snapshots
		(id, created_at, created_by, config, change_reason, is_restore, previous_version_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING version`

	err = r.db.QueryRowxContext(ctx, query,
		snapshot.ID, snapshot.CreatedAt, snapshot.CreatedBy, blob,
		snapshot.ChangeReason, snapshot.IsRestore, prev).
		Scan(&snapshot.Version)
	if err != nil {
		return policy.Snapshot{}, fmt.Errorf("append snapshot: %w", err)
	}
	return snapshot, nil
}

// Get retrieves one snapshot by id
func (r *SnapshotRepo) Get(ctx context.Context, id string) (policy.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row snapshotRow
	query := `
		SELECT id, version, created_at, created_by, config, change_reason, is_restore, previous_version_id
		FROM policy_snapshots WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return policy.Snapshot{}, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return row.toSnapshot()
}

// List returns snapshots newest first
func (r *SnapshotRepo) List(ctx context.Context, limit, offset int) ([]policy.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []snapshotRow
	query := `
		SELECT id, version, created_at, created_by, config, change_reason, is_restore, previous_version_id
		FROM policy_snapshots ORDER BY version DESC LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	out := make([]policy.Snapshot, 0, len(rows))
	for _, row := range rows {
		s, err := row.toSnapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// SaveActive upserts the single active config row
func (r *SnapshotRepo) SaveActive(ctx context.Context, cfg policy.Config) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	blob, err := marshalConfig(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	query := `
		INSERT INTO policy_active_config (id, config, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config, updated_at = now()`
	if _, err := r.db.ExecContext(ctx, query, blob); err != nil {
		return fmt.Errorf("save active config: %w", err)
	}
	return nil
}

// LoadActive reads the active config, seeding the default when the row
// does not exist yet.
func (r *SnapshotRepo) LoadActive(ctx context.Context) (policy.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var blob []byte
	err := r.db.GetContext(ctx, &blob, `SELECT config FROM policy_active_config WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		cfg := policy.DefaultConfig()
		if err := r.SaveActive(ctx, cfg); err != nil {
			return policy.Config{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return policy.Config{}, fmt.Errorf("load active config: %w", err)
	}
	return unmarshalConfig(blob)
}
