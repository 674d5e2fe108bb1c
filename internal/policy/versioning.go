package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/courtline/policycore/internal/audit"
)

// Snapshot is one entry in the append-only configuration log. Version
// numbers are monotonic and assigned by the store inside a transaction,
// so concurrent writers never produce duplicates.
type Snapshot struct {
	ID                string    `json:"id"`
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	CreatedBy         string    `json:"created_by"`
	Config            Config    `json:"config"`
	ChangeReason      string    `json:"change_reason"`
	IsRestore         bool      `json:"is_restore"`
	PreviousVersionID string    `json:"previous_version_id,omitempty"`
}

// SnapshotStore persists the snapshot log and the single active config row.
// Append must assign the monotonic version number transactionally.
type SnapshotStore interface {
	Append(ctx context.Context, snapshot Snapshot) (Snapshot, error)
	Get(ctx context.Context, id string) (Snapshot, error)
	List(ctx context.Context, limit, offset int) ([]Snapshot, error)
	SaveActive(ctx context.Context, cfg Config) error
	LoadActive(ctx context.Context) (Config, error)
}

// Versioner owns every configuration change. Manual edits, optimizer
// recommendations, and restores all flow through it; nothing else mutates
// the active config.
type Versioner struct {
	store  SnapshotStore
	sink   audit.Sink
	logger zerolog.Logger
}

func NewVersioner(store SnapshotStore, sink audit.Sink, logger zerolog.Logger) *Versioner {
	return &Versioner{
		store:  store,
		sink:   sink,
		logger: logger.With().Str("component", "policy_versioner").Logger(),
	}
}

// Current loads the active configuration from the store
func (v *Versioner) Current(ctx context.Context) (Config, error) {
	cfg, err := v.store.LoadActive(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("load active config: %w", err)
	}
	return cfg, nil
}

// Update validates the candidate, enforces the non-weakening invariant
// against the active limits, appends a snapshot, and swaps the active row.
func (v *Versioner) Update(ctx context.Context, candidate Config, actorID, reason string) (Snapshot, error) {
	if err := candidate.Validate(); err != nil {
		return Snapshot{}, err
	}

	current, err := v.store.LoadActive(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load active config: %w", err)
	}

	if weakened := candidate.HardStops.WeakerThan(current.HardStops); len(weakened) > 0 {
		v.emitBypassAttempt(actorID, "", "config update would weaken hard-stop limits", weakened)
		return Snapshot{}, ValidationError{
			Reason:  ReasonWeakeningRestore,
			Field:   "hard_stops",
			Message: fmt.Sprintf("update rejected: %d hard-stop limit(s) weakened", len(weakened)),
			Details: map[string]interface{}{"weakened": weakened},
		}
	}

	candidate.UpdatedAt = time.Now().UTC()
	snapshot, err := v.store.Append(ctx, Snapshot{
		CreatedAt:    candidate.UpdatedAt,
		CreatedBy:    actorID,
		Config:       candidate,
		ChangeReason: reason,
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("append snapshot: %w", err)
	}

	if err := v.store.SaveActive(ctx, candidate); err != nil {
		return Snapshot{}, fmt.Errorf("save active config: %w", err)
	}

	ev := audit.NewEvent(audit.EventConfigUpdated, "policy config updated")
	ev.ActorID = actorID
	ev.Details["version"] = snapshot.Version
	ev.Details["reason"] = reason
	v.sink.Emit(ev)

	v.logger.Info().
		Int64("version", snapshot.Version).
		Str("actor_id", actorID).
		Str("reason", reason).
		Float64("confidence_min", candidate.ConfidenceMin).
		Float64("edge_min", candidate.EdgeMin).
		Msg("Policy config updated")

	return snapshot, nil
}

// Restore reactivates a prior snapshot. The candidate hard-stop limits
// must be componentwise <= the currently active limits; any violation is
// rejected and recorded as a bypass attempt, and the active config is
// left untouched. A successful restore is itself a new snapshot with a
// back-reference, never a rewrite of history.
func (v *Versioner) Restore(ctx context.Context, versionID, actorID string) (Snapshot, error) {
	prior, err := v.store.Get(ctx, versionID)
	if err != nil {
		return Snapshot{}, ValidationError{
			Reason:  ReasonVersionNotFound,
			Message: fmt.Sprintf("snapshot %s not found: %v", versionID, err),
		}
	}

	current, err := v.store.LoadActive(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load active config: %w", err)
	}

	if weakened := prior.Config.HardStops.WeakerThan(current.HardStops); len(weakened) > 0 {
		v.emitBypassAttempt(actorID, versionID, "restore would weaken hard-stop limits", weakened)
		return Snapshot{}, ValidationError{
			Reason:  ReasonWeakeningRestore,
			Field:   "hard_stops",
			Message: fmt.Sprintf("restore of version %d rejected: %d hard-stop limit(s) weakened", prior.Version, len(weakened)),
			Details: map[string]interface{}{"weakened": weakened, "version_id": versionID},
		}
	}

	if err := prior.Config.Validate(); err != nil {
		return Snapshot{}, ValidationError{
			Reason:  ReasonCorruptSnapshot,
			Message: fmt.Sprintf("snapshot %s holds an invalid config: %v", versionID, err),
		}
	}

	restored := prior.Config
	restored.UpdatedAt = time.Now().UTC()

	snapshot, err := v.store.Append(ctx, Snapshot{
		CreatedAt:         restored.UpdatedAt,
		CreatedBy:         actorID,
		Config:            restored,
		ChangeReason:      fmt.Sprintf("restore of version %d", prior.Version),
		IsRestore:         true,
		PreviousVersionID: prior.ID,
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("append restore snapshot: %w", err)
	}

	if err := v.store.SaveActive(ctx, restored); err != nil {
		return Snapshot{}, fmt.Errorf("save active config: %w", err)
	}

	ev := audit.NewEvent(audit.EventConfigRestored, "policy config restored")
	ev.ActorID = actorID
	ev.Details["restored_from"] = prior.ID
	ev.Details["restored_version"] = prior.Version
	ev.Details["new_version"] = snapshot.Version
	v.sink.Emit(ev)

	v.logger.Info().
		Int64("restored_version", prior.Version).
		Int64("new_version", snapshot.Version).
		Str("actor_id", actorID).
		Msg("Policy config restored")

	return snapshot, nil
}

// Versions lists snapshot history, newest first
func (v *Versioner) Versions(ctx context.Context, limit, offset int) ([]Snapshot, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return v.store.List(ctx, limit, offset)
}

func (v *Versioner) emitBypassAttempt(actorID, versionID, message string, weakened []string) {
	ev := audit.NewEvent(audit.EventBypassAttempt, message)
	ev.ActorID = actorID
	if versionID != "" {
		ev.Details["version_id"] = versionID
	}
	ev.Details["weakened"] = weakened
	v.sink.Emit(ev)

	v.logger.Warn().
		Str("actor_id", actorID).
		Strs("weakened", weakened).
		Msg("Hard-stop bypass attempt rejected")
}
