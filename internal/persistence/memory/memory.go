// Package memory provides in-process repository implementations so the
// core runs without PostgreSQL: one-shot CLI evaluations and test
// suites use these.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/courtline/policycore/internal/hardstop"
	"github.com/courtline/policycore/internal/models"
	"github.com/courtline/policycore/internal/persistence"
	"github.com/courtline/policycore/internal/policy"
)

// SnapshotStore implements policy.SnapshotStore in memory
type SnapshotStore struct {
	mu          sync.Mutex
	snapshots   []policy.Snapshot
	byID        map[string]policy.Snapshot
	active      policy.Config
	activeSet   bool
	nextVersion int64
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{byID: make(map[string]policy.Snapshot), nextVersion: 1}
}

func (s *SnapshotStore) Append(_ context.Context, snapshot policy.Snapshot) (policy.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot.ID = uuid.NewString()
	snapshot.Version = s.nextVersion
	s.nextVersion++
	s.snapshots = append(s.snapshots, snapshot)
	s.byID[snapshot.ID] = snapshot
	return snapshot, nil
}

func (s *SnapshotStore) Get(_ context.Context, id string) (policy.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, ok := s.byID[id]
	if !ok {
		return policy.Snapshot{}, fmt.Errorf("snapshot %s does not exist", id)
	}
	return snapshot, nil
}

func (s *SnapshotStore) List(_ context.Context, limit, offset int) ([]policy.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := make([]policy.Snapshot, len(s.snapshots))
	copy(sorted, s.snapshots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version > sorted[j].Version })
	if offset >= len(sorted) {
		return nil, nil
	}
	sorted = sorted[offset:]
	if limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func (s *SnapshotStore) SaveActive(_ context.Context, cfg policy.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = cfg
	s.activeSet = true
	return nil
}

func (s *SnapshotStore) LoadActive(_ context.Context) (policy.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeSet {
		s.active = policy.DefaultConfig()
		s.activeSet = true
	}
	return s.active, nil
}

// DecisionRepo implements persistence.DecisionRepo in memory
type DecisionRepo struct {
	mu      sync.Mutex
	records []persistence.DecisionRecord
}

func NewDecisionRepo() *DecisionRepo {
	return &DecisionRepo{}
}

func (r *DecisionRepo) Insert(_ context.Context, record persistence.DecisionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return nil
}

func (r *DecisionRepo) GetByTraceID(_ context.Context, traceID string) ([]persistence.DecisionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []persistence.DecisionRecord
	for _, rec := range r.records {
		if rec.TraceID == traceID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *DecisionRepo) ListRecent(_ context.Context, limit int) ([]persistence.DecisionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}
	out := make([]persistence.DecisionRecord, 0, limit)
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}

// OutcomeRepo implements persistence.OutcomeRepo in memory
type OutcomeRepo struct {
	mu       sync.Mutex
	outcomes map[string]models.ResolvedOutcome
}

func NewOutcomeRepo() *OutcomeRepo {
	return &OutcomeRepo{outcomes: make(map[string]models.ResolvedOutcome)}
}

func (r *OutcomeRepo) Insert(_ context.Context, outcome models.ResolvedOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.outcomes[outcome.PredictionID]; !exists {
		r.outcomes[outcome.PredictionID] = outcome
	}
	return nil
}

func (r *OutcomeRepo) ResolvedSince(_ context.Context, modelID string, since time.Time) ([]models.ResolvedOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ResolvedOutcome
	for _, o := range r.outcomes {
		if o.ResolvedAt.Before(since) {
			continue
		}
		if modelID != "" && o.ModelID != modelID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResolvedAt.Before(out[j].ResolvedAt) })
	return out, nil
}

// HardStopStore implements hardstop.Store in memory
type HardStopStore struct {
	mu        sync.Mutex
	state     hardstop.State
	processed map[string]bool
}

func NewHardStopStore() *HardStopStore {
	return &HardStopStore{
		state:     hardstop.State{DailyLossUSD: decimal.Zero},
		processed: make(map[string]bool),
	}
}

func (s *HardStopStore) Load(_ context.Context) (hardstop.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *HardStopStore) Save(_ context.Context, state hardstop.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	return nil
}

// Apply records the prediction id and the state under one lock so the
// two can never diverge.
func (s *HardStopStore) Apply(_ context.Context, predictionID string, state hardstop.State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processed[predictionID] {
		return false, nil
	}
	s.processed[predictionID] = true
	s.state = state
	return true, nil
}
