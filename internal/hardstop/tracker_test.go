package hardstop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtline/policycore/internal/audit"
	"github.com/courtline/policycore/internal/models"
	"github.com/courtline/policycore/internal/policy"
)

type fakeStore struct {
	state     State
	processed map[string]bool
	saves     int
	applyErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{processed: make(map[string]bool)}
}

func (s *fakeStore) Load(ctx context.Context) (State, error) { return s.state, nil }

func (s *fakeStore) Save(ctx context.Context, state State) error {
	s.state = state
	s.saves++
	return nil
}

func (s *fakeStore) Apply(ctx context.Context, predictionID string, state State) (bool, error) {
	if s.applyErr != nil {
		err := s.applyErr
		s.applyErr = nil
		return false, err
	}
	if s.processed[predictionID] {
		return false, nil
	}
	s.processed[predictionID] = true
	s.state = state
	s.saves++
	return true, nil
}

type captureSink struct {
	events []audit.Event
}

func (c *captureSink) Emit(e audit.Event) { c.events = append(c.events, e) }

func (c *captureSink) byType(t audit.EventType) []audit.Event {
	var out []audit.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func testLimits() policy.HardStopLimits {
	return policy.HardStopLimits{
		DailyLossLimitUSD:    500,
		ConsecutiveLossLimit: 5,
		BankrollPercentLimit: 10,
	}
}

func newTestTracker(t *testing.T, store Store, bankroll float64, sink audit.Sink) *Tracker {
	t.Helper()
	tracker, err := NewTracker(context.Background(), store, bankroll, sink, zerolog.Nop())
	require.NoError(t, err)
	return tracker
}

func loss(id string, amount float64, at time.Time) models.ResolvedOutcome {
	return models.ResolvedOutcome{
		PredictionID: id,
		ModelID:      "nba_v3_2025",
		Won:          false,
		StakeUSD:     amount,
		ProfitUSD:    -amount,
		ResolvedAt:   at,
	}
}

func win(id string, amount float64, at time.Time) models.ResolvedOutcome {
	return models.ResolvedOutcome{
		PredictionID: id,
		ModelID:      "nba_v3_2025",
		Won:          true,
		StakeUSD:     amount,
		ProfitUSD:    amount,
		ResolvedAt:   at,
	}
}

func TestIngestAccumulatesLosses(t *testing.T) {
	sink := &captureSink{}
	tracker := newTestTracker(t, newFakeStore(), 10000, sink)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

	state, err := tracker.Ingest(ctx, loss("p1", 100, day), testLimits())
	require.NoError(t, err)
	assert.Equal(t, "100", state.DailyLossUSD.String())
	assert.Equal(t, 1, state.ConsecutiveLosses)
	assert.False(t, state.Active)

	state, err = tracker.Ingest(ctx, win("p2", 50, day), testLimits())
	require.NoError(t, err)
	assert.Equal(t, 0, state.ConsecutiveLosses, "a win resets the streak")
	assert.Equal(t, "100", state.DailyLossUSD.String(), "wins do not reduce recorded losses")
}

func TestIngestIsIdempotentPerPrediction(t *testing.T) {
	tracker := newTestTracker(t, newFakeStore(), 10000, &captureSink{})
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

	_, err := tracker.Ingest(ctx, loss("p1", 100, day), testLimits())
	require.NoError(t, err)

	// Same prediction id replayed: no counter moves
	state, err := tracker.Ingest(ctx, loss("p1", 100, day), testLimits())
	require.NoError(t, err)
	assert.Equal(t, "100", state.DailyLossUSD.String())
	assert.Equal(t, 1, state.ConsecutiveLosses)
}

func TestFailedPersistLeavesOutcomeReplayable(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(t, store, 10000, &captureSink{})
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

	store.applyErr = errors.New("connection reset")
	state, err := tracker.Ingest(ctx, loss("p1", 600, day), testLimits())
	require.Error(t, err)
	assert.False(t, state.Active, "nothing latches on a failed persist")
	assert.Equal(t, "0", state.DailyLossUSD.String())

	// The outcome was never marked processed, so a replay after the
	// store recovers still counts the loss and latches the stop.
	state, err = tracker.Ingest(ctx, loss("p1", 600, day), testLimits())
	require.NoError(t, err)
	assert.True(t, state.Active)
	assert.Equal(t, "600", state.DailyLossUSD.String())
}

func TestDailyLossLimitLatches(t *testing.T) {
	sink := &captureSink{}
	tracker := newTestTracker(t, newFakeStore(), 10000, sink)
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

	_, err := tracker.Ingest(ctx, loss("p1", 300, day), testLimits())
	require.NoError(t, err)
	state, err := tracker.Ingest(ctx, loss("p2", 200, day), testLimits())
	require.NoError(t, err)

	assert.True(t, state.Active)
	assert.Contains(t, state.TriggerReason, "daily loss")
	require.NotNil(t, state.TriggeredAt)

	triggered := sink.byType(audit.EventHardStopTriggered)
	require.Len(t, triggered, 1)
	assert.Equal(t, state.TriggerReason, triggered[0].Details["reason"])
}

func TestConsecutiveLossLimitLatches(t *testing.T) {
	tracker := newTestTracker(t, newFakeStore(), 100000, &captureSink{})
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

	ids := []string{"p1", "p2", "p3", "p4", "p5"}
	var state State
	var err error
	for _, id := range ids {
		state, err = tracker.Ingest(ctx, loss(id, 10, day), testLimits())
		require.NoError(t, err)
	}

	assert.True(t, state.Active)
	assert.Contains(t, state.TriggerReason, "consecutive losses")
}

func TestBankrollDrawdownLatches(t *testing.T) {
	// Small bankroll: a $120 loss is a 12% drawdown against $1000
	tracker := newTestTracker(t, newFakeStore(), 1000, &captureSink{})
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

	state, err := tracker.Ingest(ctx, loss("p1", 120, day), testLimits())
	require.NoError(t, err)
	assert.True(t, state.Active)
	assert.Contains(t, state.TriggerReason, "bankroll drawdown")
}

func TestDayRollResetsLossLedgerButNotLatch(t *testing.T) {
	tracker := newTestTracker(t, newFakeStore(), 10000, &captureSink{})
	ctx := context.Background()
	day1 := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	_, err := tracker.Ingest(ctx, loss("p1", 600, day1), testLimits())
	require.NoError(t, err)
	require.True(t, tracker.Active())

	// A new UTC day clears the daily ledger; the latch stays
	state, err := tracker.Ingest(ctx, win("p2", 10, day2), testLimits())
	require.NoError(t, err)
	assert.True(t, state.Active, "day roll never clears the latch")
	assert.Equal(t, "0", state.DailyLossUSD.String())
}

func TestResetRequiresActiveAndReason(t *testing.T) {
	sink := &captureSink{}
	tracker := newTestTracker(t, newFakeStore(), 10000, sink)
	ctx := context.Background()

	result, err := tracker.Reset(ctx, "ops", "reviewed")
	require.NoError(t, err)
	assert.False(t, result.Success)

	day := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)
	_, err = tracker.Ingest(ctx, loss("p1", 600, day), testLimits())
	require.NoError(t, err)

	result, err = tracker.Reset(ctx, "ops", "")
	require.NoError(t, err)
	assert.False(t, result.Success, "reason is mandatory")
	assert.True(t, tracker.Active())

	result, err = tracker.Reset(ctx, "ops", "limits reviewed with risk desk")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, tracker.Active())

	resets := sink.byType(audit.EventHardStopReset)
	require.Len(t, resets, 1)
	assert.Equal(t, "ops", resets[0].ActorID)
}

func TestStateSurvivesRestart(t *testing.T) {
	store := newFakeStore()
	tracker := newTestTracker(t, store, 10000, &captureSink{})
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)

	_, err := tracker.Ingest(ctx, loss("p1", 600, day), testLimits())
	require.NoError(t, err)
	require.True(t, tracker.Active())

	// A fresh tracker over the same store resumes latched
	restarted := newTestTracker(t, store, 10000, &captureSink{})
	assert.True(t, restarted.Active())
	assert.Contains(t, restarted.Snapshot().TriggerReason, "daily loss")
}
