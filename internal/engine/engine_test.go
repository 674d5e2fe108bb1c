package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtline/policycore/internal/audit"
	"github.com/courtline/policycore/internal/breaker"
	"github.com/courtline/policycore/internal/fallback"
	"github.com/courtline/policycore/internal/hardstop"
	"github.com/courtline/policycore/internal/metrics"
	"github.com/courtline/policycore/internal/models"
	"github.com/courtline/policycore/internal/persistence/memory"
	"github.com/courtline/policycore/internal/policy"
	"github.com/courtline/policycore/internal/providers"
	"github.com/courtline/policycore/internal/quality"
)

type captureSink struct {
	events []audit.Event
}

func (c *captureSink) Emit(e audit.Event) { c.events = append(c.events, e) }

func (c *captureSink) count(t audit.EventType) int {
	n := 0
	for _, e := range c.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type testHarness struct {
	engine    *Engine
	sink      *captureSink
	decisions *memory.DecisionRepo
	primary   *providers.Static
	secondary *providers.Static
	last      *providers.Static
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()
	sink := &captureSink{}

	breakers := breaker.NewRegistry(breaker.DefaultSettings(), nil, nil, logger)
	registry := fallback.NewRegistry(breakers, 1000, 100, time.Second, logger)

	primary := providers.NewStatic("nba_v3_2025", "v3.2025")
	secondary := providers.NewStatic("nba_v3_global", "v3.global")
	last := providers.NewStatic("nba_v2_validated", "v2")
	registry.Register(primary)
	registry.Register(secondary)
	registry.Register(last)

	gates := quality.NewGates(quality.DefaultGateConfig(), logger)
	chain := fallback.NewChain(fallback.DefaultLevels(), registry, gates, logger)

	hsTracker, err := hardstop.NewTracker(ctx, memory.NewHardStopStore(), 10000, sink, logger)
	require.NoError(t, err)

	versioner := policy.NewVersioner(memory.NewSnapshotStore(), sink, logger)
	decisions := memory.NewDecisionRepo()

	eng, err := New(ctx, versioner, chain, hsTracker, decisions, memory.NewOutcomeRepo(), breakers, sink, metrics.NewRegistry(), logger)
	require.NoError(t, err)

	return &testHarness{
		engine:    eng,
		sink:      sink,
		decisions: decisions,
		primary:   primary,
		secondary: secondary,
		last:      last,
	}
}

func TestEvaluatePick(t *testing.T) {
	h := newHarness(t)
	h.primary.Seed("g1", "LAL -3.5", 0.70, 0.06, 0.10)

	decision := h.engine.Evaluate(context.Background(), CandidateInput{GameID: "g1"})

	assert.Equal(t, StatusPick, decision.Status)
	assert.Equal(t, "nba_v3_2025", decision.ModelID)
	assert.Equal(t, "place bet: LAL -3.5", decision.RecommendedAction)
	assert.Contains(t, decision.Rationale, "all gates passed at primary level")
	require.NotNil(t, decision.FallbackContext)
	assert.Equal(t, fallback.LevelPrimary, decision.FallbackContext.FinalLevel)
	assert.NotEmpty(t, decision.TraceID)
}

func TestEvaluateNoBetOnGateFailure(t *testing.T) {
	h := newHarness(t)
	h.primary.Seed("g1", "BOS +2", 0.58, 0.06, 0.10) // confidence below 0.62

	decision := h.engine.Evaluate(context.Background(), CandidateInput{GameID: "g1"})

	assert.Equal(t, StatusNoBet, decision.Status)
	assert.Empty(t, decision.RecommendedAction)
	assert.Contains(t, decision.Rationale, "confidence gate failed")
	require.Len(t, decision.GateResults, 3, "all gates reported even after a failure")
}

func TestEvaluateFallsBackToSecondary(t *testing.T) {
	h := newHarness(t)
	// Primary has no prediction for g1, secondary does
	h.secondary.Seed("g1", "NYK ML", 0.68, 0.05, 0.05)

	decision := h.engine.Evaluate(context.Background(), CandidateInput{GameID: "g1"})

	assert.Equal(t, StatusPick, decision.Status)
	assert.Equal(t, "nba_v3_global", decision.ModelID)
	assert.Equal(t, fallback.LevelSecondary, decision.FallbackContext.FinalLevel)
	require.Len(t, decision.FallbackContext.FallbackAttempts, 2)
}

func TestEvaluateForcedNoBet(t *testing.T) {
	h := newHarness(t)
	// No provider knows g1: the chain exhausts and forces no-bet

	decision := h.engine.Evaluate(context.Background(), CandidateInput{GameID: "g1"})

	assert.Equal(t, StatusNoBet, decision.Status)
	assert.Equal(t, fallback.ForcedNoBetRationale, decision.Rationale)
	require.NotNil(t, decision.FallbackContext)
	assert.True(t, decision.FallbackContext.WasForcedNoBet)
	assert.Len(t, decision.FallbackContext.FallbackAttempts, 4)
	assert.Equal(t, 1, h.sink.count(audit.EventForcedNoBet))
}

// Hard-stop enforcement is absolute: after the latch, every evaluation
// returns HARD_STOP regardless of how good the candidate is.
func TestHardStopVetoesEveryEvaluation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.primary.Seed("g1", "LAL -3.5", 0.72, 0.08, 0.05)

	// Breach the daily loss limit ($500 against default config)
	for i := 0; i < 3; i++ {
		err := h.engine.IngestOutcome(ctx, models.ResolvedOutcome{
			PredictionID: fmt.Sprintf("p%d", i),
			ModelID:      "nba_v3_2025",
			ProfitUSD:    -200,
			ResolvedAt:   time.Now().UTC(),
		})
		require.NoError(t, err)
	}
	require.True(t, h.engine.HardStopState().Active)

	for i := 0; i < 10; i++ {
		decision := h.engine.Evaluate(ctx, CandidateInput{GameID: "g1"})
		assert.Equal(t, StatusHardStop, decision.Status)
		assert.Contains(t, decision.HardStopReason, "daily loss")
	}
}

func TestResetRestoresEvaluation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.primary.Seed("g1", "LAL -3.5", 0.72, 0.08, 0.05)

	err := h.engine.IngestOutcome(ctx, models.ResolvedOutcome{
		PredictionID: "p1",
		ProfitUSD:    -600,
		ResolvedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, StatusHardStop, h.engine.Evaluate(ctx, CandidateInput{GameID: "g1"}).Status)

	result, err := h.engine.ResetHardStop(ctx, "risk_lead", "reviewed with desk")
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, StatusPick, h.engine.Evaluate(ctx, CandidateInput{GameID: "g1"}).Status)
}

func TestDecisionTrailIsAppendOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.primary.Seed("g1", "LAL -3.5", 0.70, 0.06, 0.10)

	first := h.engine.Evaluate(ctx, CandidateInput{GameID: "g1", TraceID: "trace-1"})
	second := h.engine.Evaluate(ctx, CandidateInput{GameID: "g1", TraceID: "trace-1"})

	trail, err := h.engine.DecisionTrail(ctx, "trace-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, first.ID, trail[0].ID)
	assert.Equal(t, second.ID, trail[1].ID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestConfigUpdateAffectsNextEvaluation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.primary.Seed("g1", "LAL -3.5", 0.64, 0.06, 0.10)

	require.Equal(t, StatusPick, h.engine.Evaluate(ctx, CandidateInput{GameID: "g1"}).Status)

	tightened := h.engine.PolicyConfig()
	tightened.ConfidenceMin = 0.66
	_, err := h.engine.UpdatePolicyConfig(ctx, tightened, "analyst_1", "tighten after review")
	require.NoError(t, err)

	decision := h.engine.Evaluate(ctx, CandidateInput{GameID: "g1"})
	assert.Equal(t, StatusNoBet, decision.Status)
	assert.Contains(t, decision.Rationale, "confidence gate failed")
}

func TestRestoreRejectionLeavesActiveConfig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	loose := h.engine.PolicyConfig()
	snap1, err := h.engine.UpdatePolicyConfig(ctx, loose, "analyst_1", "baseline")
	require.NoError(t, err)

	strict := loose
	strict.HardStops.DailyLossLimitUSD = 300
	_, err = h.engine.UpdatePolicyConfig(ctx, strict, "analyst_1", "tighten")
	require.NoError(t, err)

	_, err = h.engine.RestoreVersion(ctx, snap1.ID, "analyst_2")
	require.Error(t, err)
	assert.True(t, policy.IsReason(err, policy.ReasonWeakeningRestore))
	assert.InDelta(t, 300.0, h.engine.PolicyConfig().HardStops.DailyLossLimitUSD, 1e-9)
	assert.Equal(t, 1, h.sink.count(audit.EventBypassAttempt))
}

type panickingProvider struct{}

func (panickingProvider) ModelID() string { return "nba_v3_2025" }

func (panickingProvider) Score(ctx context.Context, gameID string) (models.ModelOutput, models.TierInputs, error) {
	panic("scoring backend corrupted")
}

// An internal fault during evaluation must fail closed to NO_BET.
func TestEvaluateFailsClosedOnPanic(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()
	sink := &captureSink{}

	breakers := breaker.NewRegistry(breaker.DefaultSettings(), nil, nil, logger)
	registry := fallback.NewRegistry(breakers, 1000, 100, time.Second, logger)
	registry.Register(panickingProvider{})

	chain := fallback.NewChain([]fallback.LevelSpec{{Level: fallback.LevelPrimary, ModelID: "nba_v3_2025"}},
		registry, quality.NewGates(quality.DefaultGateConfig(), logger), logger)

	hsTracker, err := hardstop.NewTracker(ctx, memory.NewHardStopStore(), 10000, sink, logger)
	require.NoError(t, err)
	versioner := policy.NewVersioner(memory.NewSnapshotStore(), sink, logger)

	eng, err := New(ctx, versioner, chain, hsTracker, memory.NewDecisionRepo(), memory.NewOutcomeRepo(), breakers, sink, metrics.NewRegistry(), logger)
	require.NoError(t, err)

	decision := eng.Evaluate(ctx, CandidateInput{GameID: "g1"})
	assert.Equal(t, StatusNoBet, decision.Status)
	assert.Contains(t, decision.Rationale, "failing closed")
}

func TestIngestOutcomeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	outcome := models.ResolvedOutcome{PredictionID: "p1", ProfitUSD: -400, ResolvedAt: time.Now().UTC()}
	require.NoError(t, h.engine.IngestOutcome(ctx, outcome))
	require.NoError(t, h.engine.IngestOutcome(ctx, outcome))

	// 400 once, not 800: no latch against the 500 limit
	assert.False(t, h.engine.HardStopState().Active)
}
