package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/courtline/policycore/internal/audit"
	"github.com/courtline/policycore/internal/breaker"
	"github.com/courtline/policycore/internal/fallback"
	"github.com/courtline/policycore/internal/gates"
	"github.com/courtline/policycore/internal/hardstop"
	"github.com/courtline/policycore/internal/metrics"
	"github.com/courtline/policycore/internal/models"
	"github.com/courtline/policycore/internal/persistence"
	"github.com/courtline/policycore/internal/policy"
)

// Engine orchestrates hard-stop veto, fallback chain, and gates, in that
// order. Evaluate never returns an error for expected failure modes:
// every policy outcome is a Decision value.
type Engine struct {
	versioner *policy.Versioner
	active    atomic.Pointer[policy.Config]

	gateEval  *gates.Evaluator
	chain     *fallback.Chain
	tracker   *hardstop.Tracker
	decisions persistence.DecisionRepo
	outcomes  persistence.OutcomeRepo
	breakers  *breaker.Registry
	sink      audit.Sink
	metrics   *metrics.Registry
	logger    zerolog.Logger
}

// New wires the engine and primes the active config from the versioner.
// Startup fails when no config can be loaded; the engine never invents
// thresholds.
func New(
	ctx context.Context,
	versioner *policy.Versioner,
	chain *fallback.Chain,
	tracker *hardstop.Tracker,
	decisions persistence.DecisionRepo,
	outcomes persistence.OutcomeRepo,
	breakers *breaker.Registry,
	sink audit.Sink,
	m *metrics.Registry,
	logger zerolog.Logger,
) (*Engine, error) {
	cfg, err := versioner.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("prime active config: %w", err)
	}

	e := &Engine{
		versioner: versioner,
		gateEval:  gates.NewEvaluator(),
		chain:     chain,
		tracker:   tracker,
		decisions: decisions,
		outcomes:  outcomes,
		breakers:  breakers,
		sink:      sink,
		metrics:   m,
		logger:    logger.With().Str("component", "decision_engine").Logger(),
	}
	e.active.Store(&cfg)
	if tracker.Active() {
		m.HardStopActive.Set(1)
	}
	return e, nil
}

// Evaluate produces the terminal decision for one candidate. Order is
// fixed: hard-stop veto first, then the fallback chain, then the gates.
// Any unexpected internal fault fails closed to NO_BET, never PICK.
func (e *Engine) Evaluate(ctx context.Context, input CandidateInput) (decision Decision) {
	start := time.Now()
	traceID := input.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Str("trace_id", traceID).Msg("Evaluation fault, failing closed")
			decision = e.finish(ctx, Decision{
				ID:        uuid.NewString(),
				TraceID:   traceID,
				GameID:    input.GameID,
				Status:    StatusNoBet,
				Rationale: fmt.Sprintf("internal fault during evaluation, failing closed: %v", r),
			}, start)
		}
	}()

	// Hard-stop veto dominates everything downstream
	if state := e.tracker.Snapshot(); state.Active {
		return e.finish(ctx, Decision{
			ID:             uuid.NewString(),
			TraceID:        traceID,
			GameID:         input.GameID,
			Status:         StatusHardStop,
			Rationale:      fmt.Sprintf("hard stop active: %s", state.TriggerReason),
			HardStopReason: state.TriggerReason,
		}, start)
	}

	cfg := e.configCopy()

	chainResult := e.chain.Resolve(ctx, input.GameID)
	fc := &FallbackContext{
		FinalLevel:       chainResult.FinalLevel,
		WasForcedNoBet:   chainResult.WasForcedNoBet,
		FallbackAttempts: chainResult.Attempts,
	}

	if chainResult.WasForcedNoBet {
		e.metrics.ForcedNoBets.Inc()
		ev := audit.NewEvent(audit.EventForcedNoBet, chainResult.Rationale)
		ev.TraceID = traceID
		ev.Details["attempts"] = len(chainResult.Attempts)
		e.sink.Emit(ev)

		return e.finish(ctx, Decision{
			ID:              uuid.NewString(),
			TraceID:         traceID,
			GameID:          input.GameID,
			Status:          StatusNoBet,
			Rationale:       chainResult.Rationale,
			FallbackContext: fc,
		}, start)
	}

	output := chainResult.Output
	results := e.gateEval.EvaluateAll(output, cfg)
	for _, r := range results {
		if !r.Passed {
			e.metrics.GateFailures.WithLabelValues(r.GateName).Inc()
		}
	}

	decision = Decision{
		ID:              uuid.NewString(),
		TraceID:         traceID,
		GameID:          input.GameID,
		ModelID:         output.ModelID,
		Confidence:      deref(output.Confidence),
		Edge:            deref(output.Edge),
		GateResults:     results,
		FallbackContext: fc,
	}

	if gates.AllPassed(results) {
		decision.Status = StatusPick
		decision.Rationale = fmt.Sprintf("all gates passed at %s level (model %s)", chainResult.FinalLevel, output.ModelID)
		decision.RecommendedAction = fmt.Sprintf("place bet: %s", output.Pick)
	} else {
		decision.Status = StatusNoBet
		decision.Rationale = gates.FailureRationale(results)
	}

	return e.finish(ctx, decision, start)
}

// IngestOutcome records a resolved outcome and advances the risk
// budget. Idempotent per prediction id.
func (e *Engine) IngestOutcome(ctx context.Context, outcome models.ResolvedOutcome) error {
	if err := e.outcomes.Insert(ctx, outcome); err != nil {
		return fmt.Errorf("persist outcome: %w", err)
	}

	limits := e.configCopy().HardStops
	state, err := e.tracker.Ingest(ctx, outcome, limits)
	if err != nil {
		return err
	}

	e.metrics.OutcomesIngested.Inc()
	if state.Active {
		e.metrics.HardStopActive.Set(1)
	}
	return nil
}

// ResetHardStop is privileged; the caller performs authorization before
// invoking it.
func (e *Engine) ResetHardStop(ctx context.Context, actorID, reason string) (hardstop.ResetResult, error) {
	result, err := e.tracker.Reset(ctx, actorID, reason)
	if err != nil {
		return result, err
	}
	if result.Success {
		e.metrics.HardStopActive.Set(0)
	}
	return result, nil
}

// PolicyConfig returns a copy of the active configuration
func (e *Engine) PolicyConfig() policy.Config {
	return e.configCopy()
}

// UpdatePolicyConfig routes through the versioner's non-weakening check
// and swaps the active config atomically on success.
func (e *Engine) UpdatePolicyConfig(ctx context.Context, candidate policy.Config, actorID, reason string) (policy.Snapshot, error) {
	snapshot, err := e.versioner.Update(ctx, candidate, actorID, reason)
	if err != nil {
		return policy.Snapshot{}, err
	}
	e.swapActive(snapshot)
	return snapshot, nil
}

// RestoreVersion reactivates a prior snapshot, subject to the
// non-weakening invariant.
func (e *Engine) RestoreVersion(ctx context.Context, versionID, actorID string) (policy.Snapshot, error) {
	snapshot, err := e.versioner.Restore(ctx, versionID, actorID)
	if err != nil {
		return policy.Snapshot{}, err
	}
	e.swapActive(snapshot)
	return snapshot, nil
}

// Versions lists configuration history
func (e *Engine) Versions(ctx context.Context, limit, offset int) ([]policy.Snapshot, error) {
	return e.versioner.Versions(ctx, limit, offset)
}

// BreakerStatus returns one breaker's metrics, or all when name is empty
func (e *Engine) BreakerStatus(name string) map[string]breaker.Status {
	if name == "" {
		return e.breakers.AllStatus()
	}
	out := make(map[string]breaker.Status, 1)
	if status, ok := e.breakers.Status(name); ok {
		out[name] = status
	}
	return out
}

// HardStopState exposes the current risk budget record
func (e *Engine) HardStopState() hardstop.State {
	return e.tracker.Snapshot()
}

// DecisionTrail returns the append-only decision history for a trace
func (e *Engine) DecisionTrail(ctx context.Context, traceID string) ([]persistence.DecisionRecord, error) {
	return e.decisions.GetByTraceID(ctx, traceID)
}

func (e *Engine) configCopy() policy.Config {
	return *e.active.Load()
}

func (e *Engine) swapActive(snapshot policy.Snapshot) {
	cfg := snapshot.Config
	e.active.Store(&cfg)
	e.metrics.ConfigVersion.Set(float64(snapshot.Version))
}

// finish persists, audits, and instruments the decision. Persistence
// failures are logged, not surfaced: the decision is already terminal
// and the caller gets it either way.
func (e *Engine) finish(ctx context.Context, decision Decision, start time.Time) Decision {
	e.metrics.DecisionsTotal.WithLabelValues(string(decision.Status)).Inc()
	if decision.FallbackContext != nil {
		e.metrics.FallbackLevelUsed.WithLabelValues(string(decision.FallbackContext.FinalLevel)).Inc()
	}
	e.metrics.EvaluationDuration.Observe(time.Since(start).Seconds())

	record := persistence.DecisionRecord{
		ID:         decision.ID,
		TraceID:    decision.TraceID,
		GameID:     decision.GameID,
		Status:     string(decision.Status),
		Rationale:  decision.Rationale,
		Confidence: decision.Confidence,
		Edge:       decision.Edge,
		CreatedAt:  time.Now().UTC(),
	}
	if decision.HardStopReason != "" {
		record.HardStopReason = &decision.HardStopReason
	}
	if decision.RecommendedAction != "" {
		record.RecommendedAction = &decision.RecommendedAction
	}
	if decision.FallbackContext != nil {
		if blob, err := json.Marshal(decision.FallbackContext); err == nil {
			record.FallbackContext = blob
		}
	}
	if err := e.decisions.Insert(ctx, record); err != nil {
		e.logger.Error().Err(err).Str("trace_id", decision.TraceID).Msg("Failed to persist decision")
	}

	ev := audit.NewEvent(audit.EventDecisionEmitted, decision.Rationale)
	ev.TraceID = decision.TraceID
	ev.Details["status"] = string(decision.Status)
	ev.Details["game_id"] = decision.GameID
	e.sink.Emit(ev)

	e.logger.Info().
		Str("trace_id", decision.TraceID).
		Str("game_id", decision.GameID).
		Str("status", string(decision.Status)).
		Str("rationale", decision.Rationale).
		Msg("Decision emitted")

	return decision
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
