package hardstop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/courtline/policycore/internal/audit"
	"github.com/courtline/policycore/internal/models"
	"github.com/courtline/policycore/internal/policy"
)

// State is the process-wide risk budget record. Once Active latches
// true it stays true until an explicit, authorized reset; nothing clears
// it automatically.
type State struct {
	Active            bool            `json:"active"`
	TriggeredAt       *time.Time      `json:"triggered_at,omitempty"`
	TriggerReason     string          `json:"trigger_reason,omitempty"`
	DailyLossUSD      decimal.Decimal `json:"daily_loss_usd"`
	ConsecutiveLosses int             `json:"consecutive_losses"`
	BankrollPercent   float64         `json:"bankroll_percent"`
	DayKey            string          `json:"day_key"`
}

// Store persists the singleton state row and the processed-prediction
// set backing idempotent ingestion.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
	// Apply atomically records predictionID and persists state. It
	// reports false and writes nothing when the id was already seen,
	// and must commit the mark and the state together so a failure
	// leaves the outcome unmarked and safe to replay.
	Apply(ctx context.Context, predictionID string, state State) (bool, error)
}

// ResetResult reports the outcome of a privileged reset
type ResetResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Tracker maintains the risk budget over the stream of resolved
// outcomes. Ingestion and reset serialize on one mutex so two
// concurrent outcomes can never undercount a breach.
type Tracker struct {
	mu          sync.Mutex
	state       State
	store       Store
	sink        audit.Sink
	logger      zerolog.Logger
	bankrollUSD decimal.Decimal
	now         func() time.Time
}

// NewTracker loads the persisted state so a restart cannot shed an
// active hard stop.
func NewTracker(ctx context.Context, store Store, bankrollUSD float64, sink audit.Sink, logger zerolog.Logger) (*Tracker, error) {
	state, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load hard-stop state: %w", err)
	}
	return &Tracker{
		state:       state,
		store:       store,
		sink:        sink,
		logger:      logger.With().Str("component", "hardstop_tracker").Logger(),
		bankrollUSD: decimal.NewFromFloat(bankrollUSD),
		now:         time.Now,
	}, nil
}

// Snapshot returns a copy of the current state
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Active reports whether the hard stop is latched
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Active
}

// Ingest applies one resolved outcome against the configured limits.
// Idempotent per prediction id: replays are dropped before any counter
// moves. The updated state and the processed mark commit as one store
// write, so a persistence failure leaves the outcome unmarked and a
// replay after restart still counts it. A breach latches Active with a
// named trigger reason.
func (t *Tracker) Ingest(ctx context.Context, outcome models.ResolvedOutcome, limits policy.HardStopLimits) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.state
	rollDay(&next, outcome.ResolvedAt)

	profit := decimal.NewFromFloat(outcome.ProfitUSD)
	if profit.IsNegative() {
		next.DailyLossUSD = next.DailyLossUSD.Add(profit.Neg())
		next.ConsecutiveLosses++
	} else {
		next.ConsecutiveLosses = 0
	}
	next.BankrollPercent = t.bankrollShare(next)

	triggered := false
	if !next.Active {
		if reason := breach(next, limits); reason != "" {
			now := t.now().UTC()
			next.Active = true
			next.TriggeredAt = &now
			next.TriggerReason = reason
			triggered = true
		}
	}

	fresh, err := t.store.Apply(ctx, outcome.PredictionID, next)
	if err != nil {
		return t.state, fmt.Errorf("persist outcome %s: %w", outcome.PredictionID, err)
	}
	if !fresh {
		t.logger.Debug().Str("prediction_id", outcome.PredictionID).Msg("Duplicate outcome ignored")
		return t.state, nil
	}
	t.state = next

	if triggered {
		ev := audit.NewEvent(audit.EventHardStopTriggered, "hard stop triggered")
		ev.Details["reason"] = t.state.TriggerReason
		ev.Details["daily_loss_usd"] = t.state.DailyLossUSD.String()
		ev.Details["consecutive_losses"] = t.state.ConsecutiveLosses
		ev.Details["bankroll_percent"] = t.state.BankrollPercent
		t.sink.Emit(ev)

		t.logger.Warn().
			Str("reason", t.state.TriggerReason).
			Str("daily_loss_usd", t.state.DailyLossUSD.String()).
			Int("consecutive_losses", t.state.ConsecutiveLosses).
			Msg("HARD STOP triggered")
	}

	ev := audit.NewEvent(audit.EventOutcomeIngested, "outcome ingested")
	ev.Details["prediction_id"] = outcome.PredictionID
	ev.Details["won"] = outcome.Won
	t.sink.Emit(ev)

	return t.state, nil
}

// Reset clears the latch and running counters. The historical cause
// stays in the audit log; only the live record is cleared.
func (t *Tracker) Reset(ctx context.Context, actorID, reason string) (ResetResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.state.Active {
		return ResetResult{Success: false, Message: "hard stop is not active"}, nil
	}
	if reason == "" {
		return ResetResult{Success: false, Message: "reset reason is required"}, nil
	}

	prevReason := t.state.TriggerReason
	t.state = State{DayKey: t.state.DayKey, DailyLossUSD: decimal.Zero}
	if err := t.store.Save(ctx, t.state); err != nil {
		return ResetResult{}, fmt.Errorf("persist hard-stop reset: %w", err)
	}

	ev := audit.NewEvent(audit.EventHardStopReset, "hard stop reset")
	ev.ActorID = actorID
	ev.Details["reset_reason"] = reason
	ev.Details["cleared_trigger"] = prevReason
	t.sink.Emit(ev)

	t.logger.Info().
		Str("actor_id", actorID).
		Str("reset_reason", reason).
		Str("cleared_trigger", prevReason).
		Msg("Hard stop reset")

	return ResetResult{Success: true, Message: fmt.Sprintf("hard stop cleared (was: %s)", prevReason)}, nil
}

// rollDay resets the daily loss ledger on a UTC date change. The
// Active latch is never touched here.
func rollDay(s *State, at time.Time) {
	day := at.UTC().Format("2006-01-02")
	if day != s.DayKey {
		s.DayKey = day
		s.DailyLossUSD = decimal.Zero
	}
}

func (t *Tracker) bankrollShare(s State) float64 {
	if t.bankrollUSD.IsZero() {
		return 0
	}
	pct, _ := s.DailyLossUSD.Div(t.bankrollUSD).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

func breach(s State, limits policy.HardStopLimits) string {
	if s.DailyLossUSD.GreaterThanOrEqual(decimal.NewFromFloat(limits.DailyLossLimitUSD)) {
		return fmt.Sprintf("daily loss $%s reached limit $%.2f", s.DailyLossUSD.String(), limits.DailyLossLimitUSD)
	}
	if s.ConsecutiveLosses >= limits.ConsecutiveLossLimit {
		return fmt.Sprintf("%d consecutive losses reached limit %d", s.ConsecutiveLosses, limits.ConsecutiveLossLimit)
	}
	if s.BankrollPercent >= limits.BankrollPercentLimit {
		return fmt.Sprintf("bankroll drawdown %.2f%% reached limit %.2f%%", s.BankrollPercent, limits.BankrollPercentLimit)
	}
	return ""
}
