package engine

import (
	"github.com/courtline/policycore/internal/fallback"
	"github.com/courtline/policycore/internal/gates"
)

// Status is the terminal outcome of one evaluation. All three are
// first-class values; none of them is an error.
type Status string

const (
	StatusPick     Status = "PICK"
	StatusNoBet    Status = "NO_BET"
	StatusHardStop Status = "HARD_STOP"
)

// FallbackContext carries the full fallback trail into the decision's
// audit record.
type FallbackContext struct {
	FinalLevel       fallback.Level     `json:"final_level"`
	WasForcedNoBet   bool               `json:"was_forced_no_bet"`
	FallbackAttempts []fallback.Attempt `json:"fallback_attempts"`
}

// Decision is the terminal artifact of one evaluation. It is created
// once and never mutated after the status is assigned; corrections
// append a new Decision under the same trace id.
type Decision struct {
	ID                string           `json:"id"`
	TraceID           string           `json:"trace_id"`
	GameID            string           `json:"game_id"`
	Status            Status           `json:"status"`
	Rationale         string           `json:"rationale"`
	Confidence        float64          `json:"confidence"`
	Edge              float64          `json:"edge"`
	ModelID           string           `json:"model_id,omitempty"`
	HardStopReason    string           `json:"hard_stop_reason,omitempty"`
	RecommendedAction string           `json:"recommended_action,omitempty"`
	GateResults       []gates.Result   `json:"gate_results,omitempty"`
	FallbackContext   *FallbackContext `json:"fallback_context,omitempty"`
}

// CandidateInput identifies the evaluation subject. TraceID is optional;
// one is generated when absent.
type CandidateInput struct {
	GameID  string `json:"game_id"`
	TraceID string `json:"trace_id,omitempty"`
}
