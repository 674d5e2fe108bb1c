// Package gates implements the three independent decision gates.
// Each gate is evaluated on its own and reports its own result; one
// gate's outcome never short-circuits or feeds another.
package gates

import (
	"fmt"
	"strings"

	"github.com/courtline/policycore/internal/models"
	"github.com/courtline/policycore/internal/policy"
)

// Severity classifies a gate failure for downstream display
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Gate names, stable strings used in metrics labels and audit payloads
const (
	GateConfidence = "confidence"
	GateEdge       = "edge"
	GateDrift      = "drift"
)

// Result is the outcome of a single gate check
type Result struct {
	GateName string   `json:"gate_name"`
	Passed   bool     `json:"passed"`
	Score    float64  `json:"score"`
	Severity Severity `json:"severity,omitempty"`
	Message  string   `json:"message"`
}

// Evaluator runs the confidence, edge, and drift gates against a model
// output using the thresholds of a policy config.
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// EvaluateConfidence checks the model's confidence against the floor.
// A missing confidence is treated as zero and always fails.
func (e *Evaluator) EvaluateConfidence(output models.ModelOutput, cfg policy.Config) Result {
	if output.Confidence == nil {
		return Result{
			GateName: GateConfidence,
			Passed:   false,
			Score:    0,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("Confidence missing, treated as 0.00 < %.2f", cfg.ConfidenceMin),
		}
	}
	score := *output.Confidence
	if score >= cfg.ConfidenceMin {
		return Result{
			GateName: GateConfidence,
			Passed:   true,
			Score:    score,
			Message:  fmt.Sprintf("Confidence %.2f >= %.2f", score, cfg.ConfidenceMin),
		}
	}
	return Result{
		GateName: GateConfidence,
		Passed:   false,
		Score:    score,
		Severity: SeverityCritical,
		Message:  fmt.Sprintf("Confidence %.2f below threshold %.2f", score, cfg.ConfidenceMin),
	}
}

// EvaluateEdge checks the model's expected edge against the floor.
// A missing edge is treated as zero and always fails.
func (e *Evaluator) EvaluateEdge(output models.ModelOutput, cfg policy.Config) Result {
	if output.Edge == nil {
		return Result{
			GateName: GateEdge,
			Passed:   false,
			Score:    0,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("Edge missing, treated as 0.000 < %.3f", cfg.EdgeMin),
		}
	}
	score := *output.Edge
	if score >= cfg.EdgeMin {
		return Result{
			GateName: GateEdge,
			Passed:   true,
			Score:    score,
			Message:  fmt.Sprintf("Edge %.3f >= %.3f", score, cfg.EdgeMin),
		}
	}
	return Result{
		GateName: GateEdge,
		Passed:   false,
		Score:    score,
		Severity: SeverityCritical,
		Message:  fmt.Sprintf("Edge %.3f below threshold %.3f", score, cfg.EdgeMin),
	}
}

// EvaluateDrift checks the model's drift score against the ceiling.
// A missing drift score means no drift was detected and the gate passes.
func (e *Evaluator) EvaluateDrift(output models.ModelOutput, cfg policy.Config) Result {
	if output.DriftScore == nil {
		return Result{
			GateName: GateDrift,
			Passed:   true,
			Score:    0,
			Message:  fmt.Sprintf("Drift not reported, treated as 0.00 <= %.2f", cfg.DriftMax),
		}
	}
	score := *output.DriftScore
	if score <= cfg.DriftMax {
		return Result{
			GateName: GateDrift,
			Passed:   true,
			Score:    score,
			Message:  fmt.Sprintf("Drift %.2f <= %.2f", score, cfg.DriftMax),
		}
	}
	return Result{
		GateName: GateDrift,
		Passed:   false,
		Score:    score,
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("Drift %.2f above ceiling %.2f", score, cfg.DriftMax),
	}
}

// EvaluateAll runs every gate in a stable order and returns all results,
// including the ones that passed. All gates run even when an early one
// fails so the rationale can name every failure.
func (e *Evaluator) EvaluateAll(output models.ModelOutput, cfg policy.Config) []Result {
	return []Result{
		e.EvaluateConfidence(output, cfg),
		e.EvaluateEdge(output, cfg),
		e.EvaluateDrift(output, cfg),
	}
}

// AllPassed reports whether every gate in the set passed. An empty set
// never passes.
func AllPassed(results []Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// FailureRationale builds a human-readable summary naming every failed gate
func FailureRationale(results []Result) string {
	var parts []string
	for _, r := range results {
		if !r.Passed {
			parts = append(parts, fmt.Sprintf("%s gate failed: %s", r.GateName, r.Message))
		}
	}
	return strings.Join(parts, "; ")
}
