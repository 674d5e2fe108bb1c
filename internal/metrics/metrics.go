// Package metrics exposes Prometheus instrumentation for the decision
// pipeline on an isolated registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/courtline/policycore/internal/breaker"
)

// Registry bundles every metric the decision pipeline records
type Registry struct {
	registry *prometheus.Registry

	DecisionsTotal     *prometheus.CounterVec
	GateFailures       *prometheus.CounterVec
	FallbackLevelUsed  *prometheus.CounterVec
	ForcedNoBets       prometheus.Counter
	HardStopActive     prometheus.Gauge
	BreakerState       *prometheus.GaugeVec
	BreakerRejections  *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	OutcomesIngested   prometheus.Counter
	ConfigVersion      prometheus.Gauge
}

func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.DecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policycore_decisions_total",
		Help: "Decisions emitted, labeled by final status",
	}, []string{"status"})

	r.GateFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policycore_gate_failures_total",
		Help: "Gate failures by gate name",
	}, []string{"gate"})

	r.FallbackLevelUsed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policycore_fallback_level_total",
		Help: "Fallback chain resolutions by final level",
	}, []string{"level"})

	r.ForcedNoBets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "policycore_forced_no_bets_total",
		Help: "Decisions forced to no-bet by data quality exhaustion",
	})

	r.HardStopActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "policycore_hardstop_active",
		Help: "1 when the hard stop is latched, 0 otherwise",
	})

	r.BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "policycore_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"breaker"})

	r.BreakerRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policycore_breaker_rejections_total",
		Help: "Calls rejected while a breaker was open",
	}, []string{"breaker"})

	r.EvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "policycore_evaluation_duration_seconds",
		Help:    "End-to-end decision evaluation latency",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	r.OutcomesIngested = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "policycore_outcomes_ingested_total",
		Help: "Resolved outcomes accepted into the risk tracker",
	})

	r.ConfigVersion = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "policycore_config_version",
		Help: "Version number of the active policy config",
	})

	r.registry.MustRegister(
		r.DecisionsTotal,
		r.GateFailures,
		r.FallbackLevelUsed,
		r.ForcedNoBets,
		r.HardStopActive,
		r.BreakerState,
		r.BreakerRejections,
		r.EvaluationDuration,
		r.OutcomesIngested,
		r.ConfigVersion,
	)

	return r
}

// Gatherer returns the underlying registry for the /metrics handler
func (r *Registry) Gatherer() *prometheus.Registry {
	return r.registry
}

// ObserveBreakerChange matches breaker.StateChangeFunc so the registry
// can be wired directly as a state-change callback.
func (r *Registry) ObserveBreakerChange(name string, _, to breaker.State) {
	var v float64
	switch to {
	case breaker.StateOpen:
		v = 1
	case breaker.StateHalfOpen:
		v = 2
	}
	r.BreakerState.WithLabelValues(name).Set(v)
}

// ObserveBreakerRejection matches breaker.RejectFunc so rejected calls
// are counted alongside state transitions.
func (r *Registry) ObserveBreakerRejection(name string) {
	r.BreakerRejections.WithLabelValues(name).Inc()
}
