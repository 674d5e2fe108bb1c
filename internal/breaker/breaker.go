package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is the distinct rejection returned when a breaker refuses to
// admit a call. The wrapped function is never invoked in this case.
var ErrOpen = errors.New("circuit breaker open")

// State represents the admission state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Settings defines breaker behavior per protected dependency
type Settings struct {
	FailureThreshold int           `yaml:"failure_threshold"`  // Consecutive failures to open
	ResetTimeout     time.Duration `yaml:"reset_timeout"`      // Open duration before a trial is allowed
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"` // Trial calls admitted while half-open
	SuccessThreshold int           `yaml:"success_threshold"`  // Consecutive half-open successes to close
}

// DefaultSettings returns the baseline protection profile
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 3,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 2,
		SuccessThreshold: 2,
	}
}

// Metrics are cumulative counters, never reset except by explicit
// operator action. Rejected calls are tracked separately from admitted
// calls: TotalCalls counts only calls that reached the wrapped function.
type Metrics struct {
	TotalCalls    int64 `json:"total_calls"`
	Successes     int64 `json:"successes"`
	Failures      int64 `json:"failures"`
	RejectedCalls int64 `json:"rejected_calls"`
}

// Status is a point-in-time export of one breaker's state and counters
type Status struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time,omitempty"`
	HalfOpenCallCount   int       `json:"half_open_call_count"`
	Metrics             Metrics   `json:"metrics"`
}

// StateChangeFunc observes breaker transitions for audit and metrics
type StateChangeFunc func(name string, from, to State)

// RejectFunc observes calls refused at admission
type RejectFunc func(name string)

// Breaker is a call-admission state machine for one named dependency.
// It performs no retries; it only gates admission. The timeout-based
// OPEN to HALF_OPEN transition is evaluated lazily as a precondition of
// the next call, not by a background timer.
type Breaker struct {
	name     string
	settings Settings
	onChange StateChangeFunc
	onReject RejectFunc

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenCalls       int
	halfOpenSuccesses   int
	metrics             Metrics

	now func() time.Time
}

// New creates a breaker in the CLOSED state
func New(name string, settings Settings, onChange StateChangeFunc, onReject RejectFunc) *Breaker {
	if settings.FailureThreshold < 1 {
		settings.FailureThreshold = 1
	}
	if settings.HalfOpenMaxCalls < 1 {
		settings.HalfOpenMaxCalls = 1
	}
	if settings.SuccessThreshold < 1 {
		settings.SuccessThreshold = 1
	}
	// A success streak longer than the trial cap can never complete
	// while half-open, so the breaker would reject forever.
	if settings.SuccessThreshold > settings.HalfOpenMaxCalls {
		settings.SuccessThreshold = settings.HalfOpenMaxCalls
	}
	return &Breaker{
		name:     name,
		settings: settings,
		onChange: onChange,
		onReject: onReject,
		state:    StateClosed,
		now:      time.Now,
	}
}

// Execute admits the call if the state machine allows it, runs fn, and
// records the result. Call execution runs outside the breaker lock so
// independent callers only serialize on the admission decision.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	// Recorded via defer so a panicking call still counts as a failure
	// and releases its half-open trial slot before the panic propagates.
	success := false
	defer func() { b.record(success) }()

	err := fn(ctx)
	success = err == nil
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.lastFailureTime) >= b.settings.ResetTimeout {
			b.transition(StateHalfOpen)
			b.halfOpenCalls = 1
			return nil
		}
		return b.reject()
	case StateHalfOpen:
		if b.halfOpenCalls >= b.settings.HalfOpenMaxCalls {
			return b.reject()
		}
		b.halfOpenCalls++
		return nil
	}
	return fmt.Errorf("%s: unknown breaker state", b.name)
}

// reject must be called with b.mu held
func (b *Breaker) reject() error {
	b.metrics.RejectedCalls++
	if b.onReject != nil {
		b.onReject(b.name)
	}
	return fmt.Errorf("%s: %w", b.name, ErrOpen)
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.TotalCalls++
	if success {
		b.metrics.Successes++
		switch b.state {
		case StateClosed:
			b.consecutiveFailures = 0
		case StateHalfOpen:
			b.halfOpenSuccesses++
			if b.halfOpenSuccesses >= b.settings.SuccessThreshold {
				b.transition(StateClosed)
				b.consecutiveFailures = 0
			}
		}
		return
	}

	b.metrics.Failures++
	b.lastFailureTime = b.now()
	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.settings.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		// Any half-open failure reopens immediately
		b.transition(StateOpen)
	}
}

// transition must be called with b.mu held
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateHalfOpen || to == StateClosed {
		if to == StateClosed {
			b.halfOpenCalls = 0
		}
		b.halfOpenSuccesses = 0
	}
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State returns the current admission state without advancing it
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Status exports the breaker's state and cumulative metrics
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureTime:     b.lastFailureTime,
		HalfOpenCallCount:   b.halfOpenCalls,
		Metrics:             b.metrics,
	}
}

// ResetMetrics zeroes the cumulative counters. Explicit operator action
// only; nothing in the decision path calls this.
func (b *Breaker) ResetMetrics() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = Metrics{}
}
