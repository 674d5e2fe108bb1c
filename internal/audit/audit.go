package audit

import (
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies the class of audit event for downstream filtering
type EventType string

const (
	EventDecisionEmitted    EventType = "DECISION_EMITTED"
	EventForcedNoBet        EventType = "FORCED_NO_BET"
	EventHardStopTriggered  EventType = "HARD_STOP_TRIGGERED"
	EventHardStopReset      EventType = "HARD_STOP_RESET"
	EventConfigUpdated      EventType = "CONFIG_UPDATED"
	EventConfigRestored     EventType = "CONFIG_RESTORED"
	EventBypassAttempt      EventType = "HARD_STOP_BYPASS_ATTEMPT"
	EventBreakerStateChange EventType = "BREAKER_STATE_CHANGE"
	EventOutcomeIngested    EventType = "OUTCOME_INGESTED"
)

// Event is a structured audit record. The core emits events; delivery
// and retention belong to the host's sink implementation.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"ts"`
	ActorID   string                 `json:"actor_id,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Sink receives audit events. Implementations must not block the
// decision path; slow delivery belongs behind a buffer in the host.
type Sink interface {
	Emit(event Event)
}

// LogSink writes audit events through a zerolog logger
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs every event at warn or info level
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(event Event) {
	ev := s.logger.Info()
	if event.Type == EventBypassAttempt || event.Type == EventHardStopTriggered || event.Type == EventForcedNoBet {
		ev = s.logger.Warn()
	}
	ev.Str("audit_type", string(event.Type)).
		Time("audit_ts", event.Timestamp).
		Str("actor_id", event.ActorID).
		Str("trace_id", event.TraceID).
		Fields(event.Details).
		Msg(event.Message)
}

// MultiSink fans events out to several sinks in order
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Emit(event Event) {
	for _, s := range m.sinks {
		s.Emit(event)
	}
}

// NewEvent stamps an event with the current time
func NewEvent(t EventType, message string) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Details:   make(map[string]interface{}),
	}
}
