package audit

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Emit(e Event) { r.events = append(r.events, e) }

func TestNewEventStampsTimestamp(t *testing.T) {
	e := NewEvent(EventHardStopTriggered, "hard stop triggered")
	assert.Equal(t, EventHardStopTriggered, e.Type)
	assert.False(t, e.Timestamp.IsZero())
	require.NotNil(t, e.Details)
}

func TestMultiSinkFansOutInOrder(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	m := NewMultiSink(a, b)

	m.Emit(NewEvent(EventConfigUpdated, "updated"))
	m.Emit(NewEvent(EventConfigRestored, "restored"))

	require.Len(t, a.events, 2)
	require.Len(t, b.events, 2)
	assert.Equal(t, EventConfigUpdated, a.events[0].Type)
	assert.Equal(t, EventConfigRestored, b.events[1].Type)
}

func TestLogSinkEscalatesRiskEvents(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf))

	sink.Emit(NewEvent(EventBypassAttempt, "bypass rejected"))
	assert.Contains(t, buf.String(), `"level":"warn"`)

	buf.Reset()
	sink.Emit(NewEvent(EventConfigUpdated, "updated"))
	assert.Contains(t, buf.String(), `"level":"info"`)
}
