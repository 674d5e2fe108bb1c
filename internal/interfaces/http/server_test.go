package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtline/policycore/internal/audit"
	"github.com/courtline/policycore/internal/breaker"
	"github.com/courtline/policycore/internal/engine"
	"github.com/courtline/policycore/internal/fallback"
	"github.com/courtline/policycore/internal/hardstop"
	"github.com/courtline/policycore/internal/metrics"
	"github.com/courtline/policycore/internal/persistence/memory"
	"github.com/courtline/policycore/internal/policy"
	"github.com/courtline/policycore/internal/providers"
	"github.com/courtline/policycore/internal/quality"
)

func newTestServer(t *testing.T) (*Server, *providers.Static) {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()
	sink := audit.NewLogSink(logger)
	m := metrics.NewRegistry()

	breakers := breaker.NewRegistry(breaker.DefaultSettings(), m.ObserveBreakerChange, m.ObserveBreakerRejection, logger)
	registry := fallback.NewRegistry(breakers, 1000, 100, time.Second, logger)

	primary := providers.NewStatic("nba_v3_2025", "v3.2025")
	registry.Register(primary)
	registry.Register(providers.NewStatic("nba_v3_global", "v3.global"))
	registry.Register(providers.NewStatic("nba_v2_validated", "v2"))

	chain := fallback.NewChain(fallback.DefaultLevels(), registry, quality.NewGates(quality.DefaultGateConfig(), logger), logger)

	tracker, err := hardstop.NewTracker(ctx, memory.NewHardStopStore(), 10000, sink, logger)
	require.NoError(t, err)
	versioner := policy.NewVersioner(memory.NewSnapshotStore(), sink, logger)

	eng, err := engine.New(ctx, versioner, chain, tracker, memory.NewDecisionRepo(), memory.NewOutcomeRepo(), breakers, sink, m, logger)
	require.NoError(t, err)

	return NewServer(":0", eng, m, logger), primary
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "policycore_")
}

func TestEvaluateEndpoint(t *testing.T) {
	srv, primary := newTestServer(t)
	primary.Seed("g1", "LAL -3.5", 0.70, 0.06, 0.10)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/decisions/evaluate", map[string]string{"game_id": "g1", "trace_id": "trace-9"})
	require.Equal(t, http.StatusOK, rec.Code)

	var decision engine.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, engine.StatusPick, decision.Status)
	assert.Equal(t, "trace-9", decision.TraceID)
}

func TestEvaluateRequiresGameID(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/decisions/evaluate", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionTrailEndpoint(t *testing.T) {
	srv, primary := newTestServer(t)
	primary.Seed("g1", "LAL -3.5", 0.70, 0.06, 0.10)

	doJSON(t, srv.Handler(), http.MethodPost, "/v1/decisions/evaluate", map[string]string{"game_id": "g1", "trace_id": "trace-1"})
	doJSON(t, srv.Handler(), http.MethodPost, "/v1/decisions/evaluate", map[string]string{"game_id": "g1", "trace_id": "trace-1"})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/decisions/trace-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var records []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 2)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/decisions/unknown-trace", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOutcomeAndHardStopFlow(t *testing.T) {
	srv, primary := newTestServer(t)
	primary.Seed("g1", "LAL -3.5", 0.70, 0.06, 0.10)
	handler := srv.Handler()

	for i := 0; i < 2; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/v1/outcomes", map[string]interface{}{
			"prediction_id": fmt.Sprintf("p%d", i),
			"model_id":      "nba_v3_2025",
			"won":           false,
			"profit_usd":    -300,
			"resolved_at":   time.Now().UTC().Format(time.RFC3339),
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := doJSON(t, handler, http.MethodGet, "/v1/hardstop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state hardstop.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Active)

	// Evaluation under an active hard stop returns HARD_STOP
	rec = doJSON(t, handler, http.MethodPost, "/v1/decisions/evaluate", map[string]string{"game_id": "g1"})
	var decision engine.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Equal(t, engine.StatusHardStop, decision.Status)

	// Reset without a reason is refused
	rec = doJSON(t, handler, http.MethodPost, "/v1/hardstop/reset", map[string]string{"actor_id": "risk_lead"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/v1/hardstop/reset", map[string]string{"actor_id": "risk_lead", "reason": "reviewed"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOutcomeRequiresPredictionID(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/outcomes", map[string]interface{}{"model_id": "m"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPolicyEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/v1/policy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg policy.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))

	cfg.ConfidenceMin = 0.66
	rec = doJSON(t, handler, http.MethodPut, "/v1/policy", map[string]interface{}{
		"config":   cfg,
		"actor_id": "analyst_1",
		"reason":   "tighten",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/v1/policy/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var versions []policy.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &versions))
	assert.Len(t, versions, 1)
}

func TestUpdatePolicyRejectsOutOfBounds(t *testing.T) {
	srv, _ := newTestServer(t)

	cfg := policy.DefaultConfig()
	cfg.ConfidenceMin = 0.90

	rec := doJSON(t, srv.Handler(), http.MethodPut, "/v1/policy", map[string]interface{}{
		"config":   cfg,
		"actor_id": "analyst_1",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(policy.ReasonThresholdOutOfBounds), resp.Reason)
}

func TestRestoreWeakeningIsConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Handler()

	loose := policy.DefaultConfig()
	rec := doJSON(t, handler, http.MethodPut, "/v1/policy", map[string]interface{}{
		"config": loose, "actor_id": "analyst_1", "reason": "baseline",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var snap1 policy.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap1))

	strict := loose
	strict.HardStops.DailyLossLimitUSD = 300
	rec = doJSON(t, handler, http.MethodPut, "/v1/policy", map[string]interface{}{
		"config": strict, "actor_id": "analyst_1", "reason": "tighten",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/v1/policy/restore", map[string]string{
		"version_id": snap1.ID, "actor_id": "analyst_2",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRestoreUnknownVersionIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/policy/restore", map[string]string{
		"version_id": "snap-404", "actor_id": "analyst_1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBreakerStatusEndpoint(t *testing.T) {
	srv, primary := newTestServer(t)
	primary.Seed("g1", "LAL -3.5", 0.70, 0.06, 0.10)

	// One evaluation creates breakers lazily
	doJSON(t, srv.Handler(), http.MethodPost, "/v1/decisions/evaluate", map[string]string{"game_id": "g1"})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/breakers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses map[string]breaker.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	assert.Contains(t, statuses, "model:nba_v3_2025")
}
