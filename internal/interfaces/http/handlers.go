package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/courtline/policycore/internal/engine"
	"github.com/courtline/policycore/internal/models"
	"github.com/courtline/policycore/internal/policy"
)

type errorResponse struct {
	Error   string                 `json:"error"`
	Reason  string                 `json:"reason,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writePolicyError maps typed validation errors onto HTTP statuses.
// Weakening rejections are conflicts with the active limits, not bad input.
func (s *Server) writePolicyError(w http.ResponseWriter, err error) {
	var ve policy.ValidationError
	if !errors.As(err, &ve) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusUnprocessableEntity
	switch ve.Reason {
	case policy.ReasonWeakeningRestore:
		status = http.StatusConflict
	case policy.ReasonVersionNotFound:
		status = http.StatusNotFound
	}
	s.writeJSON(w, status, errorResponse{
		Error:   ve.Message,
		Reason:  string(ve.Reason),
		Details: ve.Details,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var input struct {
		GameID  string `json:"game_id"`
		TraceID string `json:"trace_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if input.GameID == "" {
		s.writeError(w, http.StatusBadRequest, "game_id is required")
		return
	}

	decision := s.engine.Evaluate(r.Context(), engine.CandidateInput{
		GameID:  input.GameID,
		TraceID: input.TraceID,
	})
	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleDecisionTrail(w http.ResponseWriter, r *http.Request) {
	traceID := mux.Vars(r)["traceID"]
	records, err := s.engine.DecisionTrail(r.Context(), traceID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(records) == 0 {
		s.writeError(w, http.StatusNotFound, "no decisions recorded for trace "+traceID)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleIngestOutcome(w http.ResponseWriter, r *http.Request) {
	var outcome models.ResolvedOutcome
	if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if outcome.PredictionID == "" {
		s.writeError(w, http.StatusBadRequest, "prediction_id is required")
		return
	}
	if err := s.engine.IngestOutcome(r.Context(), outcome); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "ingested"})
}

func (s *Server) handleHardStopState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.HardStopState())
}

func (s *Server) handleResetHardStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID string `json:"actor_id"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ActorID == "" {
		s.writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}

	result, err := s.engine.ResetHardStop(r.Context(), req.ActorID, req.Reason)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !result.Success {
		s.writeJSON(w, http.StatusConflict, result)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.PolicyConfig())
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config  policy.Config `json:"config"`
		ActorID string        `json:"actor_id"`
		Reason  string        `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ActorID == "" {
		s.writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}

	snapshot, err := s.engine.UpdatePolicyConfig(r.Context(), req.Config, req.ActorID, req.Reason)
	if err != nil {
		s.writePolicyError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleRestorePolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VersionID string `json:"version_id"`
		ActorID   string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.VersionID == "" || req.ActorID == "" {
		s.writeError(w, http.StatusBadRequest, "version_id and actor_id are required")
		return
	}

	snapshot, err := s.engine.RestoreVersion(r.Context(), req.VersionID, req.ActorID)
	if err != nil {
		s.writePolicyError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	versions, err := s.engine.Versions(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleBreakerStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.BreakerStatus(r.URL.Query().Get("name")))
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
