package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cajuassist/router/internal/experiment"
	"github.com/cajuassist/router/internal/metrics"
	"github.com/cajuassist/router/internal/session"
)

// routeRequest is the JSON body for the route endpoint.
type routeRequest struct {
	Message   string `json:"message"`
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id,omitempty"`
}

// classificationMetricsResponse combines the rolled-up snapshot with the
// per-intent distribution.
type classificationMetricsResponse struct {
	Snapshot *metrics.Snapshot `json:"snapshot"`
	Intents  map[string]int64  `json:"intent_distribution"`
}

// resultRequest is the JSON body for recording an experiment observation.
type resultRequest struct {
	VariantID string             `json:"variant_id"`
	SubjectID string             `json:"subject_id"`
	Metrics   map[string]float64 `json:"metrics"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Message == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message and user_id are required"})
		return
	}

	decision, err := s.engine.Route(r.Context(), req.Message, req.UserID, req.ChannelID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.CloseSession(r.Context(), id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (s *Server) handleSessionContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	maxMessages := s.engine.ContextWindow()
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "max must be a positive integer"})
			return
		}
		maxMessages = n
	}

	convCtx, err := s.engine.ConversationContext(r.Context(), id, maxMessages)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, convCtx)
}

func (s *Server) handleClassificationMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Metrics().Snapshot(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	intents, err := s.engine.Metrics().IntentDistribution(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, classificationMetricsResponse{Snapshot: snap, Intents: intents})
}

func (s *Server) handleAgentMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Metrics().AgentSnapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	if m := s.engine.SessionMetrics(); m != nil {
		writeJSON(w, http.StatusOK, m.Summary())
		return
	}
	writeJSON(w, http.StatusOK, session.MetricsSummary{})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.CacheStats())
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var exp experiment.Experiment
	if err := json.NewDecoder(r.Body).Decode(&exp); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	id, err := s.engine.Experiments().CreateExperiment(r.Context(), exp)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	exp, err := s.engine.Experiments().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (s *Server) handleExperimentAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.engine.Experiments().Analyze(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleStopExperiment(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Experiments().Stop(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeExperimentError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleRecordResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	err := s.engine.Experiments().RecordResult(r.Context(), chi.URLParam(r, "id"), req.VariantID, req.SubjectID, req.Metrics)
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.engine.Experiments().Results(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeExperimentError(w, err)
		return
	}
	if results == nil {
		results = []experiment.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func writeExperimentError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, experiment.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
