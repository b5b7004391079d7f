package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/smancode/recall/internal/pipeline"
	"github.com/smancode/recall/pkg/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("writing response failed", zap.Error(err))
	}
}

// writeError maps sentinel errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrConfigInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrDimensionMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrUpstreamUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, types.ErrIndexUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

type healthResponse struct {
	Status   string `json:"status"`
	Embedder bool   `json:"embedder"`
	Reranker *bool  `json:"reranker,omitempty"`
}

// handleHealth probes the configured upstreams and reports them alongside
// the service's own status. A down component degrades the status but the
// endpoint itself stays 200 while the server can answer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Embedder: s.embedder.Available(r.Context())}
	if s.reranker != nil {
		ok := s.reranker.Available(r.Context())
		resp.Reranker = &ok
	}
	if !resp.Embedder || (resp.Reranker != nil && !*resp.Reranker) {
		resp.Status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req pipeline.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	resp, err := s.searcher.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type ingestRequest struct {
	Documents []pipeline.Document `json:"documents"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	projectKey := chi.URLParam(r, "projectKey")

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	report, err := s.ingester.Ingest(r.Context(), projectKey, req.Documents)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	projectKey := chi.URLParam(r, "projectKey")
	if err := s.store.Rebuild(r.Context(), projectKey); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	projectKey := chi.URLParam(r, "projectKey")
	stats, err := s.store.Stats(r.Context(), projectKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	projectKey := chi.URLParam(r, "projectKey")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be in [1, 1000]"})
			return
		}
		limit = n
	}
	traces, err := s.store.RecentTraces(r.Context(), projectKey, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"traces": traces})
}

func (s *Server) handleClearProject(w http.ResponseWriter, r *http.Request) {
	projectKey := chi.URLParam(r, "projectKey")
	if err := s.store.Clear(r.Context(), projectKey); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	keys, err := s.store.ProjectKeys()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"projects": keys})
}
