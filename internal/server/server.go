// Package server provides the HTTP API for recall.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/smancode/recall/internal/config"
	"github.com/smancode/recall/internal/embedder"
	"github.com/smancode/recall/internal/pipeline"
	"github.com/smancode/recall/internal/reranker"
	"github.com/smancode/recall/internal/store"
)

// Server is the HTTP server for the recall API.
type Server struct {
	searcher *pipeline.Searcher
	ingester *pipeline.Ingester
	store    *store.Store
	embedder embedder.Embedder
	reranker *reranker.Client // nil when reranking is disabled
	config   *config.ServerConfig
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. rr may be nil.
func NewServer(
	searcher *pipeline.Searcher,
	ingester *pipeline.Ingester,
	st *store.Store,
	emb embedder.Embedder,
	rr *reranker.Client,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		searcher: searcher,
		ingester: ingester,
		store:    st,
		embedder: emb,
		reranker: rr,
		config:   cfg,
		logger:   logger,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Post("/api/v1/search", s.handleSearch)
	r.Get("/api/v1/projects", s.handleListProjects)
	r.Post("/api/v1/projects/{projectKey}/ingest", s.handleIngest)
	r.Post("/api/v1/projects/{projectKey}/rebuild", s.handleRebuild)
	r.Get("/api/v1/projects/{projectKey}/stats", s.handleStats)
	r.Get("/api/v1/projects/{projectKey}/traces", s.handleTraces)
	r.Delete("/api/v1/projects/{projectKey}", s.handleClearProject)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
