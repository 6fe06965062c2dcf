// Package server provides the HTTP API for pawsort.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/pawsort/internal/config"
	"github.com/hyperjump/pawsort/internal/session"
	"github.com/hyperjump/pawsort/internal/storage"
)

// RemoteService is the embedding service as seen by the API.
type RemoteService interface {
	Health(ctx context.Context) (string, error)
	BaseURL() string
}

// Server is the HTTP server for the pawsort API.
type Server struct {
	manager *session.Manager
	remote  RemoteService
	storage storage.Storage // nil disables export history
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server

	exportMu sync.Mutex // one export at a time
}

// NewServer creates a server with the given dependencies.
func NewServer(
	manager *session.Manager,
	remote RemoteService,
	store storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		manager: manager,
		remote:  remote,
		storage: store,
		config:  cfg,
		logger:  logger,
	}
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Get("/status", s.handleStatus)
			r.Get("/remote/health", s.handleRemoteHealth)

			r.Post("/sessions", s.handleStartSession)
			r.Get("/sessions/current", s.handleSessionStatus)
			r.Delete("/sessions/current", s.handleCancelSession)
			r.Post("/sessions/reset", s.handleResetSession)

			r.Get("/groups", s.handleGroups)
			r.Post("/groups/reassign", s.handleReassign)
			r.Get("/photos/similar", s.handleSimilar)

			r.Get("/exports", s.handleListExports)
			r.Get("/exports/{id}", s.handleGetExport)
			r.Delete("/exports/{id}", s.handleDeleteExport)
		})
		// exports copy every photo and may outlast the request timeout
		r.Post("/exports", s.handleCreateExport)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: zap.NewStdLog(s.logger), NoColor: true})(s.Routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
