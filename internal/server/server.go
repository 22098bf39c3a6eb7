package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/orchestrator"
	"github.com/ternarybob/quaestor/internal/portals"
)

// Server exposes the status API: run history, portal listing, manual run
// start/cancel, and the websocket event stream. JSON only; there is no UI.
type Server struct {
	config   *common.ServerConfig
	logger   arbor.ILogger
	storage  interfaces.StorageManager
	orch     *orchestrator.Orchestrator
	registry *portals.Registry
	hub      *Hub

	router *http.ServeMux
	server *http.Server
}

// New creates the HTTP server. The returned server's hub must be added to
// the event dispatcher as a sink for /ws/events to carry traffic.
func New(
	config *common.ServerConfig,
	logger arbor.ILogger,
	storage interfaces.StorageManager,
	orch *orchestrator.Orchestrator,
	registry *portals.Registry,
) *Server {
	s := &Server{
		config:   config,
		logger:   logger,
		storage:  storage,
		orch:     orch,
		registry: registry,
		hub:      NewHub(logger),
	}

	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// EventSink returns the websocket hub for dispatcher registration
func (s *Server) EventSink() interfaces.EventSink {
	return s.hub
}

// Start blocks serving HTTP until Shutdown
func (s *Server) Start() error {
	s.logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server and disconnects stream clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	s.hub.CloseAll()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
