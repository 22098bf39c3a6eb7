package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/models"
	"github.com/ternarybob/quaestor/internal/orchestrator"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/api/runs", s.handleListRuns)
	mux.HandleFunc("/api/runs/", s.handleRunRoutes)    // GET /{id}, POST /{id}/cancel
	mux.HandleFunc("/api/portals", s.handleListPortals)
	mux.HandleFunc("/api/portals/", s.handlePortalRoutes) // POST /{name}/run

	// WebSocket event stream
	mux.HandleFunc("/ws/events", s.hub.HandleWebSocket)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.handleNotFound)

	return mux
}

// handleHealth returns liveness plus version
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": common.GetVersion(),
	})
}

// handleListRuns returns recent runs newest-first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if v > 500 {
			v = 500
		}
		limit = v
	}

	runs, err := s.storage.Runs().ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list runs")
		WriteError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// handleRunRoutes routes /api/runs/{id} and /api/runs/{id}/cancel
func (s *Server) handleRunRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if path == "" {
		s.handleNotFound(w, r)
		return
	}

	// POST /api/runs/{id}/cancel
	if strings.HasSuffix(path, "/cancel") {
		if !RequireMethod(w, r, "POST") {
			return
		}
		runID, ok := parseRunID(w, strings.TrimSuffix(path, "/cancel"))
		if !ok {
			return
		}
		if !s.orch.CancelRun(runID) {
			WriteError(w, http.StatusNotFound, "no active run with that id")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status": "cancelling",
			"run_id": runID,
		})
		return
	}

	// GET /api/runs/{id}
	if !RequireMethod(w, r, "GET") {
		return
	}
	runID, ok := parseRunID(w, path)
	if !ok {
		return
	}
	run, err := s.storage.Runs().GetRun(r.Context(), runID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "run not found")
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// portalStatus is a registry entry plus its live run state
type portalStatus struct {
	*models.Portal
	Running   bool                        `json:"running"`
	ActiveRun *orchestrator.ActiveRunInfo `json:"active_run,omitempty"`
}

// handleListPortals returns the registry merged with active run state
func (s *Server) handleListPortals(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	active := make(map[string]orchestrator.ActiveRunInfo)
	for _, info := range s.orch.ActiveRuns() {
		active[info.PortalName] = info
	}

	all := s.registry.All()
	out := make([]portalStatus, 0, len(all))
	for _, portal := range all {
		status := portalStatus{Portal: portal}
		if info, ok := active[portal.Name]; ok {
			status.Running = true
			run := info
			status.ActiveRun = &run
		}
		out = append(out, status)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"portals": out,
		"count":   len(out),
	})
}

// runRequest is the optional body of POST /api/portals/{name}/run
type runRequest struct {
	Scope string `json:"scope"`
}

// handlePortalRoutes routes POST /api/portals/{name}/run
func (s *Server) handlePortalRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/portals/")
	if !strings.HasSuffix(path, "/run") {
		s.handleNotFound(w, r)
		return
	}
	if !RequireMethod(w, r, "POST") {
		return
	}

	name, err := url.PathUnescape(strings.TrimSuffix(path, "/run"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "malformed portal name")
		return
	}

	portal, err := s.registry.Get(name)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	scope := models.ScopeOnlyNew
	var req runRequest
	if r.Body != nil {
		// An empty body means default scope; anything else must parse.
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil && !errors.Is(decodeErr, io.EOF) {
			WriteError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}
	if req.Scope != "" {
		switch models.ScopeMode(req.Scope) {
		case models.ScopeOnlyNew, models.ScopeFullRescrape:
			scope = models.ScopeMode(req.Scope)
		default:
			WriteError(w, http.StatusBadRequest, "scope must be only_new or full_rescrape")
			return
		}
	}

	if s.orch.IsRunning(portal.Name) {
		WriteError(w, http.StatusConflict, "portal already has a run in progress")
		return
	}

	// The run outlives the HTTP request, so it gets its own context; the
	// orchestrator's Shutdown cancels it.
	p := portal
	common.SafeGo(s.logger, "apiPortalRun", func() {
		if _, err := s.orch.RunPortal(context.Background(), p, scope); err != nil {
			s.logger.Error().Err(err).Str("portal", p.Name).Msg("API-started run failed")
		}
	})

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status": "started",
		"portal": portal.Name,
		"scope":  string(scope),
	})
}

// handleNotFound handles 404 errors with a JSON response
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}

// parseRunID parses the id path segment, writing the error response itself
func parseRunID(w http.ResponseWriter, raw string) (uint64, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		WriteError(w, http.StatusBadRequest, "run id must be a positive integer")
		return 0, false
	}
	return id, true
}
