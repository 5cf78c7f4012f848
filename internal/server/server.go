// Package server implements the local HTTP control surface: status and
// queue projections, sync and worker controls, configuration and catalog
// browsing. The surface is read-only unless a route says otherwise and
// never returns a 5xx unless the request itself cannot be served.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tunesyncd/tunesyncd/internal/logger"
	syncservice "github.com/tunesyncd/tunesyncd/internal/service/sync"
)

// Server timeouts. The surface is local and queries are cheap, so the
// bounds are tight.
const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server is the HTTP control surface over the orchestrator.
type Server struct {
	service      *syncservice.Service
	metrics      http.Handler
	syncInterval time.Duration
	router       chi.Router
}

// NewServer builds the control surface. The metrics handler serves the
// prometheus registry and may be nil to disable the route.
func NewServer(service *syncservice.Service, metrics http.Handler, syncInterval time.Duration) *Server {
	s := &Server{
		service:      service,
		metrics:      metrics,
		syncInterval: syncInterval,
	}

	r := chi.NewRouter()

	r.Get("/status", s.handleStatus)
	r.Get("/queue", s.handleQueue)
	r.Post("/sync-now", s.handleSyncNow)
	r.Post("/pause-downloads", s.handlePauseDownloads)
	r.Post("/resume-downloads", s.handleResumeDownloads)
	r.Get("/download-status", s.handleDownloadStatus)
	r.Post("/reset-queue", s.handleResetQueue)
	r.Post("/reset-errors", s.handleResetErrors)
	r.Get("/config", s.handleGetConfig)
	r.Post("/config", s.handleSetConfig)
	r.Get("/catalog/{projection}", s.handleCatalog)
	r.Get("/playlists", s.handlePlaylists)
	r.Get("/app/state", s.handleAppState)
	r.Get("/auth/status", s.handleAuthStatus)

	if metrics != nil {
		r.Get("/metrics", metrics.ServeHTTP)
	}

	s.router = r

	return s
}

// Handler returns the routed HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves the control surface on addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Infof(ctx, "Control surface listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// writeJSON encodes v as the response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorf(context.Background(), "Failed to encode response: %v", err)
	}
}

// writeError reports a request failure as {"error": message}.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
