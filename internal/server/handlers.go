package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tunesyncd/tunesyncd/internal/client/spotify"
	"github.com/tunesyncd/tunesyncd/internal/logger"
	"github.com/tunesyncd/tunesyncd/internal/queue"
	syncservice "github.com/tunesyncd/tunesyncd/internal/service/sync"
	"github.com/tunesyncd/tunesyncd/internal/track"
	"github.com/tunesyncd/tunesyncd/internal/version"
)

// Queue pagination bounds.
const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// scheduleInfo describes the periodic sync schedule.
type scheduleInfo struct {
	// Running reports whether a sync cycle is in flight right now.
	Running bool `json:"running"`
	// IntervalSeconds is the configured sync interval.
	IntervalSeconds int `json:"interval_seconds"`
	// NextSyncEpoch is the next scheduled run as a unix timestamp, zero
	// before the scheduler has armed its timer.
	NextSyncEpoch int64 `json:"next_sync_epoch,omitempty"`
}

// queueTotals summarises the live queue per section.
type queueTotals struct {
	Pending   int `json:"pending"`
	Current   int `json:"current"`
	Completed int `json:"completed"`
}

// statusResponse is the aggregate daemon state for the status endpoint.
type statusResponse struct {
	Missing     int                 `json:"missing"`
	Downloading int                 `json:"downloading"`
	Downloaded  int                 `json:"downloaded"`
	Songs       int                 `json:"songs"`
	Artists     int                 `json:"artists"`
	Albums      int                 `json:"albums"`
	Recent      []syncservice.Event `json:"recent"`
	Queue       queueTotals         `json:"queue"`
	Schedule    scheduleInfo        `json:"schedule"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := s.service.Counts(ctx)
	if err != nil {
		logger.Errorf(ctx, "Status query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "catalog unavailable")

		return
	}

	doc := s.service.Queue().Snapshot()
	busy, _ := s.service.SyncBusy()

	resp := statusResponse{
		Missing:     counts.Missing,
		Downloading: len(doc.Current),
		Downloaded:  counts.Downloaded,
		Songs:       counts.Songs,
		Artists:     counts.Artists,
		Albums:      counts.Albums,
		Recent:      s.service.Recent().Snapshot(),
		Queue: queueTotals{
			Pending:   len(doc.Pending),
			Current:   len(doc.Current),
			Completed: len(doc.Completed),
		},
		Schedule: scheduleInfo{
			Running:         busy,
			IntervalSeconds: int(s.syncInterval.Seconds()),
		},
	}

	if next := s.service.NextScheduledRun(); !next.IsZero() {
		resp.Schedule.NextSyncEpoch = next.Unix()
	}

	if resp.Recent == nil {
		resp.Recent = []syncservice.Event{}
	}

	writeJSON(w, http.StatusOK, resp)
}

// queueSection is one paginated queue section.
type queueSection struct {
	Items []queue.Item `json:"items"`
	Total int          `json:"total"`
}

// completedSection adds the outcome breakdown to the completed section.
type completedSection struct {
	Items     []queue.CompletedItem `json:"items"`
	Total     int                   `json:"total"`
	Succeeded int                   `json:"succeeded"`
	Failed    int                   `json:"failed"`
}

// queueResponse is the paginated projection of the live queue.
type queueResponse struct {
	Page      int              `json:"page"`
	PageSize  int              `json:"page_size"`
	Pending   queueSection     `json:"pending"`
	Current   queueSection     `json:"current"`
	Completed completedSection `json:"completed"`
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}

	pageSize := queryInt(r, "page_size", defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}

	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	doc := s.service.Queue().Snapshot()

	resp := queueResponse{
		Page:     page,
		PageSize: pageSize,
		Pending: queueSection{
			Items: paginate(doc.Pending, page, pageSize),
			Total: len(doc.Pending),
		},
		Current: queueSection{
			Items: paginate(doc.Current, page, pageSize),
			Total: len(doc.Current),
		},
		Completed: completedSection{
			Items: paginate(doc.Completed, page, pageSize),
			Total: len(doc.Completed),
		},
	}

	for _, item := range doc.Completed {
		if item.Status == track.StatusDownloaded {
			resp.Completed.Succeeded++
		} else {
			resp.Completed.Failed++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	started := s.service.RunOnce(r.Context(), "manual")

	writeJSON(w, http.StatusOK, map[string]bool{"started": started})
}

func (s *Server) handlePauseDownloads(w http.ResponseWriter, _ *http.Request) {
	if worker := s.service.Worker(); worker != nil {
		worker.Pause()
	}

	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleResumeDownloads(w http.ResponseWriter, _ *http.Request) {
	if worker := s.service.Worker(); worker != nil {
		worker.Resume()
	}

	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

// downloadStatusResponse reports the worker's control state.
type downloadStatusResponse struct {
	WorkerRunning      bool `json:"worker_running"`
	Paused             bool `json:"paused"`
	HasCurrentDownload bool `json:"has_current_download"`
}

func (s *Server) handleDownloadStatus(w http.ResponseWriter, _ *http.Request) {
	var resp downloadStatusResponse

	if worker := s.service.Worker(); worker != nil {
		resp.WorkerRunning = worker.Running()
		resp.Paused = worker.Paused()
		resp.HasCurrentDownload = worker.HasCurrentDownload()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResetQueue(w http.ResponseWriter, r *http.Request) {
	moved := s.service.ResetQueue(r.Context())

	writeJSON(w, http.StatusOK, map[string]int{"reset": moved})
}

func (s *Server) handleResetErrors(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.service.ResetErrors(r.Context())
	if err != nil {
		logger.Errorf(r.Context(), "Reset errors failed: %v", err)
		writeError(w, http.StatusInternalServerError, "catalog unavailable")

		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := s.service.LoadSettings(r.Context())
	if err != nil {
		logger.Errorf(r.Context(), "Config read failed: %v", err)
		writeError(w, http.StatusInternalServerError, "settings unavailable")

		return
	}

	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Decode over the current settings so a partial body only changes the
	// keys it names.
	settings, err := s.service.LoadSettings(ctx)
	if err != nil {
		logger.Errorf(ctx, "Config read failed: %v", err)
		writeError(w, http.StatusInternalServerError, "settings unavailable")

		return
	}

	if err = json.NewDecoder(r.Body).Decode(settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())

		return
	}

	if err = settings.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())

		return
	}

	if err = s.service.ApplySettings(ctx, settings); err != nil {
		logger.Errorf(ctx, "Config write failed: %v", err)
		writeError(w, http.StatusInternalServerError, "settings update failed")

		return
	}

	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	catalog := s.service.Catalog()

	var (
		payload any
		err     error
	)

	switch projection := chi.URLParam(r, "projection"); projection {
	case "songs":
		payload, err = catalog.Songs(ctx)
	case "artists":
		payload, err = catalog.Artists(ctx)
	case "albums":
		payload, err = catalog.Albums(ctx)
	default:
		writeError(w, http.StatusNotFound, "unknown catalog projection: "+projection)

		return
	}

	if err != nil {
		logger.Errorf(ctx, "Catalog query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "catalog unavailable")

		return
	}

	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handlePlaylists(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	playlists, err := s.service.Playlists(ctx)

	switch {
	case errors.Is(err, spotify.ErrNotAuthenticated) || errors.Is(err, spotify.ErrAuthExpired):
		writeError(w, http.StatusUnauthorized, "not authenticated")

		return
	case err != nil:
		logger.Errorf(ctx, "Playlist fetch failed: %v", err)
		writeError(w, http.StatusBadGateway, "playlist provider unavailable")

		return
	}

	if playlists == nil {
		playlists = []*spotify.Playlist{}
	}

	writeJSON(w, http.StatusOK, playlists)
}

// appStateResponse is the coarse daemon state used by UI bootstrapping.
type appStateResponse struct {
	Version       string `json:"version"`
	Authenticated bool   `json:"authenticated"`
	Configured    bool   `json:"configured"`
	SyncBusy      bool   `json:"sync_busy"`
	WorkerRunning bool   `json:"worker_running"`
}

func (s *Server) handleAppState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	settings, err := s.service.LoadSettings(ctx)
	if err != nil {
		logger.Errorf(ctx, "App state query failed: %v", err)
		writeError(w, http.StatusInternalServerError, "settings unavailable")

		return
	}

	busy, _ := s.service.SyncBusy()

	resp := appStateResponse{
		Version:       version.Short(),
		Authenticated: s.service.Authenticated(ctx),
		Configured:    settings.Configured(),
		SyncBusy:      busy,
	}

	if worker := s.service.Worker(); worker != nil {
		resp.WorkerRunning = worker.Running()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{
		"authenticated": s.service.Authenticated(r.Context()),
	})
}

// queryInt reads an integer query parameter, falling back on absence or a
// malformed value.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return value
}

// paginate returns the page'th slice of size pageSize, never nil.
func paginate[T any](items []T, page, pageSize int) []T {
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}

	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}

	return items[start:end]
}
