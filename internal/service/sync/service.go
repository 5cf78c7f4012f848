// Package sync implements the sync and download orchestrator: the sync
// cycle that pulls playlists into the catalog, the scheduler that repeats
// it, the download worker that drains the queue, and the filesystem
// watchdog that keeps catalog and disk consistent.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tunesyncd/tunesyncd/internal/client/spotify"
	"github.com/tunesyncd/tunesyncd/internal/logger"
	"github.com/tunesyncd/tunesyncd/internal/pathtemplate"
	"github.com/tunesyncd/tunesyncd/internal/queue"
	"github.com/tunesyncd/tunesyncd/internal/store"
	"github.com/tunesyncd/tunesyncd/internal/track"
)

// TrackSource is the playlist provider capability the sync cycle needs.
type TrackSource interface {
	// Authenticated reports whether usable credentials are stored.
	Authenticated(ctx context.Context) bool
	// FetchUserPlaylists retrieves the user's playlists for selection.
	FetchUserPlaylists(ctx context.Context) ([]*spotify.Playlist, error)
	// FetchPlaylistTracks retrieves every track of the specified playlist.
	FetchPlaylistTracks(ctx context.Context, playlistID string) ([]*spotify.PlaylistTrack, error)
	// ExpandArtist retrieves the artist's top tracks.
	ExpandArtist(ctx context.Context, artistID string) ([]*spotify.PlaylistTrack, error)
	// ExpandAlbum retrieves the album's full track list.
	ExpandAlbum(ctx context.Context, albumID string) ([]*spotify.PlaylistTrack, error)
}

// CandidateSearcher is the search capability the download worker needs.
type CandidateSearcher interface {
	// Search returns up to limit candidates for the query, best match first.
	Search(ctx context.Context, query string, limit int) ([]*track.Candidate, error)
}

// Store is the catalog persistence the orchestrator needs. Implemented by
// the store package.
type Store interface {
	queue.SnapshotStore

	LoadSettings(ctx context.Context) (*store.Settings, error)
	SaveSettings(ctx context.Context, cfg *store.Settings) error
	UpsertTracks(ctx context.Context, tracks []*track.Track) error
	MarkSuccess(ctx context.Context, identity, localPath string) error
	MarkFailure(ctx context.Context, identity, reason string) error
	ReconcilePaths(ctx context.Context) (*store.ReconcileResult, error)
	AdoptLibraryFiles(ctx context.Context, root string, tmpl *pathtemplate.Template) (int, error)
	SelectForQueue(ctx context.Context, limit int) ([]*track.Track, error)
	ClearRetrySchedules(ctx context.Context) (int, error)
	GetCounts(ctx context.Context) (*store.Counts, error)
	FetchSongs(ctx context.Context) ([]*store.CatalogSong, error)
	FetchArtists(ctx context.Context) ([]*store.CatalogArtist, error)
	FetchAlbums(ctx context.Context) ([]*store.CatalogAlbum, error)
}

// expansionCap bounds artist and album expansion per sync cycle so a huge
// playlist cannot stall the cycle on thousands of lookups.
const expansionCap = 100

// Service is the orchestrator. It owns the live queue, the sync lock, the
// recent log and the background tasks.
type Service struct {
	store    Store
	source   TrackSource
	queue    *queue.Queue
	lock     *SingleFlightLock
	recent   *RecentLog
	metrics  *Metrics
	worker   *Worker
	watchdog *Watchdog
	catalog  *CatalogCache

	// resetTimer rearms the scheduler after a successful manual sync.
	resetTimer chan struct{}

	// settingsHooks run after a successful settings update.
	settingsHooks []func(*store.Settings)

	schedule scheduleState
}

// NewService wires the orchestrator. The worker and watchdog are attached
// separately because they need the service's reconcile callback.
func NewService(st Store, source TrackSource, liveQueue *queue.Queue, metrics *Metrics) *Service {
	s := &Service{
		store:      st,
		source:     source,
		queue:      liveQueue,
		lock:       NewSingleFlightLock(),
		recent:     NewRecentLog(),
		metrics:    metrics,
		resetTimer: make(chan struct{}, 1),
	}
	s.catalog = NewCatalogCache(st)

	return s
}

// AttachWorker registers the download worker.
func (s *Service) AttachWorker(worker *Worker) {
	s.worker = worker
}

// AttachWatchdog registers the filesystem watchdog.
func (s *Service) AttachWatchdog(watchdog *Watchdog) {
	s.watchdog = watchdog
}

// Queue returns the live queue.
func (s *Service) Queue() *queue.Queue {
	return s.queue
}

// Recent returns the recent event log.
func (s *Service) Recent() *RecentLog {
	return s.recent
}

// Catalog returns the cached catalog projections.
func (s *Service) Catalog() *CatalogCache {
	return s.catalog
}

// Worker returns the attached download worker, nil before AttachWorker.
func (s *Service) Worker() *Worker {
	return s.worker
}

// Authenticated reports whether the playlist provider has usable
// credentials.
func (s *Service) Authenticated(ctx context.Context) bool {
	return s.source.Authenticated(ctx)
}

// Playlists returns the provider's playlists, so the user can pick which
// ones to sync.
func (s *Service) Playlists(ctx context.Context) ([]*spotify.Playlist, error) {
	return s.source.FetchUserPlaylists(ctx)
}

// Counts returns the catalog aggregates.
func (s *Service) Counts(ctx context.Context) (*store.Counts, error) {
	return s.store.GetCounts(ctx)
}

// SyncBusy reports whether a sync cycle is running, and since when.
func (s *Service) SyncBusy() (bool, time.Time) {
	return s.lock.Busy()
}

// RunOnce executes one sync cycle under the single-flight lock. It returns
// false immediately when another cycle holds the lock. A successful manual
// run rearms the scheduler's timer.
func (s *Service) RunOnce(ctx context.Context, reason string) bool {
	if !s.lock.TryAcquire() {
		logger.Debugf(ctx, "Sync (%s) skipped, another cycle is running", reason)

		return false
	}

	defer s.lock.Release()

	cycleID := uuid.NewString()
	ctx = logger.ToContext(ctx, logger.Logger().With("sync_cycle", cycleID, "reason", reason))

	started := time.Now()
	result := s.runCycle(ctx)

	s.metrics.SyncCycles.WithLabelValues(reason, result).Inc()
	s.metrics.SyncDuration.Observe(time.Since(started).Seconds())

	if reason == "manual" && result == "ok" {
		// Slide the next scheduled tick a full interval forward.
		select {
		case s.resetTimer <- struct{}{}:
		default:
		}
	}

	return true
}

// runCycle is the body of one sync cycle. It returns a result label for
// metrics: ok, auth, error or unconfigured.
func (s *Service) runCycle(ctx context.Context) string {
	settings, err := s.store.LoadSettings(ctx)
	if err != nil {
		logger.Errorf(ctx, "Failed to load settings: %v", err)

		return "error"
	}

	if !settings.Configured() {
		logger.Info(ctx, "Sync skipped, daemon is not configured yet")

		return "unconfigured"
	}

	tracks, err := s.fetchRemoteTracks(ctx, settings)

	switch {
	case errors.Is(err, spotify.ErrAuthExpired) || errors.Is(err, spotify.ErrNotAuthenticated):
		// Abort cleanly without touching the catalog.
		s.recent.Warning("Sync aborted: authentication expired, please re-authenticate")
		logger.Warnf(ctx, "Sync aborted: %v", err)

		return "auth"
	case err != nil:
		s.recent.Error(fmt.Sprintf("Sync failed: %v", err))
		logger.Errorf(ctx, "Sync failed: %v", err)

		return "error"
	}

	if len(tracks) > 0 {
		if err = s.store.UpsertTracks(ctx, tracks); err != nil {
			s.recent.Error(fmt.Sprintf("Catalog update failed: %v", err))
			logger.Errorf(ctx, "Catalog update failed: %v", err)

			return "error"
		}
	}

	if err = s.ReconcileCatalog(ctx); err != nil {
		logger.Errorf(ctx, "Reconciliation failed: %v", err)

		return "error"
	}

	s.recent.Info(fmt.Sprintf("Sync finished: %d tracks in catalog scope", len(tracks)))
	logger.Infof(ctx, "Sync cycle finished with %d tracks", len(tracks))

	return "ok"
}

// fetchRemoteTracks pulls every selected playlist and applies its expansion
// strategy. A forbidden playlist is skipped; an auth failure aborts.
func (s *Service) fetchRemoteTracks(ctx context.Context, settings *store.Settings) ([]*track.Track, error) {
	var (
		result    []*track.Track
		seen      = make(map[string]struct{})
		artistIDs = make(map[string]struct{})
		albumIDs  = make(map[string]struct{})
	)

	appendTrack := func(remote *spotify.PlaylistTrack, playlistID string, origin track.Origin) {
		row := &track.Track{
			Identity:     track.IdentityKey(remote.Artist, remote.Title, remote.DurationSeconds),
			Artist:       remote.Artist,
			Title:        remote.Title,
			Album:        remote.Album,
			Duration:     remote.DurationSeconds,
			PlaylistID:   playlistID,
			SpotifyID:    remote.ID,
			ExpandedFrom: origin,
		}

		if row.Artist == "" || row.Title == "" {
			return
		}

		if _, dup := seen[row.Identity]; dup {
			return
		}

		seen[row.Identity] = struct{}{}
		result = append(result, row)
	}

	for playlistID, strategy := range settings.SelectedPlaylists {
		remoteTracks, err := s.source.FetchPlaylistTracks(ctx, playlistID)
		if errors.Is(err, spotify.ErrForbidden) || errors.Is(err, spotify.ErrPlaylistNotFound) {
			s.recent.Warning(fmt.Sprintf("Playlist %s is not accessible, skipped", playlistID))
			logger.Warnf(ctx, "Playlist %s skipped: %v", playlistID, err)

			continue
		}

		if err != nil {
			return nil, err
		}

		for _, remote := range remoteTracks {
			if strategy.Song {
				appendTrack(remote, playlistID, track.OriginPlaylist)
			}

			if strategy.Artist && remote.ArtistID != "" && len(artistIDs) < expansionCap {
				artistIDs[remote.ArtistID] = struct{}{}
			}

			if strategy.Album && remote.AlbumID != "" && len(albumIDs) < expansionCap {
				albumIDs[remote.AlbumID] = struct{}{}
			}
		}
	}

	for artistID := range artistIDs {
		expanded, err := s.source.ExpandArtist(ctx, artistID)
		if err != nil {
			if isSkippableExpansionError(err) {
				logger.Warnf(ctx, "Artist %s expansion skipped: %v", artistID, err)

				continue
			}

			return nil, err
		}

		for _, remote := range expanded {
			appendTrack(remote, "", track.OriginArtist)
		}
	}

	for albumID := range albumIDs {
		expanded, err := s.source.ExpandAlbum(ctx, albumID)
		if err != nil {
			if isSkippableExpansionError(err) {
				logger.Warnf(ctx, "Album %s expansion skipped: %v", albumID, err)

				continue
			}

			return nil, err
		}

		for _, remote := range expanded {
			appendTrack(remote, "", track.OriginAlbum)
		}
	}

	return result, nil
}

// isSkippableExpansionError reports whether an expansion failure should be
// skipped instead of aborting the cycle. Auth failures always abort.
func isSkippableExpansionError(err error) bool {
	return !errors.Is(err, spotify.ErrAuthExpired) && !errors.Is(err, spotify.ErrNotAuthenticated)
}

// ReconcileCatalog reconciles disk against the catalog, refreshes the
// counters, rebuilds the pending queue and snapshots it.
func (s *Service) ReconcileCatalog(ctx context.Context) error {
	s.adoptLibraryFiles(ctx)

	result, err := s.store.ReconcilePaths(ctx)
	if err != nil {
		return fmt.Errorf("disk reconciliation failed: %w", err)
	}

	if result.Upgraded > 0 || result.Downgraded > 0 {
		s.metrics.ReconcileMoves.WithLabelValues("upgraded").Add(float64(result.Upgraded))
		s.metrics.ReconcileMoves.WithLabelValues("downgraded").Add(float64(result.Downgraded))
		logger.Infof(ctx, "Reconciliation moved %d rows to downloaded, %d to missing",
			result.Upgraded, result.Downgraded)
	}

	counts, err := s.store.GetCounts(ctx)
	if err != nil {
		return err
	}

	s.metrics.CatalogDownloaded.Set(float64(counts.Downloaded))
	s.metrics.CatalogMissing.Set(float64(counts.Missing))

	eligible, err := s.store.SelectForQueue(ctx, 0)
	if err != nil {
		return err
	}

	items := make([]queue.Item, 0, len(eligible))
	for _, row := range eligible {
		items = append(items, queue.FromTrack(row))
	}

	s.queue.SetPending(items)

	doc := s.queue.Snapshot()
	s.metrics.QueuePending.Set(float64(len(doc.Pending)))
	s.metrics.QueueCurrent.Set(float64(len(doc.Current)))

	if err = s.store.SaveSnapshot(ctx, doc); err != nil {
		logger.Errorf(ctx, "Failed to persist queue snapshot: %v", err)
	}

	s.catalog.Invalidate()

	return nil
}

// adoptLibraryFiles scans the music root for template-conforming files and
// attaches them to missing catalog rows before the path check runs. Scan
// failures only cost the adoption, the reconciliation still proceeds.
func (s *Service) adoptLibraryFiles(ctx context.Context) {
	settings, err := s.store.LoadSettings(ctx)
	if err != nil || settings.HostPath == "" {
		return
	}

	tmpl, err := pathtemplate.Parse(settings.PathTemplate)
	if err != nil {
		return
	}

	adopted, err := s.store.AdoptLibraryFiles(ctx, settings.HostPath, tmpl)
	if err != nil {
		logger.Warnf(ctx, "Library scan failed: %v", err)

		return
	}

	if adopted > 0 {
		logger.Infof(ctx, "Adopted %d files found in the library", adopted)
	}
}

// SnapshotQueue persists the current queue document.
func (s *Service) SnapshotQueue(ctx context.Context) {
	doc := s.queue.Snapshot()
	s.metrics.QueuePending.Set(float64(len(doc.Pending)))
	s.metrics.QueueCurrent.Set(float64(len(doc.Current)))

	if err := s.store.SaveSnapshot(ctx, doc); err != nil {
		logger.Errorf(ctx, "Failed to persist queue snapshot: %v", err)
	}
}

// RestoreQueue rebuilds the live queue from the persisted snapshot at
// process start. Items left in current by a previous process go back to
// pending.
func (s *Service) RestoreQueue(ctx context.Context) error {
	doc, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}

	s.queue.Restore(doc)

	return nil
}

// OnSettingsChanged registers a hook invoked after every successful
// settings update, e.g. to re-point the search client's cookie.
func (s *Service) OnSettingsChanged(hook func(*store.Settings)) {
	s.settingsHooks = append(s.settingsHooks, hook)
}

// LoadSettings returns the persisted runtime settings.
func (s *Service) LoadSettings(ctx context.Context) (*store.Settings, error) {
	return s.store.LoadSettings(ctx)
}

// ApplySettings validates and persists new runtime settings, re-points the
// watchdog when the music root changed and runs the registered hooks.
func (s *Service) ApplySettings(ctx context.Context, settings *store.Settings) error {
	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return err
	}

	if s.watchdog != nil {
		s.watchdog.SetRoot(settings.HostPath)
	}

	for _, hook := range s.settingsHooks {
		hook(settings)
	}

	s.recent.Info("Configuration updated")
	logger.Info(ctx, "Runtime settings updated")

	return nil
}

// ResetQueue moves every in-flight item to completed with a missing status.
// Stale recovery for wedged downloads.
func (s *Service) ResetQueue(ctx context.Context) int {
	moved := s.queue.ResetCurrent()
	if moved > 0 {
		s.recent.Warning(fmt.Sprintf("Reset %d stale downloads", moved))
	}

	s.SnapshotQueue(ctx)

	return moved
}

// ResetErrors clears retry deferrals so failed tracks become eligible again,
// then rebuilds the queue.
func (s *Service) ResetErrors(ctx context.Context) (int, error) {
	cleared, err := s.store.ClearRetrySchedules(ctx)
	if err != nil {
		return 0, err
	}

	if s.worker != nil {
		s.worker.ClearRecentFailures()
	}

	if err = s.ReconcileCatalog(ctx); err != nil {
		return cleared, err
	}

	s.recent.Info(fmt.Sprintf("Cleared %d retry schedules", cleared))

	return cleared, nil
}
