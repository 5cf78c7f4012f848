// Package store provides SQLite persistence for the sync daemon: the track
// catalog with retry schedules, the runtime settings table, and a small
// key-value store used for the queue snapshot and the catalog version token.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO).

	"github.com/tunesyncd/tunesyncd/internal/pathtemplate"
	"github.com/tunesyncd/tunesyncd/internal/track"
)

// Retry backoff policy for failed downloads: 5 minutes after the first
// failure, tripling per failure, capped at 6 hours.
const (
	retryBaseDelay   = 300
	retryDelayFactor = 3
	retryMaxDelay    = 21600
)

// Key-value keys used by the daemon.
const (
	// KeyCatalogVersion holds the monotonic catalog version token.
	KeyCatalogVersion = "catalog_version"
	// KeyStatusSnapshot holds the persisted queue/status document.
	KeyStatusSnapshot = "status_snapshot"
)

// Static error definitions for better error handling.
var (
	// ErrEmptyIdentity indicates a catalog write with no identity key.
	ErrEmptyIdentity = errors.New("track identity cannot be empty")
	// ErrUnknownIdentity indicates a catalog mutation for a row that does not exist.
	ErrUnknownIdentity = errors.New("unknown track identity")
)

// Store wraps the SQLite database backing the catalog.
type Store struct {
	db *sql.DB
}

// ReconcileResult reports how many rows each reconciliation direction moved.
type ReconcileResult struct {
	// Upgraded counts rows promoted to downloaded because the file exists.
	Upgraded int
	// Downgraded counts rows demoted to missing because the file is gone.
	Downgraded int
}

// Counts aggregates the catalog for the status endpoint.
type Counts struct {
	Songs      int `json:"songs"`
	Artists    int `json:"artists"`
	Albums     int `json:"albums"`
	Downloaded int `json:"downloaded"`
	Missing    int `json:"missing"`
}

// NewStore opens (creating if needed) the catalog database and runs
// migrations. WAL mode with a busy timeout keeps concurrent readers and the
// single writer from tripping over each other.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// modernc.org/sqlite takes pragmas as _pragma=name(value) pairs, which
	// apply to every connection in the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)",
		dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err = s.migrate(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT
	);

	CREATE TABLE IF NOT EXISTS kvstore (
		key TEXT PRIMARY KEY,
		value TEXT
	);

	CREATE TABLE IF NOT EXISTS tracks (
		identity TEXT PRIMARY KEY,
		artist TEXT NOT NULL,
		title TEXT NOT NULL,
		album TEXT NOT NULL DEFAULT '',
		duration INTEGER NOT NULL,
		playlist_id TEXT,
		spotify_id TEXT,
		expanded_from TEXT NOT NULL DEFAULT 'playlist',
		status TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'downloaded', 'missing')),
		local_path TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		retry_after INTEGER,
		download_attempts INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_tracks_status ON tracks(status);
	CREATE INDEX IF NOT EXISTS idx_tracks_retry ON tracks(retry_after);
	`

	_, err := s.db.Exec(schema)

	return err
}

// SetSetting stores a runtime setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)

	return err
}

// GetSetting reads a runtime setting; missing keys return an empty string.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string

	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	return value, err
}

// SetKV stores an opaque key-value document.
func (s *Store) SetKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kvstore(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)

	return err
}

// GetKV reads an opaque key-value document; missing keys return "".
func (s *Store) GetKV(ctx context.Context, key string) (string, error) {
	var value string

	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM kvstore WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	return value, err
}

// UpsertTracks inserts or refreshes catalog rows by identity. Download state
// (status, local path, last error, retry schedule, attempt counter) is
// preserved on conflict; provenance fields and last_seen are refreshed. The
// catalog version token advances exactly once per batch.
func (s *Store) UpsertTracks(ctx context.Context, tracks []*track.Track) error {
	if len(tracks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracks (identity, artist, title, album, duration,
			playlist_id, spotify_id, expanded_from, status, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT(identity) DO UPDATE SET
			artist = excluded.artist,
			title = excluded.title,
			album = excluded.album,
			duration = excluded.duration,
			playlist_id = excluded.playlist_id,
			spotify_id = excluded.spotify_id,
			expanded_from = excluded.expanded_from,
			last_seen = excluded.last_seen`)
	if err != nil {
		return err
	}

	defer func() { _ = stmt.Close() }()

	now := time.Now().Unix()

	for _, t := range tracks {
		identity := t.Key()
		if identity == "" || t.Artist == "" && t.Title == "" {
			continue
		}

		origin := t.ExpandedFrom
		if origin == "" {
			origin = track.OriginPlaylist
		}

		_, err = stmt.ExecContext(ctx,
			identity, t.Artist, t.Title, t.Album, t.Duration,
			t.PlaylistID, t.SpotifyID, string(origin), now)
		if err != nil {
			return err
		}
	}

	if err = advanceCatalogVersion(ctx, tx); err != nil {
		return err
	}

	return tx.Commit()
}

// advanceCatalogVersion bumps the strictly increasing catalog version token.
func advanceCatalogVersion(ctx context.Context, tx *sql.Tx) error {
	var raw sql.NullString

	err := tx.QueryRowContext(ctx,
		"SELECT value FROM kvstore WHERE key = ?", KeyCatalogVersion).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	version := int64(0)
	if raw.Valid {
		version, _ = strconv.ParseInt(raw.String, 10, 64)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kvstore(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		KeyCatalogVersion, strconv.FormatInt(version+1, 10))

	return err
}

// CatalogVersion returns the current catalog version token (0 when unset).
func (s *Store) CatalogVersion(ctx context.Context) (int64, error) {
	raw, err := s.GetKV(ctx, KeyCatalogVersion)
	if err != nil || raw == "" {
		return 0, err
	}

	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse catalog version: %w", err)
	}

	return version, nil
}

// MarkSuccess records a completed download: the row becomes downloaded, the
// retry schedule and error are cleared, and the attempt counter resets.
func (s *Store) MarkSuccess(ctx context.Context, identity, localPath string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE tracks
		SET status = 'downloaded', local_path = ?, last_error = '',
			retry_after = NULL, download_attempts = 0, last_seen = ?
		WHERE identity = ?`,
		localPath, time.Now().Unix(), identity)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownIdentity, identity)
	}

	return nil
}

// MarkFailure records a durable download failure: the attempt counter grows,
// the row becomes missing, and the next retry is scheduled with exponential
// backoff.
func (s *Store) MarkFailure(ctx context.Context, identity, reason string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = tx.Rollback() }()

	var attempts int

	err = tx.QueryRowContext(ctx,
		"SELECT download_attempts FROM tracks WHERE identity = ?", identity).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownIdentity, identity)
	}

	if err != nil {
		return err
	}

	attempts++
	retryAfter := time.Now().Unix() + RetryDelay(attempts)

	_, err = tx.ExecContext(ctx, `
		UPDATE tracks
		SET status = 'missing', last_error = ?, retry_after = ?, download_attempts = ?
		WHERE identity = ?`,
		reason, retryAfter, attempts, identity)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// RetryDelay returns the backoff delay, in seconds, after the given failed
// attempt (1-based).
func RetryDelay(attempt int) int64 {
	if attempt < 1 {
		attempt = 1
	}

	delay := int64(retryBaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= retryDelayFactor
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}

	if delay > retryMaxDelay {
		return retryMaxDelay
	}

	return delay
}

// ReconcilePaths forces every row's status to match filesystem ground truth:
// an existing file upgrades the row to downloaded, a vanished file downgrades
// it to missing. Attempt counters are left untouched so disk churn does not
// count as download failures.
func (s *Store) ReconcilePaths(ctx context.Context) (*ReconcileResult, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT identity, local_path, status FROM tracks")
	if err != nil {
		return nil, err
	}

	type rowState struct {
		identity  string
		localPath string
		status    string
	}

	var states []rowState

	for rows.Next() {
		var r rowState
		if err = rows.Scan(&r.identity, &r.localPath, &r.status); err != nil {
			_ = rows.Close()

			return nil, err
		}

		states = append(states, r)
	}

	_ = rows.Close()

	if err = rows.Err(); err != nil {
		return nil, err
	}

	result := new(ReconcileResult)
	now := time.Now().Unix()

	for _, r := range states {
		exists := r.localPath != "" && fileExists(r.localPath)

		switch {
		case exists && r.status != string(track.StatusDownloaded):
			_, err = s.db.ExecContext(ctx, `
				UPDATE tracks
				SET status = 'downloaded', last_error = '', retry_after = NULL, last_seen = ?
				WHERE identity = ?`,
				now, r.identity)
			if err != nil {
				return nil, err
			}

			result.Upgraded++
		case !exists && r.status != string(track.StatusMissing):
			_, err = s.db.ExecContext(ctx,
				"UPDATE tracks SET status = 'missing' WHERE identity = ?", r.identity)
			if err != nil {
				return nil, err
			}

			result.Downgraded++
		}
	}

	return result, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}

// AdoptLibraryFiles scans the music root for files that fit the path
// template and points catalog rows without a usable local path at them, so
// the next reconciliation upgrades tracks that appeared out of band (a
// manual copy, another tool). Matching is by normalized artist and title;
// the duration cannot be recovered from a path.
func (s *Store) AdoptLibraryFiles(ctx context.Context, root string, tmpl *pathtemplate.Template) (int, error) {
	entries, err := pathtemplate.ScanLibrary(root, tmpl)
	if err != nil {
		return 0, err
	}

	if len(entries) == 0 {
		return 0, nil
	}

	byName := make(map[string]string, len(entries))

	for _, entry := range entries {
		key := track.Normalize(entry.Fields.Artist) + "|" + track.Normalize(entry.Fields.Title)
		if _, ok := byName[key]; !ok {
			byName[key] = filepath.Join(root, filepath.FromSlash(entry.RelPath))
		}
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT identity, artist, title, local_path FROM tracks WHERE status != 'downloaded'")
	if err != nil {
		return 0, err
	}

	type candidateRow struct {
		identity  string
		artist    string
		title     string
		localPath string
	}

	var candidates []candidateRow

	for rows.Next() {
		var r candidateRow
		if err = rows.Scan(&r.identity, &r.artist, &r.title, &r.localPath); err != nil {
			_ = rows.Close()

			return 0, err
		}

		candidates = append(candidates, r)
	}

	_ = rows.Close()

	if err = rows.Err(); err != nil {
		return 0, err
	}

	adopted := 0

	for _, r := range candidates {
		if r.localPath != "" && fileExists(r.localPath) {
			continue
		}

		key := track.Normalize(r.artist) + "|" + track.Normalize(r.title)

		path, ok := byName[key]
		if !ok {
			continue
		}

		_, err = s.db.ExecContext(ctx,
			"UPDATE tracks SET local_path = ? WHERE identity = ?", path, r.identity)
		if err != nil {
			return adopted, err
		}

		adopted++
	}

	return adopted, nil
}

// SelectForQueue returns missing rows whose retry deferral has expired,
// oldest first. A non-positive limit returns all eligible rows.
func (s *Store) SelectForQueue(ctx context.Context, limit int) ([]*track.Track, error) {
	query := `
		SELECT identity, artist, title, album, duration
		FROM tracks
		WHERE status = 'missing' AND (retry_after IS NULL OR retry_after <= ?)
		ORDER BY last_seen ASC`

	args := []any{time.Now().Unix()}

	if limit > 0 {
		query += " LIMIT ?"

		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	defer func() { _ = rows.Close() }()

	var tracks []*track.Track

	for rows.Next() {
		t := new(track.Track)
		if err = rows.Scan(&t.Identity, &t.Artist, &t.Title, &t.Album, &t.Duration); err != nil {
			return nil, err
		}

		tracks = append(tracks, t)
	}

	return tracks, rows.Err()
}

// GetTrack loads a full catalog row by identity, or nil when absent.
func (s *Store) GetTrack(ctx context.Context, identity string) (*track.Track, error) {
	t := new(track.Track)

	var (
		retryAfter sql.NullInt64
		origin     string
		status     string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT identity, artist, title, album, duration, playlist_id, spotify_id,
			expanded_from, status, local_path, last_error, retry_after,
			download_attempts, last_seen
		FROM tracks WHERE identity = ?`, identity).Scan(
		&t.Identity, &t.Artist, &t.Title, &t.Album, &t.Duration,
		&t.PlaylistID, &t.SpotifyID, &origin, &status, &t.LocalPath,
		&t.LastError, &retryAfter, &t.DownloadAttempts, &t.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	t.ExpandedFrom = track.Origin(origin)
	t.Status = track.Status(status)

	if retryAfter.Valid {
		t.RetryAfter = retryAfter.Int64
	}

	return t, nil
}

// ClearRetrySchedules removes all retry deferrals so failed rows become
// immediately eligible for the queue again.
func (s *Store) ClearRetrySchedules(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tracks SET retry_after = NULL WHERE status = 'missing' AND retry_after IS NOT NULL")
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()

	return int(affected), err
}

// GetCounts aggregates the catalog for the status endpoint.
func (s *Store) GetCounts(ctx context.Context) (*Counts, error) {
	counts := new(Counts)

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT artist),
			COUNT(DISTINCT CASE WHEN album != '' THEN album END),
			COUNT(CASE WHEN status = 'downloaded' THEN 1 END),
			COUNT(CASE WHEN status = 'missing' THEN 1 END)
		FROM tracks`).Scan(
		&counts.Songs, &counts.Artists, &counts.Albums,
		&counts.Downloaded, &counts.Missing)
	if err != nil {
		return nil, err
	}

	return counts, nil
}
