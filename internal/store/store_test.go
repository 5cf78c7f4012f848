package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesyncd/tunesyncd/internal/pathtemplate"
	"github.com/tunesyncd/tunesyncd/internal/queue"
	"github.com/tunesyncd/tunesyncd/internal/track"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func sampleTracks() []*track.Track {
	return []*track.Track{
		{Artist: "Queen", Title: "Bohemian Rhapsody", Album: "A Night at the Opera", Duration: 354, PlaylistID: "pl1", SpotifyID: "sp1"},
		{Artist: "Nirvana", Title: "Lithium", Album: "Nevermind", Duration: 257, PlaylistID: "pl1", SpotifyID: "sp2"},
	}
}

// TestStore_ConnectionPragmas verifies the DSN applies WAL mode and the
// busy timeout to pool connections.
func TestStore_ConnectionPragmas(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	var journalMode string

	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int

	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)
}

// TestStore_UpsertTracks tests inserting and refreshing catalog rows.
func TestStore_UpsertTracks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertTracks(ctx, sampleTracks()))

	counts, err := s.GetCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Songs)
	assert.Equal(t, 2, counts.Artists)
	assert.Equal(t, 2, counts.Albums)

	row, err := s.GetTrack(ctx, track.IdentityKey("Queen", "Bohemian Rhapsody", 354))
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, track.StatusPending, row.Status)
	assert.Equal(t, track.OriginPlaylist, row.ExpandedFrom)
}

// TestStore_UpsertTracks_Idempotent verifies that re-upserting the same
// batch preserves download state and only refreshes last_seen.
func TestStore_UpsertTracks_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	tracks := sampleTracks()

	require.NoError(t, s.UpsertTracks(ctx, tracks))

	identity := tracks[0].Key()
	require.NoError(t, s.MarkFailure(ctx, identity, "no match"))

	before, err := s.GetTrack(ctx, identity)
	require.NoError(t, err)

	require.NoError(t, s.UpsertTracks(ctx, tracks))

	after, err := s.GetTrack(ctx, identity)
	require.NoError(t, err)

	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.LastError, after.LastError)
	assert.Equal(t, before.RetryAfter, after.RetryAfter)
	assert.Equal(t, before.DownloadAttempts, after.DownloadAttempts)
	assert.GreaterOrEqual(t, after.LastSeen, before.LastSeen)
}

// TestStore_CatalogVersion verifies the version token advances exactly once
// per upsert batch and is strictly increasing.
func TestStore_CatalogVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	initial, err := s.CatalogVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), initial)

	require.NoError(t, s.UpsertTracks(ctx, sampleTracks()))

	first, err := s.CatalogVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, initial+1, first)

	require.NoError(t, s.UpsertTracks(ctx, sampleTracks()))

	second, err := s.CatalogVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
}

// TestStore_MarkSuccess tests the success transition.
func TestStore_MarkSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	tracks := sampleTracks()

	require.NoError(t, s.UpsertTracks(ctx, tracks))

	identity := tracks[0].Key()
	require.NoError(t, s.MarkFailure(ctx, identity, "transient"))
	require.NoError(t, s.MarkSuccess(ctx, identity, "/music/queen.mp3"))

	row, err := s.GetTrack(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, track.StatusDownloaded, row.Status)
	assert.Equal(t, "/music/queen.mp3", row.LocalPath)
	assert.Empty(t, row.LastError)
	assert.Zero(t, row.RetryAfter)
	assert.Zero(t, row.DownloadAttempts)
}

// TestStore_MarkSuccess_UnknownIdentity tests the sentinel error.
func TestStore_MarkSuccess_UnknownIdentity(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	err := s.MarkSuccess(context.Background(), "ghost|row|0", "/nowhere")
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}

// TestRetryDelay tests the backoff schedule: 300, 900, 2700, ... capped at
// 21600 seconds.
func TestRetryDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		attempt  int
		expected int64
	}{
		{attempt: 1, expected: 300},
		{attempt: 2, expected: 900},
		{attempt: 3, expected: 2700},
		{attempt: 4, expected: 8100},
		{attempt: 5, expected: 21600},
		{attempt: 6, expected: 21600},
		{attempt: 0, expected: 300},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, RetryDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

// TestStore_MarkFailure_Backoff verifies consecutive failures grow the
// attempt counter and the retry deferral monotonically.
func TestStore_MarkFailure_Backoff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	tracks := sampleTracks()

	require.NoError(t, s.UpsertTracks(ctx, tracks))

	identity := tracks[0].Key()
	expectedDelays := []int64{300, 900, 2700}

	var lastRetryAfter int64

	for i, expectedDelay := range expectedDelays {
		failedAt := time.Now().Unix()
		require.NoError(t, s.MarkFailure(ctx, identity, "no match"))

		row, err := s.GetTrack(ctx, identity)
		require.NoError(t, err)

		assert.Equal(t, i+1, row.DownloadAttempts)
		assert.Equal(t, track.StatusMissing, row.Status)
		assert.Equal(t, "no match", row.LastError)
		assert.InDelta(t, failedAt+expectedDelay, row.RetryAfter, 2)
		assert.GreaterOrEqual(t, row.RetryAfter, lastRetryAfter)

		lastRetryAfter = row.RetryAfter
	}
}

// TestStore_ReconcilePaths tests disk-driven status transitions.
func TestStore_ReconcilePaths(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	tracks := sampleTracks()

	require.NoError(t, s.UpsertTracks(ctx, tracks))

	dir := t.TempDir()
	existing := filepath.Join(dir, "queen.mp3")
	require.NoError(t, os.WriteFile(existing, []byte("audio"), 0o644))

	first, second := tracks[0].Key(), tracks[1].Key()

	// First row points at a real file, second at a vanished one.
	require.NoError(t, s.MarkSuccess(ctx, first, existing))
	require.NoError(t, s.MarkSuccess(ctx, second, filepath.Join(dir, "gone.mp3")))

	result, err := s.ReconcilePaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Upgraded)
	assert.Equal(t, 1, result.Downgraded)

	row, err := s.GetTrack(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, track.StatusMissing, row.Status)
	// Disk inconsistency is not a download failure.
	assert.Zero(t, row.DownloadAttempts)

	// Deleting the surviving file downgrades it on the next pass.
	require.NoError(t, os.Remove(existing))

	result, err = s.ReconcilePaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Downgraded)
}

// TestStore_ReconcilePaths_Upgrade tests that an appearing file upgrades a
// missing row.
func TestStore_ReconcilePaths_Upgrade(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	tracks := sampleTracks()

	require.NoError(t, s.UpsertTracks(ctx, tracks))

	dir := t.TempDir()
	path := filepath.Join(dir, "late.mp3")
	identity := tracks[0].Key()

	require.NoError(t, s.MarkSuccess(ctx, identity, path))

	_, err := s.ReconcilePaths(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	result, err := s.ReconcilePaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Upgraded)

	row, err := s.GetTrack(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, track.StatusDownloaded, row.Status)
	assert.Empty(t, row.LastError)
	assert.Zero(t, row.RetryAfter)
}

// TestStore_SelectForQueue tests deferral filtering and ordering.
func TestStore_SelectForQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	tracks := sampleTracks()

	require.NoError(t, s.UpsertTracks(ctx, tracks))

	// Pending rows are not selected; only missing ones.
	eligible, err := s.SelectForQueue(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, eligible)

	_, err = s.ReconcilePaths(ctx)
	require.NoError(t, err)

	eligible, err = s.SelectForQueue(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, eligible, 2)

	// A fresh failure defers the row out of the queue.
	require.NoError(t, s.MarkFailure(ctx, tracks[0].Key(), "no match"))

	eligible, err = s.SelectForQueue(ctx, 0)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, tracks[1].Key(), eligible[0].Identity)

	// Clearing retry schedules requeues it.
	cleared, err := s.ClearRetrySchedules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	// Rows that were never deferred do not count as cleared.
	cleared, err = s.ClearRetrySchedules(ctx)
	require.NoError(t, err)
	assert.Zero(t, cleared)

	eligible, err = s.SelectForQueue(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, eligible, 2)
}

// TestStore_SelectForQueue_Limit tests the optional row limit.
func TestStore_SelectForQueue_Limit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertTracks(ctx, sampleTracks()))

	_, err := s.ReconcilePaths(ctx)
	require.NoError(t, err)

	eligible, err := s.SelectForQueue(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, eligible, 1)
}

// TestStore_KV tests the opaque key-value store.
func TestStore_KV(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	value, err := s.GetKV(ctx, KeyStatusSnapshot)
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, s.SetKV(ctx, KeyStatusSnapshot, `{"queue":{}}`))

	value, err = s.GetKV(ctx, KeyStatusSnapshot)
	require.NoError(t, err)
	assert.Equal(t, `{"queue":{}}`, value)
}

// TestStore_FetchCatalogProjections tests the browsing projections.
func TestStore_FetchCatalogProjections(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertTracks(ctx, sampleTracks()))

	songs, err := s.FetchSongs(ctx)
	require.NoError(t, err)
	require.Len(t, songs, 2)
	// Ordered by artist, case-insensitive.
	assert.Equal(t, "Nirvana", songs[0].Artist)

	artists, err := s.FetchArtists(ctx)
	require.NoError(t, err)
	assert.Len(t, artists, 2)

	albums, err := s.FetchAlbums(ctx)
	require.NoError(t, err)
	assert.Len(t, albums, 2)
}

// TestStore_Snapshot tests the persisted status document round trip.
func TestStore_Snapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	// Never saved.
	doc, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, s.UpsertTracks(ctx, sampleTracks()))

	saved := &queue.Document{
		Pending: []queue.Item{{Identity: "id1", Artist: "Queen", Title: "Bohemian Rhapsody"}},
	}
	require.NoError(t, s.SaveSnapshot(ctx, saved))

	doc, err = s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, doc)
	require.Len(t, doc.Pending, 1)
	assert.Equal(t, "id1", doc.Pending[0].Identity)

	// The document carries the counters alongside the queue.
	raw, err := s.GetKV(ctx, KeyStatusSnapshot)
	require.NoError(t, err)
	assert.Contains(t, raw, `"counters"`)
	assert.Contains(t, raw, `"songs":2`)

	// A corrupt snapshot is discarded instead of failing the start.
	require.NoError(t, s.SetKV(ctx, KeyStatusSnapshot, `{"queue": [broken`))

	doc, err = s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

// TestStore_AdoptLibraryFiles tests that template-conforming files on disk
// are attached to missing rows by normalized artist and title.
func TestStore_AdoptLibraryFiles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.UpsertTracks(ctx, sampleTracks()))

	tmpl, err := pathtemplate.Parse(pathtemplate.DefaultTemplate)
	require.NoError(t, err)

	root := t.TempDir()
	path := filepath.Join(root, "Queen", "A Night at the Opera", "Queen - Bohemian Rhapsody.mp3")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0o644))

	adopted, err := s.AdoptLibraryFiles(ctx, root, tmpl)
	require.NoError(t, err)
	assert.Equal(t, 1, adopted)

	// The path check then upgrades the row.
	result, err := s.ReconcilePaths(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Upgraded)

	row, err := s.GetTrack(ctx, sampleTracks()[0].Key())
	require.NoError(t, err)
	assert.Equal(t, track.StatusDownloaded, row.Status)
	assert.Equal(t, path, row.LocalPath)

	// Nothing left to adopt on a second pass.
	adopted, err = s.AdoptLibraryFiles(ctx, root, tmpl)
	require.NoError(t, err)
	assert.Zero(t, adopted)
}
