package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunesyncd/tunesyncd/internal/downloader"
	"github.com/tunesyncd/tunesyncd/internal/queue"
	"github.com/tunesyncd/tunesyncd/internal/store"
	"github.com/tunesyncd/tunesyncd/internal/track"
)

// fakeSearcher returns canned candidates.
type fakeSearcher struct {
	candidates []*track.Candidate
	err        error
}

func (f *fakeSearcher) Search(context.Context, string, int) ([]*track.Candidate, error) {
	return f.candidates, f.err
}

// fakeDownloader writes a file into the root and reports progress.
type fakeDownloader struct {
	err   error
	block bool
}

func (f *fakeDownloader) Download(ctx context.Context, req *downloader.Request) (string, error) {
	if f.block {
		<-ctx.Done()

		return "", fmt.Errorf("%w: %w", downloader.ErrCancelled, ctx.Err())
	}

	if f.err != nil {
		return "", f.err
	}

	if req.OnProgress != nil {
		req.OnProgress(50)
	}

	path := filepath.Join(req.RootDir, req.Track.Artist+" - "+req.Track.Title+"."+req.Format)
	if err := os.WriteFile(path, []byte("audio"), 0o644); err != nil {
		return "", err
	}

	return path, nil
}

// fakeTagger records calls without touching the file.
type fakeTagger struct {
	tagged []string
}

func (f *fakeTagger) WriteTags(_ context.Context, path string, _ *track.Track) error {
	f.tagged = append(f.tagged, path)

	return nil
}

type workerFixture struct {
	svc      *Service
	store    *store.Store
	worker   *Worker
	hostPath string
	identity string
}

func newWorkerFixture(t *testing.T, searcher CandidateSearcher, dl downloader.Downloader) *workerFixture {
	t.Helper()

	return newWorkerFixtureTimeout(t, searcher, dl, 5*time.Second)
}

func newWorkerFixtureTimeout(
	t *testing.T,
	searcher CandidateSearcher,
	dl downloader.Downloader,
	timeout time.Duration,
) *workerFixture {
	t.Helper()

	hostPath := t.TempDir()

	svc, st := newTestService(t, &fakeSource{})
	configureService(t, st, hostPath)

	worker := NewWorker(svc, st, searcher, dl, &fakeTagger{}, timeout)
	svc.AttachWorker(worker)

	ctx := context.Background()
	target := &track.Track{
		Identity: track.IdentityKey("Queen", "Bohemian Rhapsody", 354),
		Artist:   "Queen",
		Title:    "Bohemian Rhapsody",
		Album:    "A Night at the Opera",
		Duration: 354,
	}
	require.NoError(t, st.UpsertTracks(ctx, []*track.Track{target}))

	_, err := st.ReconcilePaths(ctx)
	require.NoError(t, err)

	svc.Queue().SetPending([]queue.Item{queue.FromTrack(target)})

	return &workerFixture{
		svc:      svc,
		store:    st,
		worker:   worker,
		hostPath: hostPath,
		identity: target.Identity,
	}
}

func matchingCandidate() *track.Candidate {
	return &track.Candidate{
		Artist:   "Queen",
		Title:    "Bohemian Rhapsody",
		Duration: 354,
		URL:      "https://music.example.com/watch?v=abc",
	}
}

// TestWorker_ProcessNext_Success tests the happy path end to end.
func TestWorker_ProcessNext_Success(t *testing.T) {
	t.Parallel()

	fx := newWorkerFixture(t,
		&fakeSearcher{candidates: []*track.Candidate{matchingCandidate()}},
		&fakeDownloader{})

	require.True(t, fx.worker.processNext(context.Background()))

	row, err := fx.store.GetTrack(context.Background(), fx.identity)
	require.NoError(t, err)
	assert.Equal(t, track.StatusDownloaded, row.Status)
	assert.NotEmpty(t, row.LocalPath)
	assert.Zero(t, row.DownloadAttempts)

	doc := fx.svc.Queue().Snapshot()
	assert.Empty(t, doc.Current)
	require.Len(t, doc.Completed, 1)
	assert.Equal(t, track.StatusDownloaded, doc.Completed[0].Status)

	events := fx.svc.Recent().Snapshot()
	require.NotEmpty(t, events)
	assert.Contains(t, events[0].Message, "Downloaded Queen - Bohemian Rhapsody")
}

// TestWorker_ProcessNext_NoMatch tests the durable candidate-miss failure.
func TestWorker_ProcessNext_NoMatch(t *testing.T) {
	t.Parallel()

	// The only candidate is a different song.
	wrong := &track.Candidate{Artist: "Queen", Title: "Radio Ga Ga", Duration: 348, URL: "u"}

	fx := newWorkerFixture(t,
		&fakeSearcher{candidates: []*track.Candidate{wrong}},
		&fakeDownloader{})

	require.True(t, fx.worker.processNext(context.Background()))

	row, err := fx.store.GetTrack(context.Background(), fx.identity)
	require.NoError(t, err)
	assert.Equal(t, track.StatusMissing, row.Status)
	assert.Equal(t, 1, row.DownloadAttempts)
	assert.Contains(t, row.LastError, "no match")
	assert.Positive(t, row.RetryAfter)

	doc := fx.svc.Queue().Snapshot()
	require.Len(t, doc.Completed, 1)
	assert.Equal(t, track.StatusMissing, doc.Completed[0].Status)
}

// TestWorker_ProcessNext_Cancelled verifies that a cancelled download is
// not a durable failure and returns to the head of pending.
func TestWorker_ProcessNext_Cancelled(t *testing.T) {
	t.Parallel()

	fx := newWorkerFixture(t,
		&fakeSearcher{candidates: []*track.Candidate{matchingCandidate()}},
		&fakeDownloader{err: fmt.Errorf("%w: paused", downloader.ErrCancelled)})

	require.True(t, fx.worker.processNext(context.Background()))

	row, err := fx.store.GetTrack(context.Background(), fx.identity)
	require.NoError(t, err)
	assert.Zero(t, row.DownloadAttempts, "cancellation carries no backoff penalty")
	assert.Zero(t, row.RetryAfter)

	doc := fx.svc.Queue().Snapshot()
	assert.Empty(t, doc.Completed, "cancelled items record no outcome")

	// Note: the post-download reconcile rebuilds pending from the catalog,
	// where the row is still eligible.
	require.NotEmpty(t, doc.Pending)
	assert.Equal(t, fx.identity, doc.Pending[0].Identity)
}

// TestWorker_ProcessNext_Timeout verifies that a download exceeding the
// per-item deadline is treated like any other cancellation: no catalog
// mutation, no backoff penalty, the item returns to the head of pending.
func TestWorker_ProcessNext_Timeout(t *testing.T) {
	t.Parallel()

	fx := newWorkerFixtureTimeout(t,
		&fakeSearcher{candidates: []*track.Candidate{matchingCandidate()}},
		&fakeDownloader{block: true},
		50*time.Millisecond)

	require.True(t, fx.worker.processNext(context.Background()))

	row, err := fx.store.GetTrack(context.Background(), fx.identity)
	require.NoError(t, err)
	assert.Zero(t, row.DownloadAttempts, "a timed-out download is not a durable failure")
	assert.Zero(t, row.RetryAfter)
	assert.Empty(t, row.LastError)

	doc := fx.svc.Queue().Snapshot()
	assert.Empty(t, doc.Completed, "timed-out items record no outcome")
	require.NotEmpty(t, doc.Pending)
	assert.Equal(t, fx.identity, doc.Pending[0].Identity)
}

// TestWorker_PauseCancelsInFlight verifies that pausing mid-download aborts the
// transfer and the item becomes retriable immediately.
func TestWorker_PauseCancelsInFlight(t *testing.T) {
	t.Parallel()

	fx := newWorkerFixture(t,
		&fakeSearcher{candidates: []*track.Candidate{matchingCandidate()}},
		&fakeDownloader{block: true})

	done := make(chan struct{})

	go func() {
		fx.worker.processNext(context.Background())
		close(done)
	}()

	// Wait for the download to be in flight, then pause.
	require.Eventually(t, func() bool {
		fx.worker.mu.Lock()
		defer fx.worker.mu.Unlock()

		return len(fx.worker.cancels) > 0
	}, 2*time.Second, 10*time.Millisecond)

	fx.worker.Pause()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pause did not cancel the in-flight download")
	}

	assert.True(t, fx.worker.Paused())

	row, err := fx.store.GetTrack(context.Background(), fx.identity)
	require.NoError(t, err)
	assert.Zero(t, row.DownloadAttempts)

	fx.worker.Resume()
	assert.False(t, fx.worker.Paused())
}

// TestWorker_SkipRecentlyFailed tests the in-process failure suppression.
func TestWorker_SkipRecentlyFailed(t *testing.T) {
	t.Parallel()

	fx := newWorkerFixture(t,
		&fakeSearcher{err: fmt.Errorf("backend down")},
		&fakeDownloader{})

	ctx := context.Background()

	// First pass fails durably and remembers the identity.
	require.True(t, fx.worker.processNext(ctx))

	row, err := fx.store.GetTrack(ctx, fx.identity)
	require.NoError(t, err)
	assert.Equal(t, 1, row.DownloadAttempts)

	// Requeue the same identity and process again: it is skipped without
	// another attempt.
	fx.svc.Queue().SetPending([]queue.Item{{Identity: fx.identity, Artist: "Queen", Title: "Bohemian Rhapsody"}})
	require.True(t, fx.worker.processNext(ctx))

	row, err = fx.store.GetTrack(ctx, fx.identity)
	require.NoError(t, err)
	assert.Equal(t, 1, row.DownloadAttempts, "skipped items are not retried")

	// Clearing the set makes it eligible again.
	fx.worker.ClearRecentFailures()

	fx.svc.Queue().SetPending([]queue.Item{{Identity: fx.identity, Artist: "Queen", Title: "Bohemian Rhapsody"}})
	require.True(t, fx.worker.processNext(ctx))

	row, err = fx.store.GetTrack(ctx, fx.identity)
	require.NoError(t, err)
	assert.Equal(t, 2, row.DownloadAttempts)
}

// TestWorker_RunStopsOnCancel tests stop-signal observation.
func TestWorker_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	fx := newWorkerFixture(t, &fakeSearcher{}, &fakeDownloader{})

	// Drain pending so the loop idles.
	fx.svc.Queue().SetPending(nil)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		fx.worker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, fx.worker.Running, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop within the poll granularity")
	}

	assert.False(t, fx.worker.Running())
}
