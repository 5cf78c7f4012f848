package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tunesyncd/tunesyncd/internal/downloader"
	"github.com/tunesyncd/tunesyncd/internal/logger"
	"github.com/tunesyncd/tunesyncd/internal/pathtemplate"
	"github.com/tunesyncd/tunesyncd/internal/queue"
	"github.com/tunesyncd/tunesyncd/internal/store"
	"github.com/tunesyncd/tunesyncd/internal/tagger"
	"github.com/tunesyncd/tunesyncd/internal/track"
)

// failureSkipLimit is how many queue-head skips the recently-failed set may
// cause before it is cleared unconditionally, forcing re-evaluation.
const failureSkipLimit = 50

// searchLimit is how many candidates the worker considers per track.
const searchLimit = 5

// Worker drains the pending queue: search, match, download, tag, record.
type Worker struct {
	service    *Service
	store      Store
	queue      *queue.Queue
	searcher   CandidateSearcher
	downloader downloader.Downloader
	tagger     tagger.Tagger

	// timeout is the per-download deadline.
	timeout time.Duration

	mu sync.Mutex
	// paused blocks item selection while set.
	paused bool
	// running reports whether the worker loop is alive.
	running bool
	// cancels aborts in-flight downloads, keyed by identity.
	cancels map[string]context.CancelFunc
	// recentlyFailed holds identities that failed since the last catalog
	// re-read, so the head of the queue is not retried in a tight loop.
	recentlyFailed map[string]struct{}
	// failureSkips counts selections skipped by recentlyFailed.
	failureSkips int
}

// NewWorker creates a download worker bound to the service's queue.
func NewWorker(
	service *Service,
	st Store,
	searcher CandidateSearcher,
	dl downloader.Downloader,
	tg tagger.Tagger,
	timeout time.Duration,
) *Worker {
	return &Worker{
		service:        service,
		store:          st,
		queue:          service.Queue(),
		searcher:       searcher,
		downloader:     dl,
		tagger:         tg,
		timeout:        timeout,
		cancels:        make(map[string]context.CancelFunc),
		recentlyFailed: make(map[string]struct{}),
	}
}

// Pause sets the pause signal and cancels in-flight downloads. A cancelled
// download is not a durable failure, the item returns to pending.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.paused = true

	for identity, cancel := range w.cancels {
		logger.Debugf(context.Background(), "Cancelling in-flight download of %s", identity)
		cancel()
	}
}

// Resume clears the pause signal.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.paused = false
}

// Paused reports the pause signal.
func (w *Worker) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.paused
}

// Running reports whether the worker loop is alive.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.running
}

// HasCurrentDownload reports whether a download is in flight.
func (w *Worker) HasCurrentDownload() bool {
	return w.queue.CurrentCount() > 0
}

// ClearRecentFailures empties the recently-failed set.
func (w *Worker) ClearRecentFailures() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.recentlyFailed = make(map[string]struct{})
	w.failureSkips = 0
}

// Run processes queue items until the context is cancelled. Idle and paused
// states are re-checked at pollGranularity.
func (w *Worker) Run(ctx context.Context) {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	logger.Info(ctx, "Download worker started")

	for {
		if ctx.Err() != nil {
			logger.Info(ctx, "Download worker stopped")

			return
		}

		if w.Paused() || !w.processNext(ctx) {
			select {
			case <-ctx.Done():
			case <-time.After(pollGranularity):
			}
		}
	}
}

// processNext advances the queue by one item. It returns false when there
// was nothing eligible to do.
func (w *Worker) processNext(ctx context.Context) bool {
	item, ok := w.queue.MoveToCurrent()
	if !ok {
		return false
	}

	if w.skipRecentlyFailed(ctx, item) {
		return true
	}

	settings, err := w.store.LoadSettings(ctx)
	if err != nil {
		logger.Errorf(ctx, "Failed to load settings: %v", err)
		w.requeueAtHead(item)

		return false
	}

	outcome := w.downloadItem(ctx, item, settings)

	switch outcome {
	case outcomeCancelled:
		// Pause or timeout: no durable failure, back to the head.
		w.requeueAtHead(item)
	default:
		w.queue.Complete(item.Identity, outcome == outcomeSuccess)
	}

	w.service.SnapshotQueue(ctx)

	if err := w.service.ReconcileCatalog(ctx); err != nil {
		logger.Errorf(ctx, "Post-download reconciliation failed: %v", err)
	}

	return true
}

// skipRecentlyFailed bounces an item that failed since the last catalog
// re-read. After failureSkipLimit skips the set is cleared to force
// re-evaluation.
func (w *Worker) skipRecentlyFailed(ctx context.Context, item queue.Item) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, failed := w.recentlyFailed[item.Identity]; !failed {
		return false
	}

	w.failureSkips++
	if w.failureSkips >= failureSkipLimit {
		logger.Debug(ctx, "Recently-failed set cleared after repeated skips")

		w.recentlyFailed = make(map[string]struct{})
		w.failureSkips = 0
	}

	w.queue.Remove(item.Identity)

	return true
}

// requeueAtHead returns a cancelled item to the front of pending.
func (w *Worker) requeueAtHead(item queue.Item) {
	if w.queue.Remove(item.Identity) {
		w.queue.PushFront(item)
	}
}

type downloadOutcome int

const (
	outcomeSuccess downloadOutcome = iota
	outcomeFailure
	outcomeCancelled
)

// downloadItem runs search, match, download and tagging for one item and
// records the result in the catalog.
func (w *Worker) downloadItem(ctx context.Context, item queue.Item, settings *store.Settings) downloadOutcome {
	target := &track.Track{
		Identity: item.Identity,
		Artist:   item.Artist,
		Title:    item.Title,
		Album:    item.Album,
		Duration: item.Duration,
	}

	candidate, err := w.findCandidate(ctx, target, settings)
	if err != nil {
		return w.recordFailure(ctx, item, err.Error())
	}

	tmpl, err := pathtemplate.Parse(settings.PathTemplate)
	if err != nil {
		return w.recordFailure(ctx, item, fmt.Sprintf("invalid path template: %v", err))
	}

	downloadCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	w.registerCancel(item.Identity, cancel)
	defer w.unregisterCancel(item.Identity)

	started := time.Now()

	localPath, err := w.downloader.Download(downloadCtx, &downloader.Request{
		Candidate: candidate,
		Track:     target,
		RootDir:   settings.HostPath,
		Template:  tmpl,
		Format:    settings.Format,
		Bitrate:   settings.Bitrate,
		Cookie:    settings.Cookie,
		OnProgress: func(percent int) {
			w.queue.UpdateProgress(item.Identity, percent)
		},
	})

	w.service.metrics.DownloadDuration.Observe(time.Since(started).Seconds())

	if errors.Is(err, downloader.ErrCancelled) {
		// Covers pause, shutdown and the per-item deadline alike: the
		// catalog row is untouched and the item goes back to the head.
		w.service.metrics.Downloads.WithLabelValues("cancelled").Inc()
		logger.Infof(ctx, "Download of %s - %s cancelled", item.Artist, item.Title)

		return outcomeCancelled
	}

	if err != nil {
		return w.recordFailure(ctx, item, err.Error())
	}

	if err = w.tagger.WriteTags(ctx, localPath, target); err != nil {
		// Tagging is cosmetic, the file is usable without it.
		logger.Warnf(ctx, "Failed to tag %s: %v", localPath, err)
	}

	if err = w.store.MarkSuccess(ctx, item.Identity, localPath); err != nil {
		logger.Errorf(ctx, "Failed to record success for %s: %v", item.Identity, err)
	}

	w.service.metrics.Downloads.WithLabelValues("success").Inc()

	message := fmt.Sprintf("Downloaded %s - %s", item.Artist, item.Title)
	if info, statErr := os.Stat(localPath); statErr == nil {
		message += fmt.Sprintf(" (%s)", humanize.Bytes(uint64(info.Size())))
	}

	w.service.Recent().Info(message)
	logger.Infof(ctx, "Downloaded %s - %s to %s", item.Artist, item.Title, localPath)

	return outcomeSuccess
}

// findCandidate searches the backend and returns the first candidate that
// passes the configured match mode.
func (w *Worker) findCandidate(
	ctx context.Context,
	target *track.Track,
	settings *store.Settings,
) (*track.Candidate, error) {
	query := fmt.Sprintf("%s %s", target.Artist, target.Title)

	candidates, err := w.searcher.Search(ctx, query, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	mode := track.MatchFuzzy
	if settings.UseStrictMatching {
		mode = track.MatchStrict
	}

	for _, candidate := range candidates {
		if track.Matches(candidate, target, mode) {
			return candidate, nil
		}
	}

	return nil, errors.New("no match")
}

// recordFailure marks a durable failure in the catalog and the recent log.
func (w *Worker) recordFailure(ctx context.Context, item queue.Item, reason string) downloadOutcome {
	if err := w.store.MarkFailure(ctx, item.Identity, reason); err != nil {
		logger.Errorf(ctx, "Failed to record failure for %s: %v", item.Identity, err)
	}

	w.mu.Lock()
	w.recentlyFailed[item.Identity] = struct{}{}
	w.mu.Unlock()

	w.service.metrics.Downloads.WithLabelValues("failure").Inc()
	w.service.Recent().Error(fmt.Sprintf("Failed %s - %s: %s", item.Artist, item.Title, reason))
	logger.Warnf(ctx, "Download of %s - %s failed: %s", item.Artist, item.Title, reason)

	return outcomeFailure
}

func (w *Worker) registerCancel(identity string, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cancels[identity] = cancel
}

func (w *Worker) unregisterCancel(identity string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.cancels, identity)
}
