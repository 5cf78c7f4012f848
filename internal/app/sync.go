package app

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/tunesyncd/tunesyncd/internal/config"
	"github.com/tunesyncd/tunesyncd/internal/logger"
	"github.com/tunesyncd/tunesyncd/internal/queue"
	"github.com/tunesyncd/tunesyncd/internal/track"
)

// drainPollInterval is how often the foreground sync re-reads the queue
// while the worker drains it.
const drainPollInterval = 200 * time.Millisecond

// ExecuteSyncCommand runs a single sync cycle in the foreground and drains
// the resulting download queue with a progress bar, then exits.
func ExecuteSyncCommand(ctx context.Context, cfg *config.Config) {
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		logger.Fatalf(ctx, "Failed to initialize: %v", err)
		return
	}

	defer func() { _ = rt.store.Close() }()

	if !rt.service.RunOnce(ctx, "manual") {
		logger.Fatal(ctx, "Another sync cycle is already running")
		return
	}

	doc := rt.service.Queue().Snapshot()

	total := len(doc.Pending)
	if total == 0 {
		logger.Info(ctx, "Library is up to date, nothing to download")
		return
	}

	logger.Infof(ctx, "Downloading %d tracks", total)

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Downloading"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	go rt.worker.Run(workerCtx)

	finished := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(drainPollInterval):
		}

		doc = rt.service.Queue().Snapshot()

		done := total - len(doc.Pending) - len(doc.Current)
		if done > finished {
			_ = bar.Add(done - finished)
			finished = done
		}

		if len(doc.Pending) == 0 && len(doc.Current) == 0 {
			break
		}
	}

	_ = bar.Finish()
	stopWorker()

	printSyncSummary(ctx, doc.Completed)
}

// printSyncSummary reports the per-outcome totals of the drained queue.
func printSyncSummary(ctx context.Context, completed []queue.CompletedItem) {
	var succeeded, failed int

	for _, item := range completed {
		if item.Status == track.StatusDownloaded {
			succeeded++
		} else {
			failed++
		}
	}

	logger.Info(ctx, fmt.Sprintf("Sync finished: %d downloaded, %d failed", succeeded, failed))
}
