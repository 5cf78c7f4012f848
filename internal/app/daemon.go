package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tunesyncd/tunesyncd/internal/config"
	"github.com/tunesyncd/tunesyncd/internal/logger"
	"github.com/tunesyncd/tunesyncd/internal/server"
)

// snapshotFlushTimeout bounds the final queue snapshot write on shutdown.
const snapshotFlushTimeout = 5 * time.Second

// ExecuteDaemonCommand runs the daemon: scheduler, download worker,
// filesystem watchdog and HTTP control surface, until ctx is cancelled.
func ExecuteDaemonCommand(ctx context.Context, cfg *config.Config) {
	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		logger.Fatalf(ctx, "Failed to initialize daemon: %v", err)
		return
	}

	defer func() { _ = rt.store.Close() }()

	metricsHandler := promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{})
	srv := server.NewServer(rt.service, metricsHandler, cfg.ParsedSyncInterval)

	logger.Infof(ctx, "Starting tunesyncd, sync interval %s", cfg.ParsedSyncInterval)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		rt.service.RunScheduler(groupCtx, cfg.ParsedSyncInterval)
		return nil
	})

	group.Go(func() error {
		rt.worker.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		rt.watchdog.Run(groupCtx)
		return nil
	})

	group.Go(func() error {
		return srv.Run(groupCtx, cfg.ListenAddr)
	})

	err = group.Wait()

	// In-flight downloads are cancelled by now; persist what the queue
	// looked like so the next start resumes cleanly.
	flushCtx, cancel := context.WithTimeout(context.Background(), snapshotFlushTimeout)
	defer cancel()

	rt.service.SnapshotQueue(flushCtx)

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf(ctx, "Daemon terminated: %v", err)
		return
	}

	logger.Info(ctx, "Daemon stopped")
}
