package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tunesyncd/tunesyncd/internal/client/spotify"
	"github.com/tunesyncd/tunesyncd/internal/client/ytmusic"
	"github.com/tunesyncd/tunesyncd/internal/config"
	"github.com/tunesyncd/tunesyncd/internal/downloader"
	"github.com/tunesyncd/tunesyncd/internal/logger"
	"github.com/tunesyncd/tunesyncd/internal/queue"
	syncservice "github.com/tunesyncd/tunesyncd/internal/service/sync"
	"github.com/tunesyncd/tunesyncd/internal/store"
	"github.com/tunesyncd/tunesyncd/internal/tagger"
)

// runtime holds the fully wired daemon components.
type runtime struct {
	store    *store.Store
	service  *syncservice.Service
	worker   *syncservice.Worker
	watchdog *syncservice.Watchdog
	registry *prometheus.Registry
}

// buildRuntime constructs every component and restores the queue snapshot.
// An unopenable catalog is an unrecoverable initialisation failure.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	st, err := store.NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open catalog store: %w", err)
	}

	settings, err := st.LoadSettings(ctx)
	if err != nil {
		_ = st.Close()

		return nil, fmt.Errorf("load settings: %w", err)
	}

	searcher, err := ytmusic.NewClient(settings.Cookie)
	if err != nil {
		_ = st.Close()

		return nil, fmt.Errorf("build search client: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := syncservice.NewMetrics(registry)

	source := spotify.NewClient(st)
	svc := syncservice.NewService(st, source, queue.NewQueue(), metrics)

	if err = svc.RestoreQueue(ctx); err != nil {
		_ = st.Close()

		return nil, fmt.Errorf("restore queue snapshot: %w", err)
	}

	worker := syncservice.NewWorker(svc, st,
		searcher,
		downloader.NewYtDlpDownloader(downloader.DefaultBinary),
		tagger.NewTagger(),
		cfg.ParsedDownloadTimeout)
	svc.AttachWorker(worker)

	watchdog := syncservice.NewWatchdog(settings.HostPath, func(ctx context.Context) {
		if reconcileErr := svc.ReconcileCatalog(ctx); reconcileErr != nil {
			logger.Errorf(ctx, "Watchdog reconciliation failed: %v", reconcileErr)
		}
	})
	svc.AttachWatchdog(watchdog)

	// Configuration changes re-point the search client's cookie without a
	// restart.
	svc.OnSettingsChanged(func(updated *store.Settings) {
		searcher.SetCookie(updated.Cookie)
	})

	return &runtime{
		store:    st,
		service:  svc,
		worker:   worker,
		watchdog: watchdog,
		registry: registry,
	}, nil
}
