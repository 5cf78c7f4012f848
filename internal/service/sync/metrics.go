package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the Prometheus instruments exported by the orchestrator.
type Metrics struct {
	// SyncCycles counts finished sync cycles by reason and result.
	SyncCycles *prometheus.CounterVec
	// SyncDuration observes wall time of sync cycles in seconds.
	SyncDuration prometheus.Histogram
	// Downloads counts finished downloads by outcome.
	Downloads *prometheus.CounterVec
	// DownloadDuration observes wall time of downloads in seconds.
	DownloadDuration prometheus.Histogram
	// QueuePending gauges the pending section size.
	QueuePending prometheus.Gauge
	// QueueCurrent gauges the in-flight section size.
	QueueCurrent prometheus.Gauge
	// CatalogDownloaded gauges catalog rows with status downloaded.
	CatalogDownloaded prometheus.Gauge
	// CatalogMissing gauges catalog rows with status missing.
	CatalogMissing prometheus.Gauge
	// ReconcileMoves counts reconciliation status transitions by direction.
	ReconcileMoves *prometheus.CounterVec
}

// NewMetrics registers the orchestrator's instruments on the registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SyncCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tunesyncd_sync_cycles_total",
			Help: "Finished sync cycles by reason and result.",
		}, []string{"reason", "result"}),
		SyncDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tunesyncd_sync_duration_seconds",
			Help:    "Wall time of sync cycles.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		Downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tunesyncd_downloads_total",
			Help: "Finished downloads by outcome.",
		}, []string{"outcome"}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "tunesyncd_download_duration_seconds",
			Help:    "Wall time of downloads.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		QueuePending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tunesyncd_queue_pending",
			Help: "Tracks waiting for a download slot.",
		}),
		QueueCurrent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tunesyncd_queue_current",
			Help: "Tracks downloading right now.",
		}),
		CatalogDownloaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tunesyncd_catalog_downloaded",
			Help: "Catalog rows present on disk.",
		}),
		CatalogMissing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tunesyncd_catalog_missing",
			Help: "Catalog rows absent from disk.",
		}),
		ReconcileMoves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tunesyncd_reconcile_moves_total",
			Help: "Reconciliation status transitions by direction.",
		}, []string{"direction"}),
	}
}
