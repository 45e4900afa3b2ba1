package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	archivesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionvault_archives_created_total",
		Help: "Number of sessions archived",
	})
	archivesRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionvault_archives_retrieved_total",
		Help: "Number of archive payload retrievals",
	})
	archivedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionvault_archived_bytes_total",
		Help: "Total sealed blob bytes written to the object store",
	})
	integrityFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionvault_integrity_failures_total",
		Help: "Checksum or authentication failures on retrieval",
	})

	sweepRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionvault_sweep_runs_total",
		Help: "Completed retention sweep runs",
	})
	sweepDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionvault_sweep_deleted_total",
		Help: "Archives deleted by the retention sweep",
	})
	sweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionvault_sweep_failures_total",
		Help: "Archives the retention sweep failed to delete",
	})
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sessionvault_sweep_duration_seconds",
		Help:    "Retention sweep run duration",
		Buckets: prometheus.DefBuckets,
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionvault_metadata_cache_hits_total",
		Help: "Archive metadata cache hits",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessionvault_metadata_cache_misses_total",
		Help: "Archive metadata cache misses",
	})
)
