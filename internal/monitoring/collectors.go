package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type collectors struct {
	apiLatency          *prometheus.HistogramVec
	cacheLookups        *prometheus.CounterVec
	registryRequests    *prometheus.CounterVec
	registryLatency     *prometheus.HistogramVec
	gatewayFetches      *prometheus.CounterVec
	uploads             *prometheus.CounterVec
	uploadBytes         *prometheus.CounterVec
	syncItems           *prometheus.CounterVec
	resubmissions       *prometheus.CounterVec
	migrationItems      *prometheus.CounterVec
	maintenanceRuns     *prometheus.CounterVec
	maintenanceDuration *prometheus.HistogramVec
	maintenanceLastRun  *prometheus.GaugeVec
}

func newCollectors(namespace string) *collectors {
	buckets := prometheus.DefBuckets
	jobBuckets := []float64{
		0.1, 0.5, 1, 5, 15, 30, 60, // seconds
		120, 300, 600, // minutes
		1800, 3600,
	}

	return &collectors{
		apiLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_latency_seconds",
				Help:      "API endpoint latency",
				Buckets:   buckets,
			},
			[]string{"method", "path", "status"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_cache_lookups_total",
				Help:      "Catalog cache reads grouped by how they were served",
			},
			[]string{"result"},
		),
		registryRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registry_requests_total",
				Help:      "Ledger registry reads by operation and result",
			},
			[]string{"operation", "result"},
		),
		registryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "registry_latency_seconds",
				Help:      "Ledger registry read latency including retries",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		gatewayFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_fetches_total",
				Help:      "Content gateway fetch attempts by provider, gateway and result",
			},
			[]string{"provider", "gateway", "result"},
		),
		uploads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "content_uploads_total",
				Help:      "Content uploads by provider and result",
			},
			[]string{"provider", "result"},
		),
		uploadBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "content_upload_bytes_total",
				Help:      "Bytes acknowledged by storage backends",
			},
			[]string{"provider"},
		),
		syncItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_sync_items_total",
				Help:      "Catalog entries processed by the synchronizer",
			},
			[]string{"result"},
		),
		resubmissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resubmissions_total",
				Help:      "Ephemeral content resubmissions by result",
			},
			[]string{"result"},
		),
		migrationItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "migration_items_total",
				Help:      "Items processed by provider migrations",
			},
			[]string{"source", "destination", "outcome"},
		),
		maintenanceRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_runs_total",
				Help:      "Background job executions",
			},
			[]string{"job", "result"},
		),
		maintenanceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Background job duration",
				Buckets:   jobBuckets,
			},
			[]string{"job"},
		),
		maintenanceLastRun: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "job_last_success_timestamp",
				Help:      "Timestamp of the last successful job run (seconds since epoch)",
			},
			[]string{"job"},
		),
	}
}

func (c *collectors) all() []prometheus.Collector {
	return []prometheus.Collector{
		c.apiLatency,
		c.cacheLookups,
		c.registryRequests,
		c.registryLatency,
		c.gatewayFetches,
		c.uploads,
		c.uploadBytes,
		c.syncItems,
		c.resubmissions,
		c.migrationItems,
		c.maintenanceRuns,
		c.maintenanceDuration,
		c.maintenanceLastRun,
	}
}

// observeDuration records a duration in seconds on the supplied histogram observer.
func observeDuration(observer prometheus.Observer, d time.Duration) {
	if observer == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	observer.Observe(d.Seconds())
}
