package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	requestsTotal     *prometheus.CounterVec
	failuresTotal     *prometheus.CounterVec
	transformsTotal   prometheus.Counter
	transformDuration prometheus.Histogram
	coalescedTotal    prometheus.Counter
	conflictsTotal    prometheus.Counter
	artifactBytes     prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelcache_serve_requests_total",
			Help: "Image requests served, by cache outcome.",
		}, []string{"outcome"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelcache_serve_failures_total",
			Help: "Image requests that failed, by error kind.",
		}, []string{"kind"}),
		transformsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelcache_pipeline_runs_total",
			Help: "Transform pipeline executions.",
		}),
		transformDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelcache_pipeline_duration_seconds",
			Help:    "Time spent decoding, transforming and encoding one artifact.",
			Buckets: prometheus.DefBuckets,
		}),
		coalescedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelcache_serve_coalesced_total",
			Help: "Cache misses that joined an in-flight computation for the same key.",
		}),
		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelcache_cache_conflicts_total",
			Help: "Cache puts rejected because different bytes were already stored under the key.",
		}),
		artifactBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelcache_artifact_bytes",
			Help:    "Size of newly computed artifacts.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}

	reg.MustRegister(
		m.requestsTotal,
		m.failuresTotal,
		m.transformsTotal,
		m.transformDuration,
		m.coalescedTotal,
		m.conflictsTotal,
		m.artifactBytes,
	)
	return m
}
