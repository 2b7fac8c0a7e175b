package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	responseBytes     *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	uploadsTotal      prometheus.Counter
}

func newMetrics(registry *prometheus.Registry) *metrics {
	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelcache_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status", "cache"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelcache_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		responseBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelcache_api_response_bytes",
			Help:    "Response body size in bytes.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 9),
		}, []string{"route"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelcache_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelcache_queue_warm_enqueued_total",
			Help: "Total warm requests enqueued.",
		}, []string{"queue"}),
		uploadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelcache_api_uploads_total",
			Help: "Total source images uploaded.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.responseBytes,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.uploadsTotal,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := strconv.Itoa(recorder.status)
		cache := strings.ToLower(recorder.Header().Get(headerCache))

		m.requestTotal.WithLabelValues(r.Method, route, status, cache).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.responseBytes.WithLabelValues(route).Observe(float64(recorder.bytes))
	})
}

// routeLabel collapses request paths into the registered patterns so image
// names never become label values.
func routeLabel(path string) string {
	switch {
	case path == "/healthz", path == "/metrics", path == "/images":
		return path
	case strings.HasPrefix(path, "/images/") && strings.HasSuffix(path, "/warm"):
		return "/images/{name}/warm"
	case strings.HasPrefix(path, "/images/"):
		return "/images/{name}"
	default:
		return "other"
	}
}
