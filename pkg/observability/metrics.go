package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Webhook ingestion metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Synchronization pass metrics
	SyncPassesTotal    *prometheus.CounterVec
	SyncPassDuration   *prometheus.HistogramVec
	SyncReprocessTotal prometheus.Counter
	QueueDepth         prometheus.Gauge

	// Permission grant metrics
	GrantsTotal       prometheus.Counter
	GrantSkippedTotal prometheus.Counter
	GrantErrorsTotal  prometheus.Counter

	// Entity gateway metrics
	EntuRequestsTotal   *prometheus.CounterVec
	EntuRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permsync_http_requests_total",
				Help: "Total HTTP requests by method, path and status code",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permsync_http_request_duration_seconds",
				Help:    "HTTP request duration by method and path",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permsync_webhook_events_total",
				Help: "Webhook calls by endpoint and outcome (accepted, coalesced, unauthorized, bad_request, rate_limited, failed)",
			},
			[]string{"endpoint", "outcome"},
		),

		SyncPassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permsync_sync_passes_total",
				Help: "Synchronization passes by entity kind and result",
			},
			[]string{"kind", "result"},
		),
		SyncPassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permsync_sync_pass_duration_seconds",
				Help:    "Synchronization pass duration by entity kind",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		SyncReprocessTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permsync_sync_reprocess_total",
				Help: "Reprocess passes triggered by webhooks arriving mid-pass",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "permsync_queue_depth",
				Help: "Entity ids currently tracked by the processing queue",
			},
		),

		GrantsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permsync_grants_total",
				Help: "Permission grants written to the CMS",
			},
		),
		GrantSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permsync_grants_skipped_total",
				Help: "Grant pairs skipped because the permission already existed",
			},
		),
		GrantErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "permsync_grant_errors_total",
				Help: "Grant pairs that failed to write",
			},
		),

		EntuRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "permsync_entu_requests_total",
				Help: "Entity gateway requests by operation and status code",
			},
			[]string{"operation", "status"},
		),
		EntuRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "permsync_entu_request_duration_seconds",
				Help:    "Entity gateway request duration by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebhookEventsTotal,
		m.SyncPassesTotal,
		m.SyncPassDuration,
		m.SyncReprocessTotal,
		m.QueueDepth,
		m.GrantsTotal,
		m.GrantSkippedTotal,
		m.GrantErrorsTotal,
		m.EntuRequestsTotal,
		m.EntuRequestDuration,
	)

	return m
}

// Handler returns the /metrics scrape handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEntuRequest records one entity gateway call. Status 0 means the
// request never got a response (transport failure).
func (m *Metrics) ObserveEntuRequest(operation string, status int, duration time.Duration) {
	m.EntuRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.EntuRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveSyncPass records one synchronization pass
func (m *Metrics) ObserveSyncPass(kind, result string, duration time.Duration) {
	m.SyncPassesTotal.WithLabelValues(kind, result).Inc()
	m.SyncPassDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// statusRecorder captures the response status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware instruments handlers with request count and duration metrics.
// The path label uses the route template, not the raw URL, to bound cardinality;
// callers pass the matched route pattern.
func (m *Metrics) HTTPMiddleware(routePattern func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r)

			path := routePattern(r)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(recorder.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}
