package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolcms_http_requests_total",
			Help: "Total admin API requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schoolcms_http_request_duration_seconds",
			Help:    "Admin API request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	jobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolcms_job_runs_total",
			Help: "Lifecycle job runs by job and outcome",
		},
		[]string{"job", "status"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "schoolcms_job_duration_seconds",
			Help:    "Lifecycle job run time",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"job"},
	)

	jobLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "schoolcms_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job",
		},
		[]string{"job"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolcms_content_transitions_total",
			Help: "Content state transitions performed by lifecycle jobs",
		},
		[]string{"job", "transition"},
	)

	notificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolcms_notifications_created_total",
			Help: "Admin notifications created by type",
		},
		[]string{"type"},
	)

	alertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolcms_alerts_suppressed_total",
			Help: "Alerts skipped because they already fired within the dedup window",
		},
		[]string{"type"},
	)

	relayResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolcms_relay_results_total",
			Help: "Notification relay attempts by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	triggersReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schoolcms_job_triggers_total",
			Help: "Ad hoc job triggers by source",
		},
		[]string{"source", "job"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "schoolcms_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "schoolcms_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordJobRun records one job run. err == nil counts as success.
func RecordJobRun(job string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	} else {
		jobLastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
	jobRunsTotal.WithLabelValues(job, status).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordTransition counts a content state change
func RecordTransition(job, transition string) {
	transitionsTotal.WithLabelValues(job, transition).Inc()
}

// RecordNotificationCreated counts a written notification
func RecordNotificationCreated(typ string) {
	notificationsCreated.WithLabelValues(typ).Inc()
}

// RecordAlertSuppressed counts an alert the dedup ledger held back
func RecordAlertSuppressed(typ string) {
	alertsSuppressed.WithLabelValues(typ).Inc()
}

// RecordRelay records a relay attempt on one channel
func RecordRelay(channel string, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
	}
	relayResults.WithLabelValues(channel, status).Inc()
}

// RecordTrigger counts an ad hoc run request (api, sqs, cli)
func RecordTrigger(source, job string) {
	triggersReceived.WithLabelValues(source, job).Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
