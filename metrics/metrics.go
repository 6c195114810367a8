// Package metrics provides Prometheus metrics for the collaboration server.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collab_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Connection and session metrics
	connectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_websocket_connections_active",
			Help: "Number of open websocket connections",
		},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_sessions_active",
			Help: "Number of workspaces with a running event loop",
		},
	)

	participantsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_participants_active",
			Help: "Number of participants joined to any workspace",
		},
	)

	sessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_sessions_evicted_total",
			Help: "Total number of idle workspaces evicted from memory",
		},
	)

	peersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_peers_dropped_total",
			Help: "Total number of participants disconnected for not draining notifications",
		},
	)

	// Event metrics
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_events_total",
			Help: "Total number of workspace events applied, by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_notifications_total",
			Help: "Total number of notifications sent to peers",
		},
		[]string{"method", "status"},
	)

	// Storage and export metrics
	snapshotOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_snapshot_operations_total",
			Help: "Total number of snapshot load/save operations",
		},
		[]string{"operation", "status"},
	)

	exportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_exports_total",
			Help: "Total number of workspace archive exports",
		},
		[]string{"destination", "status"},
	)

	authAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func ConnectionOpened() { connectionsActive.Inc() }
func ConnectionClosed() { connectionsActive.Dec() }

func SetSessionsActive(count int) {
	sessionsActive.Set(float64(count))
}

func ParticipantJoined() { participantsActive.Inc() }
func ParticipantLeft()   { participantsActive.Dec() }

func RecordSessionEvicted() {
	sessionsEvicted.Inc()
}

func RecordPeerDropped() {
	peersDropped.Inc()
}

// RecordEvent counts an applied event. outcome is "applied" or "ignored".
func RecordEvent(kind, outcome string) {
	eventsTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordNotification(method string, success bool) {
	notificationsTotal.WithLabelValues(method, status(success)).Inc()
}

func RecordSnapshotOperation(operation string, success bool) {
	snapshotOperations.WithLabelValues(operation, status(success)).Inc()
}

func RecordExport(destination string, success bool) {
	exportsTotal.WithLabelValues(destination, status(success)).Inc()
}

func RecordAuthAttempt(success bool) {
	if success {
		authAttempts.WithLabelValues("success").Inc()
	} else {
		authAttempts.WithLabelValues("failure").Inc()
	}
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// Paths are labelled by the matched route pattern to bound cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
