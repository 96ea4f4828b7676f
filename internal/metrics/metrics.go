// Package metrics provides Prometheus instrumentation for the score verifier.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubmissionsTotal counts verification outcomes by result code
	// ("SUCCESS" or an error code).
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_submissions_total",
		Help: "Total score submissions by outcome",
	}, []string{"outcome"})

	// VerificationStates counts state-machine transitions.
	VerificationStates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_verification_state_transitions_total",
		Help: "Verification state machine transitions",
	}, []string{"state"})

	// ReplayDuration tracks replay wall time.
	ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atmx_replay_duration_seconds",
		Help:    "Replay execution time in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	// ReplayTicks tracks simulated ticks per replay.
	ReplayTicks = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atmx_replay_ticks",
		Help:    "Simulated ticks per replay",
		Buckets: prometheus.ExponentialBuckets(300, 2, 8),
	})

	// RejectedActions counts trade actions skipped during replay, by reason.
	RejectedActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_replay_rejected_actions_total",
		Help: "Trade actions rejected against replayed state",
	}, []string{"reason"})

	// ReplayMismatches counts claims that disagreed with the replay.
	ReplayMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_replay_mismatches_total",
		Help: "Submissions whose claimed result disagreed with replay",
	})

	// CommitConflicts counts leaderboard CAS retries.
	CommitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_leaderboard_commit_conflicts_total",
		Help: "Leaderboard compare-and-swap write conflicts",
	})

	// NewHighScores counts commits that improved a stored best.
	NewHighScores = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atmx_leaderboard_new_high_scores_total",
		Help: "Verified submissions that raised a user's best score",
	})

	// SnapshotRuns counts snapshot job runs by result.
	SnapshotRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_snapshot_runs_total",
		Help: "Leaderboard snapshot materializations",
	}, []string{"result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern keeps seasonID/userID out of the label set.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
