// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gamereview/apiserver/internal/apperrors"
)

var (
	reviewMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerev_review_mutations_total",
			Help: "Review mutations by operation and outcome",
		},
		[]string{"op", "result"},
	)

	authFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerev_auth_failures_total",
			Help: "Rejected credentials by reason",
		},
		[]string{"reason"},
	)

	storeAbortsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamerev_store_aborts_total",
			Help: "Transactions rolled back because of contention, timeout or cancellation",
		},
	)

	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerev_review_events_published_total",
			Help: "Review events handed to the message broker by outcome",
		},
		[]string{"result"},
	)

	eventsArchivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerev_review_events_archived_total",
			Help: "Review events written to object storage by outcome",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamerev_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamerev_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Operation labels for review mutations.
const (
	OpCreate        = "create"
	OpUpdate        = "update"
	OpDelete        = "delete"
	OpDeleteAccount = "delete_account"
)

// Result turns an operation error into a low-cardinality label value.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	switch apperrors.Kind(err) {
	case apperrors.ErrValidation:
		return "validation"
	case apperrors.ErrConflict:
		return "conflict"
	case apperrors.ErrNotFound:
		return "not_found"
	case apperrors.ErrUnauthorized:
		return "unauthorized"
	case apperrors.ErrForbidden:
		return "forbidden"
	case apperrors.ErrAborted:
		return "aborted"
	default:
		return "error"
	}
}

// ObserveReviewMutation counts one review mutation attempt.
func ObserveReviewMutation(op string, err error) {
	reviewMutationsTotal.WithLabelValues(op, Result(err)).Inc()
}

// ObserveAuthFailure counts one rejected credential.
func ObserveAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveStoreAbort counts one aborted transaction.
func ObserveStoreAbort() {
	storeAbortsTotal.Inc()
}

// ObserveEventPublished counts one publish attempt.
func ObserveEventPublished(err error) {
	eventsPublishedTotal.WithLabelValues(outcome(err)).Inc()
}

// ObserveEventArchived counts one archive attempt.
func ObserveEventArchived(err error) {
	eventsArchivedTotal.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency keyed by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

