package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	// HTTPRequestDuration tracks request latency by method, path, and status.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestTimeout counts requests that hit the timeout threshold by path.
	HTTPRequestTimeout = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_timeout_total",
			Help: "Total number of HTTP request timeouts",
		},
		[]string{"path"},
	)
)

// Database metrics
var (
	// DBTransactionDuration tracks transaction duration by operation label.
	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_transaction_duration_seconds",
			Help:    "Duration of database transactions in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// DBOptimisticLockConflicts counts optimistic lock conflicts by repository.
	DBOptimisticLockConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_optimistic_lock_conflicts_total",
			Help: "Total number of optimistic lock conflicts",
		},
		[]string{"repository"},
	)
)

// SCA metrics
var (
	// ScaTransitions counts authorisation status changes.
	ScaTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sca_transitions_total",
			Help: "Total number of SCA status transitions",
		},
		[]string{"service", "from", "to"},
	)

	// AuthorisationsCreated counts created authorisations by service and approach.
	AuthorisationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorisations_created_total",
			Help: "Total number of SCA authorisations created",
		},
		[]string{"service", "approach"},
	)

	// ConfirmationExpirations counts payments and consents rejected for an
	// expired confirmation window.
	ConfirmationExpirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sca_confirmation_expirations_total",
			Help: "Total number of objects rejected because SCA was not confirmed in time",
		},
		[]string{"service"},
	)

	// SpiCallDuration tracks bank adapter latency.
	SpiCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spi_call_duration_seconds",
			Help:    "Duration of bank adapter calls in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "outcome"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
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

// Middleware returns an HTTP middleware that records request metrics.
// Side effects: records Prometheus metrics and reads the current time.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)
		path := NormalizePath(r.URL.Path)

		HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()

		if r.Context().Err() != nil && duration >= 4.9 {
			HTTPRequestTimeout.WithLabelValues(path).Inc()
		}
	})
}

var uuidSegment = regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// NormalizePath replaces resource ids with {id} to keep label cardinality bounded.
func NormalizePath(path string) string {
	return uuidSegment.ReplaceAllString(path, "/{id}")
}

// RecordOptimisticLockConflict increments the optimistic lock conflict counter.
func RecordOptimisticLockConflict(repository string) {
	DBOptimisticLockConflicts.WithLabelValues(repository).Inc()
}

// RecordTransactionDuration records a transaction duration.
func RecordTransactionDuration(operation string, duration time.Duration) {
	DBTransactionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordScaTransition counts a status change. Unchanged statuses are ignored.
func RecordScaTransition(service, from, to string) {
	if from == to {
		return
	}
	ScaTransitions.WithLabelValues(service, from, to).Inc()
}

// RecordAuthorisationCreated increments the authorisation counter.
func RecordAuthorisationCreated(service, approach string) {
	AuthorisationsCreated.WithLabelValues(service, approach).Inc()
}

// RecordConfirmationExpired increments the expiration counter.
func RecordConfirmationExpired(service string) {
	ConfirmationExpirations.WithLabelValues(service).Inc()
}

// RecordSpiCall records a bank adapter call.
func RecordSpiCall(operation, outcome string, duration time.Duration) {
	SpiCallDuration.WithLabelValues(operation, outcome).Observe(duration.Seconds())
}
