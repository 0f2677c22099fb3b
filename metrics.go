package idapi

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request lifecycle,
// the retry engine and the auth refresh path. It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec

	authRefreshTotal    *prometheus.CounterVec
	circuitBreakerState *prometheus.GaugeVec
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer; tests pass a private registry to avoid duplicate registration.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idapi_requests_total",
				Help: "Total number of logical HTTP calls completed",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idapi_request_duration_seconds",
				Help:    "Duration of logical HTTP calls including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "idapi_requests_in_flight",
				Help: "Number of logical HTTP calls currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idapi_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idapi_errors_total",
				Help: "Total number of terminal call errors by type",
			},
			[]string{"type", "method", "endpoint"},
		),
		authRefreshTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "idapi_auth_refresh_total",
				Help: "Total number of credential refresh exchanges",
			},
			[]string{"result"},
		),
		circuitBreakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "idapi_circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
	}
}

// RecordRequestStart marks a call entering flight.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd marks a call leaving flight.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRequest records a completed call.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	code := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, code, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, code, endpoint).Observe(duration.Seconds())
}

// RecordRetry records one retry attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordError records a terminal call error.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

// RecordAuthRefresh records a credential refresh exchange result
// ("success" or "failure").
func (mc *MetricsCollector) RecordAuthRefresh(result string) {
	mc.authRefreshTotal.WithLabelValues(result).Inc()
}

// RecordCircuitBreakerState records the breaker state gauge.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state float64) {
	mc.circuitBreakerState.WithLabelValues(name).Set(state)
}
