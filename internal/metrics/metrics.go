package metrics

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// defaultRegistry is the default Prometheus registry
	defaultRegistry = prometheus.DefaultRegisterer
)

// Metrics holds all application metrics.
type Metrics struct {
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	httpRequestBytes      *prometheus.CounterVec
	cryptoOperations      *prometheus.CounterVec
	cryptoDuration        *prometheus.HistogramVec
	cryptoErrors          *prometheus.CounterVec
	cryptoBytes           *prometheus.CounterVec
	credentialIssuance    *prometheus.CounterVec
	credentialCollisions  prometheus.Counter
	credentialResolutions *prometheus.CounterVec
	secretMutations       *prometheus.CounterVec
	secretReveals         *prometheus.CounterVec
	activeConnections     prometheus.Gauge
	goroutines            prometheus.Gauge
	memoryAllocBytes      prometheus.Gauge
	memorySysBytes        prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(defaultRegistry)
}

// NewMetricsWithRegistry creates a new metrics instance with a custom registry (for testing).
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	return &Metrics{
		gatherer: gatherer,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		httpRequestBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_request_bytes_total",
				Help: "Total bytes transferred in HTTP requests",
			},
			[]string{"method", "path"},
		),
		cryptoOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_operations_total",
				Help: "Total number of encrypt/decrypt operations",
			},
			[]string{"operation", "purpose"},
		),
		cryptoDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crypto_operation_duration_seconds",
				Help:    "Encrypt/decrypt operation duration in seconds",
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
			},
			[]string{"operation", "purpose"},
		),
		cryptoErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_errors_total",
				Help: "Total number of encrypt/decrypt errors",
			},
			[]string{"operation", "purpose", "error_type"},
		),
		cryptoBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crypto_bytes_total",
				Help: "Total plaintext bytes encrypted/decrypted",
			},
			[]string{"operation", "purpose"},
		),
		credentialIssuance: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credential_issuance_total",
				Help: "Total number of API credential issuance attempts by outcome",
			},
			[]string{"outcome"}, // "issued" or "exhausted"
		),
		credentialCollisions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "credential_collisions_total",
				Help: "Total number of generated credential identifiers that were already taken",
			},
		),
		credentialResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credential_resolutions_total",
				Help: "Total number of API credential resolutions by outcome",
			},
			[]string{"outcome"}, // "resolved", "invalid", "unknown"
		),
		secretMutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secret_mutations_total",
				Help: "Total number of secret mutations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		secretReveals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secret_reveals_total",
				Help: "Total number of secret values returned decrypted",
			},
			[]string{"source"}, // "session" or "api_key"
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_connections",
				Help: "Number of active HTTP connections",
			},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "goroutines_total",
				Help: "Number of goroutines",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request metric. path should be a route
// template, never a raw URL, to keep label cardinality bounded.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration, bytes int64) {
	code := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(method, path, code).Inc()
	m.httpRequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.httpRequestBytes.WithLabelValues(method, path).Add(float64(bytes))
}

// RecordCryptoOperation records an encrypt or decrypt for one purpose.
func (m *Metrics) RecordCryptoOperation(operation, purpose string, duration time.Duration, bytes int) {
	m.cryptoOperations.WithLabelValues(operation, purpose).Inc()
	m.cryptoDuration.WithLabelValues(operation, purpose).Observe(duration.Seconds())
	m.cryptoBytes.WithLabelValues(operation, purpose).Add(float64(bytes))
}

// RecordCryptoError records a failed encrypt or decrypt.
func (m *Metrics) RecordCryptoError(operation, purpose, errorType string) {
	m.cryptoErrors.WithLabelValues(operation, purpose, errorType).Inc()
}

// RecordCredentialIssuance records the final outcome of one issue call.
func (m *Metrics) RecordCredentialIssuance(outcome string) {
	m.credentialIssuance.WithLabelValues(outcome).Inc()
}

// RecordCredentialCollision records one generated identifier that was taken.
func (m *Metrics) RecordCredentialCollision() {
	m.credentialCollisions.Inc()
}

// RecordCredentialResolution records the outcome of redeeming a token.
func (m *Metrics) RecordCredentialResolution(outcome string) {
	m.credentialResolutions.WithLabelValues(outcome).Inc()
}

// RecordSecretMutation records an add, update or delete of a secret.
func (m *Metrics) RecordSecretMutation(operation, outcome string) {
	m.secretMutations.WithLabelValues(operation, outcome).Inc()
}

// RecordSecretReveal records count values returned in plaintext.
func (m *Metrics) RecordSecretReveal(source string, count int) {
	m.secretReveals.WithLabelValues(source).Add(float64(count))
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// IncrementActiveConnections increments the active connections counter.
func (m *Metrics) IncrementActiveConnections() {
	m.activeConnections.Inc()
}

// DecrementActiveConnections decrements the active connections counter.
func (m *Metrics) DecrementActiveConnections() {
	m.activeConnections.Dec()
}

// StartSystemMetricsCollector updates system metrics every interval until
// stop is closed.
func (m *Metrics) StartSystemMetricsCollector(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.UpdateSystemMetrics()
			case <-stop:
				return
			}
		}
	}()
}

// Handler returns the HTTP handler for metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
