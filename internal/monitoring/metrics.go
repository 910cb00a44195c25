package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Trust score metrics
	TrustQueriesTotal  *prometheus.CounterVec
	TrustScoreComputed *prometheus.HistogramVec

	// Evidence probe metrics
	ProbeLatency       *prometheus.HistogramVec
	ProbeDegradedTotal *prometheus.CounterVec

	// Payment gate metrics
	PaymentVerificationsTotal *prometheus.CounterVec
	SettlementsTotal          *prometheus.CounterVec

	// Attestation metrics
	AttestationsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

var metrics *Metrics

// Init initializes all Prometheus metrics
func Init() *Metrics {
	if metrics != nil {
		return metrics
	}

	metrics = &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		// Trust score metrics
		TrustQueriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trust_queries_total",
				Help: "Total number of trust report queries",
			},
			[]string{"outcome"},
		),
		TrustScoreComputed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trust_score_computed",
				Help:    "Distribution of computed trust scores",
				Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
			[]string{"category"},
		),

		// Evidence probe metrics
		ProbeLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "probe_latency_seconds",
				Help:    "Evidence probe latency in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"probe", "target"},
		),
		ProbeDegradedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "probe_degraded_total",
				Help: "Total number of probe calls that degraded to a fallback value",
			},
			[]string{"probe", "reason"},
		),

		// Payment gate metrics
		PaymentVerificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_verifications_total",
				Help: "Total number of payment proof verifications",
			},
			[]string{"outcome", "demo"},
		),
		SettlementsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlements_total",
				Help: "Total number of best-effort settlement transactions",
			},
			[]string{"status"},
		),

		// Attestation metrics
		AttestationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attestations_total",
				Help: "Total number of attestation log writes",
			},
			[]string{"status"},
		),

		// Database metrics
		DBConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		// Circuit breaker metrics
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 0.5=half-open)",
			},
			[]string{"backend"},
		),
	}

	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	if metrics == nil {
		return Init()
	}
	return metrics
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		// Track in-flight requests
		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		// Process request
		c.Next()

		// Record metrics
		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RecordTrustQuery records the outcome of a trust report query
// outcome: challenged, verified, rejected, not_found
func RecordTrustQuery(outcome string) {
	Get().TrustQueriesTotal.WithLabelValues(outcome).Inc()
}

// RecordTrustScore records a computed trust score
func RecordTrustScore(category string, score int) {
	Get().TrustScoreComputed.WithLabelValues(category).Observe(float64(score))
}

// RecordProbeLatency records evidence probe latency
func RecordProbeLatency(probe, target string, duration time.Duration) {
	Get().ProbeLatency.WithLabelValues(probe, target).Observe(duration.Seconds())
}

// RecordProbeDegraded records a probe call that fell back to its neutral value
func RecordProbeDegraded(probe, reason string) {
	Get().ProbeDegradedTotal.WithLabelValues(probe, reason).Inc()
}

// RecordPaymentVerification records a payment proof verification outcome
func RecordPaymentVerification(outcome string, demo bool) {
	Get().PaymentVerificationsTotal.WithLabelValues(outcome, strconv.FormatBool(demo)).Inc()
}

// RecordSettlement records a settlement transaction attempt
func RecordSettlement(status string) {
	Get().SettlementsTotal.WithLabelValues(status).Inc()
}

// RecordAttestation records an attestation write
func RecordAttestation(status string) {
	Get().AttestationsTotal.WithLabelValues(status).Inc()
}

// SetDBConnections sets database connection metrics
func SetDBConnections(active, idle int) {
	Get().DBConnectionsActive.Set(float64(active))
	Get().DBConnectionsIdle.Set(float64(idle))
}

// SetCircuitBreakerState sets the circuit breaker state
// state: 0=closed, 1=open, 0.5=half-open
func SetCircuitBreakerState(backend string, state float64) {
	Get().CircuitBreakerState.WithLabelValues(backend).Set(state)
}
