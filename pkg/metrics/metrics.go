package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the resilience layer
type Metrics struct {
	// Execution metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	RetriesTotal      *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerState            *prometheus.GaugeVec
	BreakerTransitionsTotal *prometheus.CounterVec

	// Fallback metrics
	FallbackExecutionsTotal *prometheus.CounterVec

	// Error and recovery metrics
	ErrorsTotal     *prometheus.CounterVec
	RecoveriesTotal *prometheus.CounterVec

	// Degradation metrics
	DegradationLevel prometheus.Gauge
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "renderforge",
		Subsystem: "resilience",
		Enabled:   true,
	}
}

// NewMetrics creates all metrics and registers them on the default registry
func NewMetrics(config *Config) *Metrics {
	return NewMetricsWithRegistry(config, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates all metrics and registers them on the given registerer
func NewMetricsWithRegistry(config *Config, registerer prometheus.Registerer) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "executions_total",
				Help:      "Total number of protected operation executions",
			},
			[]string{"operation", "status"},
		),
		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "execution_duration_seconds",
				Help:      "Protected operation duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retries_total",
				Help:      "Total number of retry attempts",
			},
			[]string{"operation"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		),
		BreakerTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"name", "to"},
		),
		FallbackExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "fallback_executions_total",
				Help:      "Total number of fallback chain executions",
			},
			[]string{"chain", "status"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of recorded errors",
			},
			[]string{"category", "severity"},
		),
		RecoveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "recoveries_total",
				Help:      "Total number of recovery attempts",
			},
			[]string{"category", "status"},
		),
		DegradationLevel: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "degradation_level",
				Help:      "Current degradation level (0=full, 4=minimal)",
			},
		),
	}

	registerer.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.RetriesTotal,
		m.BreakerState,
		m.BreakerTransitionsTotal,
		m.FallbackExecutionsTotal,
		m.ErrorsTotal,
		m.RecoveriesTotal,
		m.DegradationLevel,
	)

	return m
}

// RecordExecution records a protected operation execution
func (m *Metrics) RecordExecution(operation, status string, duration time.Duration) {
	if m.ExecutionsTotal == nil {
		return
	}

	m.ExecutionsTotal.WithLabelValues(operation, status).Inc()
	m.ExecutionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRetry records a retry attempt
func (m *Metrics) RecordRetry(operation string) {
	if m.RetriesTotal == nil {
		return
	}

	m.RetriesTotal.WithLabelValues(operation).Inc()
}

// UpdateBreakerState records a circuit breaker state transition
func (m *Metrics) UpdateBreakerState(name, to string, state float64) {
	if m.BreakerState == nil {
		return
	}

	m.BreakerState.WithLabelValues(name).Set(state)
	m.BreakerTransitionsTotal.WithLabelValues(name, to).Inc()
}

// RecordFallbackExecution records a fallback chain execution
func (m *Metrics) RecordFallbackExecution(chain, status string) {
	if m.FallbackExecutionsTotal == nil {
		return
	}

	m.FallbackExecutionsTotal.WithLabelValues(chain, status).Inc()
}

// RecordError records a classified error
func (m *Metrics) RecordError(category, severity string) {
	if m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(category, severity).Inc()
}

// RecordRecovery records a recovery attempt outcome
func (m *Metrics) RecordRecovery(category, status string) {
	if m.RecoveriesTotal == nil {
		return
	}

	m.RecoveriesTotal.WithLabelValues(category, status).Inc()
}

// UpdateDegradationLevel records the current degradation level
func (m *Metrics) UpdateDegradationLevel(level int) {
	if m.DegradationLevel == nil {
		return
	}

	m.DegradationLevel.Set(float64(level))
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
