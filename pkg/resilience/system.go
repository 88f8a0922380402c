package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	perrors "github.com/renderforge/resilience/pkg/errors"
	"github.com/renderforge/resilience/pkg/logging"
	"github.com/renderforge/resilience/pkg/metrics"
)

// ExecOptions selects which protections wrap a single execution.
type ExecOptions struct {
	// CircuitBreakerName selects the breaker guarding the operation. Empty
	// means no breaker.
	CircuitBreakerName string
	// FallbackChainName, when set, routes the execution through the named
	// fallback chain INSTEAD of the breaker/retry pipeline. The chain's
	// stages carry their own protection.
	FallbackChainName string
	// EnableRetry wraps the operation in the system retrier
	EnableRetry bool
}

// DefaultExecOptions enables retry with no breaker and no fallback chain
func DefaultExecOptions() ExecOptions {
	return ExecOptions{EnableRetry: true}
}

// SystemConfig holds configuration for the resilience system
type SystemConfig struct {
	// Retry is the shared retrier configuration
	Retry RetryConfig
	// BreakerDefaults produces the configuration for breakers created on
	// demand. Nil means DefaultCircuitBreakerConfig.
	BreakerDefaults func(name string) CircuitBreakerConfig
	// AnalyticsCapacity bounds the error history (0 means the default)
	AnalyticsCapacity int
	// Metrics receives execution, breaker, retry, recovery, and degradation
	// observations. Nil disables metric recording.
	Metrics *metrics.Metrics
	// Alerts receives error and degradation alerts. Nil disables alerting.
	Alerts *AlertManager
	// Tracer creates a span per protected execution. Nil disables tracing.
	Tracer oteltrace.Tracer
}

// DefaultSystemConfig returns a configuration with default retry behavior and
// no metrics, alerting, or tracing wired.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		Retry: DefaultRetryConfig(),
	}
}

// System is the facade over the resilience components: per-resource circuit
// breakers, a shared retrier, named fallback chains, graceful degradation,
// error analytics, and recovery procedures. All entry points are safe for
// concurrent use.
type System struct {
	logger *logging.Logger

	retrier     *Retrier
	degradation *DegradationController
	analytics   *ErrorAnalytics
	recovery    *RecoveryProcedure

	breakerDefaults func(name string) CircuitBreakerConfig
	metrics         *metrics.Metrics
	alertGen        *ErrorAlertGenerator
	tracer          oteltrace.Tracer

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	chains   map[string]*FallbackChain
}

// NewSystem creates a resilience system from the given configuration
func NewSystem(config SystemConfig) *System {
	s := &System{
		logger:          logging.GetLogger(),
		degradation:     NewDegradationController(),
		analytics:       NewErrorAnalytics(config.AnalyticsCapacity),
		recovery:        NewRecoveryProcedure(),
		breakerDefaults: config.BreakerDefaults,
		metrics:         config.Metrics,
		tracer:          config.Tracer,
		breakers:        make(map[string]*CircuitBreaker),
		chains:          make(map[string]*FallbackChain),
	}

	if s.breakerDefaults == nil {
		s.breakerDefaults = DefaultCircuitBreakerConfig
	}

	retryConfig := config.Retry
	if retryConfig.MaxAttempts == 0 {
		retryConfig = DefaultRetryConfig()
	}
	userOnRetry := retryConfig.OnRetry
	retryConfig.OnRetry = func(attempt int, err error, delay time.Duration) {
		if s.metrics != nil {
			s.metrics.RecordRetry("system")
		}
		if userOnRetry != nil {
			userOnRetry(attempt, err, delay)
		}
	}
	s.retrier = NewRetrier(retryConfig)

	if config.Alerts != nil {
		s.alertGen = NewErrorAlertGenerator(config.Alerts)
	}

	s.degradation.OnChange(func(from, to DegradationLevel, reason string) {
		if s.metrics != nil {
			s.metrics.UpdateDegradationLevel(int(to))
		}
		if s.alertGen != nil {
			s.alertGen.HandleDegradation(context.Background(), from, to, reason)
		}
	})

	return s
}

// GetCircuitBreaker returns the breaker with the given name, creating it with
// the system's defaults on first use. Repeated calls with the same name return
// the same breaker.
func (s *System) GetCircuitBreaker(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[name]; ok {
		return cb
	}

	config := s.breakerDefaults(name)
	config.Name = name
	userOnStateChange := config.OnStateChange
	config.OnStateChange = func(name string, from, to CircuitState) {
		if s.metrics != nil {
			s.metrics.UpdateBreakerState(name, to.String(), float64(to))
		}
		if userOnStateChange != nil {
			userOnStateChange(name, from, to)
		}
	}

	cb := NewCircuitBreaker(config)
	s.breakers[name] = cb
	return cb
}

// GetFallbackChain returns the chain with the given name, creating an empty
// one on first use.
func (s *System) GetFallbackChain(name string) *FallbackChain {
	s.mu.Lock()
	defer s.mu.Unlock()

	if fc, ok := s.chains[name]; ok {
		return fc
	}

	fc := NewFallbackChain(name)
	s.chains[name] = fc
	return fc
}

// Degradation returns the system's degradation controller
func (s *System) Degradation() *DegradationController {
	return s.degradation
}

// Analytics returns the system's error analytics
func (s *System) Analytics() *ErrorAnalytics {
	return s.analytics
}

// Recovery returns the system's recovery procedure
func (s *System) Recovery() *RecoveryProcedure {
	return s.recovery
}

// Retrier returns the system's shared retrier
func (s *System) Retrier() *Retrier {
	return s.retrier
}

// Operation is a protected operation. The args map carries the request
// parameters; fallback stages may see them overlaid with stage config.
type Operation func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// ExecuteWithResilience runs the named operation under the protections
// selected by opts. A fallback chain, when named, replaces the breaker/retry
// pipeline entirely. On failure the error is classified and recorded, recovery
// is attempted, and a successful recovery earns exactly one more run of the
// pipeline; a failed recovery of a critical error degrades the system one
// step. The original error propagates unless the post-recovery run succeeds.
func (s *System) ExecuteWithResilience(ctx context.Context, name string, op Operation, args map[string]interface{}, opts ExecOptions) (interface{}, error) {
	start := time.Now()

	if s.tracer != nil {
		var span oteltrace.Span
		ctx, span = s.tracer.Start(ctx, "resilience.execute",
			oteltrace.WithAttributes(attribute.String("operation", name)))
		defer span.End()

		result, err := s.execute(ctx, name, op, args, opts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.recordExecution(name, start, err)
		return result, err
	}

	result, err := s.execute(ctx, name, op, args, opts)
	s.recordExecution(name, start, err)
	return result, err
}

func (s *System) recordExecution(name string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "failure"
	}
	s.metrics.RecordExecution(name, status, time.Since(start))
}

func (s *System) execute(ctx context.Context, name string, op Operation, args map[string]interface{}, opts ExecOptions) (interface{}, error) {
	if opts.FallbackChainName != "" {
		chain := s.GetFallbackChain(opts.FallbackChainName)
		result, err := chain.Execute(ctx, args)
		if s.metrics != nil {
			status := "success"
			if err != nil {
				status = "failure"
			}
			s.metrics.RecordFallbackExecution(opts.FallbackChainName, status)
		}
		if err != nil {
			s.handleFailure(ctx, err)
		}
		return result, err
	}

	result, err := s.runPipeline(ctx, name, op, args, opts)
	if err == nil {
		return result, nil
	}

	if s.handleFailure(ctx, err) {
		// Recovery succeeded: one more run of the full pipeline
		retryResult, retryErr := s.runPipeline(ctx, name, op, args, opts)
		if retryErr == nil {
			s.logger.Info("Operation succeeded after recovery", "operation", name)
			return retryResult, nil
		}
		s.logger.Warn("Operation failed again after recovery",
			"operation", name,
			"error", retryErr.Error(),
		)
	}

	return nil, err
}

// runPipeline applies the breaker and retry wrappers, innermost first:
// breaker guards each individual attempt, retry drives the attempts.
func (s *System) runPipeline(ctx context.Context, name string, op Operation, args map[string]interface{}, opts ExecOptions) (interface{}, error) {
	run := func(ctx context.Context) (interface{}, error) {
		return op(ctx, args)
	}

	if opts.CircuitBreakerName != "" {
		cb := s.GetCircuitBreaker(opts.CircuitBreakerName)
		inner := run
		run = func(ctx context.Context) (interface{}, error) {
			return cb.Execute(ctx, inner)
		}
	}

	if opts.EnableRetry {
		return s.retrier.ExecuteWithRetry(ctx, name, run)
	}
	return run(ctx)
}

// handleFailure classifies and records the error, attempts recovery, and
// degrades on an unrecovered critical error. It reports whether recovery
// succeeded; the caller is responsible for the post-recovery run.
func (s *System) handleFailure(ctx context.Context, err error) bool {
	info := NewErrorInfo(err)

	if s.metrics != nil {
		s.metrics.RecordError(string(info.Category), string(info.Severity))
	}

	info.RecoveryAttempted = true
	recovered := s.recovery.AttemptRecovery(ctx, info)
	info.RecoverySuccessful = recovered

	s.analytics.RecordError(info)

	if s.metrics != nil {
		status := "failure"
		if recovered {
			status = "success"
		}
		s.metrics.RecordRecovery(string(info.Category), status)
	}

	if s.alertGen != nil {
		s.alertGen.HandleError(ctx, info, "resilience")
	}

	if !recovered && info.Severity == perrors.SeverityCritical {
		s.degradation.Degrade("unrecovered critical error: " + info.Type)
	}

	return recovered
}

// SystemHealth is a coarse view of the system for health endpoints
type SystemHealth struct {
	Healthy            bool              `json:"healthy"`
	DegradationLevel   string            `json:"degradation_level"`
	Quality            float64           `json:"quality"`
	OpenBreakers       []string          `json:"open_breakers"`
	ErrorRatePerMinute float64           `json:"error_rate_per_minute"`
	RecoveryRate       float64           `json:"recovery_rate"`
	Breakers           map[string]string `json:"breakers"`
	Timestamp          time.Time         `json:"timestamp"`
}

// GetSystemHealth reports the degradation level, breaker states, and recent
// error rate. The system is considered healthy at full or high quality with
// no open breakers.
func (s *System) GetSystemHealth() *SystemHealth {
	s.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(s.breakers))
	for name, cb := range s.breakers {
		breakers[name] = cb
	}
	s.mu.Unlock()

	level := s.degradation.Level()

	health := &SystemHealth{
		DegradationLevel:   level.String(),
		Quality:            level.Quality(),
		ErrorRatePerMinute: s.analytics.ErrorRate(5 * time.Minute),
		RecoveryRate:       s.analytics.RecoveryRate(),
		Breakers:           make(map[string]string, len(breakers)),
		Timestamp:          time.Now(),
	}

	for name, cb := range breakers {
		state := cb.State()
		health.Breakers[name] = state.String()
		if state == StateOpen {
			health.OpenBreakers = append(health.OpenBreakers, name)
		}
	}

	health.Healthy = level <= LevelHigh && len(health.OpenBreakers) == 0
	return health
}

// ResilienceReport aggregates the state of every component for diagnostics
type ResilienceReport struct {
	CircuitBreakers  map[string]BreakerSnapshot       `json:"circuit_breakers"`
	RetryStats       map[string]OperationStats        `json:"retry_stats"`
	FallbackStats    map[string]map[string]StageStats `json:"fallback_stats"`
	ErrorAnalytics   *AnalyticsReport                 `json:"error_analytics"`
	RecoveryHistory  []RecoveryAttempt                `json:"recovery_history"`
	DegradationLevel string                           `json:"degradation_level"`
	Timestamp        time.Time                        `json:"timestamp"`
}

// GenerateResilienceReport assembles a full diagnostic report: breaker
// snapshots, retry and fallback counters, the analytics report, and the last
// 50 recovery attempts.
func (s *System) GenerateResilienceReport() *ResilienceReport {
	s.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(s.breakers))
	for name, cb := range s.breakers {
		breakers[name] = cb
	}
	chains := make(map[string]*FallbackChain, len(s.chains))
	for name, fc := range s.chains {
		chains[name] = fc
	}
	s.mu.Unlock()

	report := &ResilienceReport{
		CircuitBreakers:  make(map[string]BreakerSnapshot, len(breakers)),
		RetryStats:       s.retrier.Stats(),
		FallbackStats:    make(map[string]map[string]StageStats, len(chains)),
		ErrorAnalytics:   s.analytics.Report(),
		RecoveryHistory:  s.recovery.History(50),
		DegradationLevel: s.degradation.Level().String(),
		Timestamp:        time.Now(),
	}

	for name, cb := range breakers {
		report.CircuitBreakers[name] = cb.Snapshot()
	}
	for name, fc := range chains {
		report.FallbackStats[name] = fc.StageStats()
	}

	return report
}
