package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	perrors "github.com/renderforge/resilience/pkg/errors"
	"github.com/renderforge/resilience/pkg/logging"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first one
	MaxAttempts int
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64
	// Jitter perturbs each delay by up to ±25% to avoid thundering herd
	Jitter bool
	// RetryableErrors is a function that determines if an error is retryable
	RetryableErrors func(error) bool
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableErrors:   DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors treats network and timeout failures as transient.
// Circuit breaker rejections are never retried; hammering an open breaker
// only delays the caller.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}

	if IsCircuitBreakerOpen(err) {
		return false
	}

	return perrors.GetCategory(err) == perrors.CategoryNetwork
}

// OperationStats holds retry counters for a single named operation
type OperationStats struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
	Failures  int `json:"failures"`
}

// Retrier executes operations with exponential backoff and per-operation stats
type Retrier struct {
	config RetryConfig
	logger *logging.Logger

	mu    sync.Mutex
	stats map[string]*OperationStats
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 60 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.RetryableErrors == nil {
		config.RetryableErrors = DefaultRetryableErrors
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
		stats:  make(map[string]*OperationStats),
	}
}

// ExecuteWithRetry executes the named operation, retrying transient failures
// with exponential backoff. Non-retryable errors propagate on first occurrence;
// exhausting all attempts propagates the last error.
func (r *Retrier) ExecuteWithRetry(ctx context.Context, name string, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		r.recordAttempt(name)
		result, err := operation(ctx)
		if err == nil {
			r.recordSuccess(name)
			if attempt > 0 {
				r.logger.Info("Operation succeeded after retry",
					"operation", name,
					"attempt", attempt+1,
					"max_attempts", r.config.MaxAttempts,
				)
			}
			return result, nil
		}

		r.recordFailure(name)
		lastErr = err

		if !r.config.RetryableErrors(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"operation", name,
				"error", err.Error(),
				"attempt", attempt+1,
			)
			return nil, err
		}

		// Don't sleep after the last attempt
		if attempt == r.config.MaxAttempts-1 {
			break
		}

		delay := r.calculateDelay(attempt)

		r.logger.Warn("Operation failed, retrying",
			"operation", name,
			"error", err.Error(),
			"attempt", attempt+1,
			"max_attempts", r.config.MaxAttempts,
			"delay", delay,
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	r.logger.Error("Operation failed after all retry attempts",
		"operation", name,
		"error", lastErr.Error(),
		"attempts", r.config.MaxAttempts,
	)

	return nil, fmt.Errorf("operation failed after %d attempts: %w", r.config.MaxAttempts, lastErr)
}

// Execute executes a named operation that doesn't return a result
func (r *Retrier) Execute(ctx context.Context, name string, operation func(context.Context) error) error {
	_, err := r.ExecuteWithRetry(ctx, name, func(ctx context.Context) (interface{}, error) {
		return nil, operation(ctx)
	})
	return err
}

// calculateDelay computes the backoff delay before retry number attempt+1.
// attempt is zero-based: calculateDelay(0) is the delay after the first failure.
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		// Uniform offset in [-0.25*delay, +0.25*delay]
		jitter := (rand.Float64()*2 - 1) * 0.25 * delay
		delay += jitter
		if delay < 0 {
			delay = 0
		}
	}

	return time.Duration(delay)
}

// Stats returns a copy of the per-operation retry counters
func (r *Retrier) Stats() map[string]OperationStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := make(map[string]OperationStats, len(r.stats))
	for name, s := range r.stats {
		stats[name] = *s
	}
	return stats
}

func (r *Retrier) recordAttempt(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statsFor(name).Attempts++
}

func (r *Retrier) recordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statsFor(name).Successes++
}

func (r *Retrier) recordFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statsFor(name).Failures++
}

// statsFor must be called with the mutex held
func (r *Retrier) statsFor(name string) *OperationStats {
	s, ok := r.stats[name]
	if !ok {
		s = &OperationStats{}
		r.stats[name] = s
	}
	return s
}

// Retry is a convenience function to execute an operation with default retry configuration
func Retry(ctx context.Context, name string, operation func(context.Context) error) error {
	return NewRetrier(DefaultRetryConfig()).Execute(ctx, name, operation)
}

// RetryWithConfig is a convenience function to execute an operation with retry
func RetryWithConfig(ctx context.Context, name string, config RetryConfig, operation func(context.Context) error) error {
	return NewRetrier(config).Execute(ctx, name, operation)
}
