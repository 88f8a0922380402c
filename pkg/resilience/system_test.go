package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/renderforge/resilience/pkg/errors"
)

func newTestSystem() *System {
	return NewSystem(SystemConfig{
		Retry: RetryConfig{
			MaxAttempts:       3,
			InitialDelay:      time.Millisecond,
			MaxDelay:          10 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		BreakerDefaults: func(name string) CircuitBreakerConfig {
			return CircuitBreakerConfig{
				Name:             name,
				FailureThreshold: 2,
				SuccessThreshold: 1,
				Timeout:          50 * time.Millisecond,
			}
		},
	})
}

func TestSystem_SuccessPath(t *testing.T) {
	sys := newTestSystem()

	result, err := sys.ExecuteWithResilience(context.Background(), "generate",
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return "image.png", nil
		}, nil, DefaultExecOptions())

	require.NoError(t, err)
	assert.Equal(t, "image.png", result)
	assert.Zero(t, sys.Analytics().TotalErrors())
}

func TestSystem_GetCircuitBreakerIsIdempotent(t *testing.T) {
	sys := newTestSystem()

	cb1 := sys.GetCircuitBreaker("comfyui")
	cb2 := sys.GetCircuitBreaker("comfyui")
	assert.Same(t, cb1, cb2)

	other := sys.GetCircuitBreaker("ollama")
	assert.NotSame(t, cb1, other)
}

func TestSystem_BreakerOpensUnderFailures(t *testing.T) {
	sys := newTestSystem()

	opts := ExecOptions{CircuitBreakerName: "comfyui"}
	failing := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return nil, perrors.NewValidationError("bad workflow")
	}

	for i := 0; i < 2; i++ {
		_, err := sys.ExecuteWithResilience(context.Background(), "generate", failing, nil, opts)
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, sys.GetCircuitBreaker("comfyui").State())

	// Subsequent calls are rejected without invoking the operation
	invoked := false
	_, err := sys.ExecuteWithResilience(context.Background(), "generate",
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			invoked = true
			return nil, nil
		}, nil, opts)
	require.Error(t, err)
	assert.False(t, invoked)
}

func TestSystem_FallbackChainReplacesPipeline(t *testing.T) {
	sys := newTestSystem()

	chain := sys.GetFallbackChain("generate-chain")
	chain.AddFallback("primary", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return nil, perrors.NewModelError("sdxl", "load failed")
	}, nil)
	chain.AddFallback("cached", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return "cached.png", nil
	}, nil)

	opInvoked := false
	result, err := sys.ExecuteWithResilience(context.Background(), "generate",
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			opInvoked = true
			return nil, nil
		}, nil, ExecOptions{
			FallbackChainName:  "generate-chain",
			CircuitBreakerName: "comfyui",
			EnableRetry:        true,
		})

	require.NoError(t, err)
	assert.Equal(t, "cached.png", result)
	// The chain replaces the breaker/retry pipeline and the operation itself
	assert.False(t, opInvoked)
	assert.Equal(t, StateClosed, sys.GetCircuitBreaker("comfyui").State())
}

func TestSystem_RecoveryEarnsOneMoreRun(t *testing.T) {
	sys := newTestSystem()

	// Default network strategies report success, earning a second pipeline run
	calls := 0
	result, err := sys.ExecuteWithResilience(context.Background(), "generate",
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			calls++
			if calls == 1 {
				return nil, perrors.NewConnectionError("comfyui:8188")
			}
			return "image.png", nil
		}, nil, ExecOptions{})

	require.NoError(t, err)
	assert.Equal(t, "image.png", result)
	assert.Equal(t, 2, calls)

	assert.Equal(t, 1, sys.Analytics().TotalErrors())
	assert.InDelta(t, 1.0, sys.Analytics().RecoveryRate(), 1e-9)
}

func TestSystem_PostRecoveryFailurePropagatesOriginalError(t *testing.T) {
	sys := newTestSystem()

	original := perrors.NewConnectionError("comfyui:8188")
	second := perrors.NewConnectionError("comfyui:8189")
	calls := 0
	_, err := sys.ExecuteWithResilience(context.Background(), "generate",
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			calls++
			if calls == 1 {
				return nil, original
			}
			return nil, second
		}, nil, ExecOptions{})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.ErrorIs(t, err, original)
	assert.NotErrorIs(t, err, second)
	// Only the original failure is recorded, not the post-recovery one
	assert.Equal(t, 1, sys.Analytics().TotalErrors())
}

func TestSystem_UnrecoveredCriticalDegrades(t *testing.T) {
	sys := newTestSystem()
	assert.Equal(t, LevelFull, sys.Degradation().Level())

	// System errors have no default recovery strategies and are critical
	cause := perrors.NewSystemError("segfault in worker")
	_, err := sys.ExecuteWithResilience(context.Background(), "generate",
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, cause
		}, nil, ExecOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, LevelHigh, sys.Degradation().Level())
}

func TestSystem_UnrecoveredNonCriticalDoesNotDegrade(t *testing.T) {
	sys := newTestSystem()

	_, err := sys.ExecuteWithResilience(context.Background(), "generate",
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, perrors.NewValidationError("bad steps")
		}, nil, ExecOptions{})

	require.Error(t, err)
	assert.Equal(t, LevelFull, sys.Degradation().Level())
}

func TestSystem_RetryWrapsOperation(t *testing.T) {
	sys := newTestSystem()

	calls := 0
	result, err := sys.ExecuteWithResilience(context.Background(), "generate",
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			calls++
			if calls < 3 {
				return nil, perrors.NewTimeoutError("generation")
			}
			return "image.png", nil
		}, nil, ExecOptions{EnableRetry: true})

	require.NoError(t, err)
	assert.Equal(t, "image.png", result)
	assert.Equal(t, 3, calls)
	assert.Zero(t, sys.Analytics().TotalErrors())
}

func TestSystem_GetSystemHealth(t *testing.T) {
	sys := newTestSystem()

	health := sys.GetSystemHealth()
	assert.True(t, health.Healthy)
	assert.Equal(t, "full", health.DegradationLevel)
	assert.Equal(t, 1.0, health.Quality)
	assert.Empty(t, health.OpenBreakers)

	// Open a breaker and degrade
	cb := sys.GetCircuitBreaker("comfyui")
	cb.RecordFailure()
	cb.RecordFailure()
	sys.Degradation().Degrade("test")
	sys.Degradation().Degrade("test")

	health = sys.GetSystemHealth()
	assert.False(t, health.Healthy)
	assert.Equal(t, "medium", health.DegradationLevel)
	assert.Equal(t, []string{"comfyui"}, health.OpenBreakers)
	assert.Equal(t, "OPEN", health.Breakers["comfyui"])
}

func TestSystem_GenerateResilienceReport(t *testing.T) {
	sys := newTestSystem()

	chain := sys.GetFallbackChain("generate-chain")
	chain.AddFallback("primary", func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return "ok", nil
	}, nil)

	_, err := sys.ExecuteWithResilience(context.Background(), "generate",
		func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, perrors.NewConnectionError("comfyui:8188")
		}, nil, ExecOptions{CircuitBreakerName: "comfyui"})
	require.Error(t, err)

	_, err = sys.ExecuteWithResilience(context.Background(), "generate", nil, nil,
		ExecOptions{FallbackChainName: "generate-chain"})
	require.NoError(t, err)

	report := sys.GenerateResilienceReport()
	assert.Contains(t, report.CircuitBreakers, "comfyui")
	assert.Contains(t, report.FallbackStats, "generate-chain")
	assert.Equal(t, 1, report.FallbackStats["generate-chain"]["primary"].Successes)
	assert.Equal(t, 1, report.ErrorAnalytics.TotalErrors)
	assert.NotEmpty(t, report.RecoveryHistory)
	assert.Equal(t, "full", report.DegradationLevel)
	assert.False(t, report.Timestamp.IsZero())
}
