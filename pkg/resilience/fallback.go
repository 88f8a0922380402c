package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/renderforge/resilience/pkg/logging"
)

// FallbackFunc is a fallback operation. The args map carries the caller's
// request parameters merged with the stage's static configuration.
type FallbackFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// StageStats holds the attempt counters for a single fallback stage
type StageStats struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
}

type fallbackStage struct {
	name      string
	fn        FallbackFunc
	config    map[string]interface{}
	attempts  int
	successes int
}

// FallbackChain is an ordered list of alternative operations tried in
// sequence until one succeeds. Stages are not retried internally; retry
// composition, if desired, belongs inside the stage operation itself.
type FallbackChain struct {
	name   string
	logger *logging.Logger

	mu     sync.Mutex
	stages []*fallbackStage
}

// NewFallbackChain creates an empty fallback chain
func NewFallbackChain(name string) *FallbackChain {
	return &FallbackChain{
		name:   name,
		logger: logging.GetLogger(),
	}
}

// Name returns the name of the chain
func (fc *FallbackChain) Name() string {
	return fc.name
}

// AddFallback appends a stage to the chain. The static config is overlaid on
// the caller's args when the stage executes, so later stages can pin degraded
// parameters (smaller model, lower resolution).
func (fc *FallbackChain) AddFallback(name string, fn FallbackFunc, config map[string]interface{}) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.stages = append(fc.stages, &fallbackStage{
		name:   name,
		fn:     fn,
		config: config,
	})
}

// Execute tries stages in order; the first success short-circuits. If the
// last stage also fails, the returned error is a FallbackChainExhaustedError
// wrapping the final stage's error.
func (fc *FallbackChain) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	fc.mu.Lock()
	stages := make([]*fallbackStage, len(fc.stages))
	copy(stages, fc.stages)
	fc.mu.Unlock()

	if len(stages) == 0 {
		return nil, fmt.Errorf("fallback chain '%s' has no stages", fc.name)
	}

	var lastErr error
	for i, stage := range stages {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		fc.mu.Lock()
		stage.attempts++
		fc.mu.Unlock()

		result, err := stage.fn(ctx, mergeArgs(args, stage.config))
		if err == nil {
			fc.mu.Lock()
			stage.successes++
			fc.mu.Unlock()

			if i > 0 {
				fc.logger.Info("Fallback stage succeeded",
					"chain", fc.name,
					"stage", stage.name,
					"position", i+1,
				)
			}
			return result, nil
		}

		lastErr = err
		fc.logger.Warn("Fallback stage failed",
			"chain", fc.name,
			"stage", stage.name,
			"position", i+1,
			"error", err.Error(),
		)
	}

	return nil, &FallbackChainExhaustedError{Chain: fc.name, Err: lastErr}
}

// StageStats returns a copy of the per-stage counters, keyed by stage name
func (fc *FallbackChain) StageStats() map[string]StageStats {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	stats := make(map[string]StageStats, len(fc.stages))
	for _, stage := range fc.stages {
		stats[stage.name] = StageStats{
			Attempts:  stage.attempts,
			Successes: stage.successes,
		}
	}
	return stats
}

// mergeArgs overlays the stage's static config onto the caller's args
func mergeArgs(args, config map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(args)+len(config))
	for k, v := range args {
		merged[k] = v
	}
	for k, v := range config {
		merged[k] = v
	}
	return merged
}

// FallbackChainExhaustedError is returned when every stage in a chain failed
type FallbackChainExhaustedError struct {
	Chain string
	Err   error
}

func (e *FallbackChainExhaustedError) Error() string {
	return fmt.Sprintf("fallback chain '%s' exhausted: %v", e.Chain, e.Err)
}

func (e *FallbackChainExhaustedError) Unwrap() error {
	return e.Err
}

// IsFallbackChainExhausted checks if an error is a chain exhaustion
func IsFallbackChainExhausted(err error) bool {
	var fcErr *FallbackChainExhaustedError
	return errors.As(err, &fcErr)
}
