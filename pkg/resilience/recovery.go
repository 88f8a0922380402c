package resilience

import (
	"context"
	"strings"
	"sync"
	"time"

	perrors "github.com/renderforge/resilience/pkg/errors"
	"github.com/renderforge/resilience/pkg/logging"
)

// RecoveryStrategy is a pluggable remediation capability tried after an
// unrecovered failure. Attempt returns whether the remediation succeeded;
// an error from Attempt is treated as a failed attempt.
type RecoveryStrategy interface {
	Name() string
	Attempt(ctx context.Context, info *ErrorInfo) (bool, error)
}

// StrategyFunc adapts a function to the RecoveryStrategy interface
type StrategyFunc struct {
	name string
	fn   func(ctx context.Context, info *ErrorInfo) (bool, error)
}

// NewStrategy creates a named strategy from a function
func NewStrategy(name string, fn func(ctx context.Context, info *ErrorInfo) (bool, error)) *StrategyFunc {
	return &StrategyFunc{name: name, fn: fn}
}

func (s *StrategyFunc) Name() string {
	return s.name
}

func (s *StrategyFunc) Attempt(ctx context.Context, info *ErrorInfo) (bool, error) {
	return s.fn(ctx, info)
}

// RecoveryAttempt is one entry of the recovery history
type RecoveryAttempt struct {
	Timestamp time.Time `json:"timestamp"`
	ErrorType string    `json:"error_type"`
	Strategy  string    `json:"strategy"`
	Success   bool      `json:"success"`
}

// RecoveryProcedure holds category-keyed lists of remediation strategies and
// an append-only history of attempts.
type RecoveryProcedure struct {
	logger *logging.Logger

	mu         sync.Mutex
	strategies map[perrors.Category][]RecoveryStrategy
	history    []RecoveryAttempt
}

// NewRecoveryProcedure creates a procedure with the default strategies
// registered for the network, memory, model, and workflow categories. The
// defaults log their remediation and report success; production deployments
// substitute real remediation via SetStrategies or RegisterStrategy.
func NewRecoveryProcedure() *RecoveryProcedure {
	rp := &RecoveryProcedure{
		logger:     logging.GetLogger(),
		strategies: make(map[perrors.Category][]RecoveryStrategy),
	}

	rp.registerDefaults()
	return rp
}

func (rp *RecoveryProcedure) registerDefaults() {
	defaults := map[perrors.Category][]string{
		perrors.CategoryNetwork:  {"retry-connection", "switch-endpoint", "enable-offline-mode"},
		perrors.CategoryMemory:   {"clear-cache", "reduce-batch-size", "unload-inactive-models"},
		perrors.CategoryModel:    {"reload-model", "switch-fallback-model"},
		perrors.CategoryWorkflow: {"reset-workflow-state", "simplify-workflow"},
	}

	for category, names := range defaults {
		for _, name := range names {
			name := name
			rp.strategies[category] = append(rp.strategies[category], NewStrategy(name,
				func(ctx context.Context, info *ErrorInfo) (bool, error) {
					rp.logger.Info("Applying recovery strategy",
						"strategy", name,
						"category", string(info.Category),
						"error_type", info.Type,
					)
					return true, nil
				}))
		}
	}
}

// RegisterStrategy appends a strategy for the given category
func (rp *RecoveryProcedure) RegisterStrategy(category perrors.Category, strategy RecoveryStrategy) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.strategies[category] = append(rp.strategies[category], strategy)
}

// SetStrategies replaces the strategy list for the given category
func (rp *RecoveryProcedure) SetStrategies(category perrors.Category, strategies []RecoveryStrategy) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.strategies[category] = strategies
}

// AttemptRecovery tries the strategies registered for the error's category in
// order. The first success stops the loop and is recorded; if every strategy
// fails, one summary entry covering all attempted strategies is recorded.
// Returns false immediately when no strategies exist for the category.
func (rp *RecoveryProcedure) AttemptRecovery(ctx context.Context, info *ErrorInfo) bool {
	rp.mu.Lock()
	strategies := rp.strategies[info.Category]
	rp.mu.Unlock()

	if len(strategies) == 0 {
		return false
	}

	var attempted []string
	for _, strategy := range strategies {
		attempted = append(attempted, strategy.Name())

		ok, err := strategy.Attempt(ctx, info)
		if err != nil {
			rp.logger.Warn("Recovery strategy errored",
				"strategy", strategy.Name(),
				"category", string(info.Category),
				"error", err.Error(),
			)
			continue
		}
		if ok {
			rp.appendHistory(RecoveryAttempt{
				Timestamp: time.Now(),
				ErrorType: info.Type,
				Strategy:  strategy.Name(),
				Success:   true,
			})
			return true
		}
	}

	rp.appendHistory(RecoveryAttempt{
		Timestamp: time.Now(),
		ErrorType: info.Type,
		Strategy:  strings.Join(attempted, ","),
		Success:   false,
	})
	return false
}

// History returns the most recent attempts, newest last, truncated to limit
// (0 means all).
func (rp *RecoveryProcedure) History(limit int) []RecoveryAttempt {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	history := rp.history
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	out := make([]RecoveryAttempt, len(history))
	copy(out, history)
	return out
}

func (rp *RecoveryProcedure) appendHistory(attempt RecoveryAttempt) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.history = append(rp.history, attempt)
}
