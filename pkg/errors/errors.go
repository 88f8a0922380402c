package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
	"time"
)

// Category classifies an error by the pipeline subsystem it originates from.
type Category string

const (
	CategoryNetwork    Category = "network"
	CategoryMemory     Category = "memory"
	CategoryValidation Category = "validation"
	CategoryModel      Category = "model"
	CategoryWorkflow   Category = "workflow"
	CategorySystem     Category = "system"
	CategoryUnknown    Category = "unknown"
)

// Severity indicates how much an error should alarm the system.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// PipelineError represents a pipeline error with classification context
type PipelineError struct {
	Category  Category               `json:"category"`
	Severity  Severity               `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Stack     string                 `json:"stack,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// New creates a new pipeline error with explicit classification
func New(category Category, severity Severity, code, message string) *PipelineError {
	return &PipelineError{
		Category:  category,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Context:   make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *PipelineError) WithCause(cause error) *PipelineError {
	e.Cause = cause
	return e
}

// WithContext adds a context entry to the error
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithStack captures the current stack trace on the error
func (e *PipelineError) WithStack() *PipelineError {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	e.Stack = string(buf[:n])
	return e
}

// Common error constructors
func NewNetworkError(message string) *PipelineError {
	return New(CategoryNetwork, SeverityHigh, "NETWORK_ERROR", message)
}

func NewTimeoutError(operation string) *PipelineError {
	return New(CategoryNetwork, SeverityHigh, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

func NewConnectionError(endpoint string) *PipelineError {
	return New(CategoryNetwork, SeverityHigh, "CONNECTION_ERROR",
		fmt.Sprintf("failed to connect to %s", endpoint)).
		WithContext("endpoint", endpoint)
}

func NewMemoryError(message string) *PipelineError {
	return New(CategoryMemory, SeverityCritical, "OUT_OF_MEMORY", message)
}

func NewValidationError(message string) *PipelineError {
	return New(CategoryValidation, SeverityMedium, "VALIDATION_ERROR", message)
}

func NewModelError(model, message string) *PipelineError {
	return New(CategoryModel, SeverityHigh, "MODEL_ERROR", message).
		WithContext("model", model)
}

func NewWorkflowError(workflowID, message string) *PipelineError {
	return New(CategoryWorkflow, SeverityMedium, "WORKFLOW_ERROR", message).
		WithContext("workflow_id", workflowID)
}

func NewSystemError(message string) *PipelineError {
	return New(CategorySystem, SeverityCritical, "SYSTEM_ERROR", message)
}

// IsCategory checks if the error belongs to a specific category
func IsCategory(err error, category Category) bool {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Category == category
	}
	return false
}

// GetCategory returns the error category, classifying untagged errors
func GetCategory(err error) Category {
	category, _ := Classify(err)
	return category
}

// GetSeverity returns the error severity, classifying untagged errors
func GetSeverity(err error) Severity {
	_, severity := Classify(err)
	return severity
}

// GetCode returns the error code if it's a PipelineError
func GetCode(err error) string {
	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return "UNKNOWN_ERROR"
}

// Classify derives category and severity for an error. Explicitly tagged
// errors win; everything else falls through a heuristic table over the error
// text and standard library error kinds.
func Classify(err error) (Category, Severity) {
	if err == nil {
		return CategoryUnknown, SeverityLow
	}

	var perr *PipelineError
	if errors.As(err, &perr) {
		return perr.Category, perr.Severity
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork, SeverityHigh
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork, SeverityHigh
	}

	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "connection", "timeout", "timed out", "dial", "dns",
		"refused", "unreachable", "broken pipe", "reset by peer"):
		return CategoryNetwork, SeverityHigh
	case containsAny(msg, "out of memory", "oom", "cuda", "cannot allocate", "allocation failed"):
		return CategoryMemory, SeverityCritical
	case containsAny(msg, "invalid", "validation", "malformed", "bad request", "unsupported parameter"):
		return CategoryValidation, SeverityMedium
	case containsAny(msg, "segfault", "fatal", "panic"):
		return CategorySystem, SeverityCritical
	default:
		return CategoryUnknown, SeverityLow
	}
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
