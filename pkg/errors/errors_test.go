package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineError_Error(t *testing.T) {
	err := NewNetworkError("backend unreachable")
	assert.Equal(t, "NETWORK_ERROR: backend unreachable", err.Error())

	wrapped := NewNetworkError("backend unreachable").WithCause(errors.New("dial tcp: refused"))
	assert.Contains(t, wrapped.Error(), "caused by: dial tcp: refused")
}

func TestPipelineError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewSystemError("wrapper").WithCause(cause)

	assert.True(t, errors.Is(err, cause))
}

func TestPipelineError_WithContext(t *testing.T) {
	err := NewModelError("sdxl-base", "checkpoint missing").WithContext("path", "/models/sdxl.safetensors")

	assert.Equal(t, "sdxl-base", err.Context["model"])
	assert.Equal(t, "/models/sdxl.safetensors", err.Context["path"])
}

func TestIsCategory(t *testing.T) {
	err := NewValidationError("bad steps value")

	assert.True(t, IsCategory(err, CategoryValidation))
	assert.False(t, IsCategory(err, CategoryNetwork))
	assert.False(t, IsCategory(errors.New("plain"), CategoryValidation))
}

func TestIsCategory_Wrapped(t *testing.T) {
	err := fmt.Errorf("submit failed: %w", NewTimeoutError("generation"))
	assert.True(t, IsCategory(err, CategoryNetwork))
}

func TestClassify_TaggedErrors(t *testing.T) {
	category, severity := Classify(NewMemoryError("VRAM exhausted"))
	assert.Equal(t, CategoryMemory, category)
	assert.Equal(t, SeverityCritical, severity)

	category, severity = Classify(NewWorkflowError("wf-42", "node cycle"))
	assert.Equal(t, CategoryWorkflow, category)
	assert.Equal(t, SeverityMedium, severity)
}

func TestClassify_Heuristics(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category Category
		severity Severity
	}{
		{"nil error", nil, CategoryUnknown, SeverityLow},
		{"connection refused", errors.New("dial tcp 10.0.0.1:8188: connection refused"), CategoryNetwork, SeverityHigh},
		{"timeout text", errors.New("request timed out"), CategoryNetwork, SeverityHigh},
		{"deadline exceeded", context.DeadlineExceeded, CategoryNetwork, SeverityHigh},
		{"cuda oom", errors.New("CUDA out of memory"), CategoryMemory, SeverityCritical},
		{"allocation", errors.New("cannot allocate tensor"), CategoryMemory, SeverityCritical},
		{"bad input", errors.New("invalid resolution 1081p"), CategoryValidation, SeverityMedium},
		{"system fault", errors.New("fatal error: runtime"), CategorySystem, SeverityCritical},
		{"unknown", errors.New("something odd happened"), CategoryUnknown, SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, severity := Classify(tt.err)
			assert.Equal(t, tt.category, category)
			assert.Equal(t, tt.severity, severity)
		})
	}
}

func TestGetCode(t *testing.T) {
	require.Equal(t, "TIMEOUT", GetCode(NewTimeoutError("upload")))
	require.Equal(t, "UNKNOWN_ERROR", GetCode(errors.New("plain")))
}
