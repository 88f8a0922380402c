package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/renderforge/resilience/pkg/errors"
)

func TestNewErrorInfo_FromPipelineError(t *testing.T) {
	err := perrors.NewConnectionError("comfyui:8188")

	info := NewErrorInfo(err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "CONNECTION_ERROR", info.Type)
	assert.Equal(t, perrors.CategoryNetwork, info.Category)
	assert.Equal(t, perrors.SeverityHigh, info.Severity)
	assert.Equal(t, "comfyui:8188", info.Context["endpoint"])
	assert.False(t, info.RecoveryAttempted)
}

func TestNewErrorInfo_FromPlainError(t *testing.T) {
	info := NewErrorInfo(errors.New("CUDA out of memory"))

	assert.Equal(t, perrors.CategoryMemory, info.Category)
	assert.Equal(t, perrors.SeverityCritical, info.Severity)
	assert.Equal(t, "*errors.errorString", info.Type)
}

func TestErrorAnalytics_CapacityEviction(t *testing.T) {
	ea := NewErrorAnalytics(3)

	for i := 0; i < 5; i++ {
		ea.RecordError(NewErrorInfo(perrors.NewConnectionError("comfyui:8188")))
	}

	// Total count survives eviction, history is bounded
	assert.Equal(t, 5, ea.TotalErrors())
	assert.Len(t, ea.ErrorsByCategory(perrors.CategoryNetwork), 3)
}

func TestErrorAnalytics_ErrorRate(t *testing.T) {
	ea := NewErrorAnalytics(100)

	for i := 0; i < 10; i++ {
		ea.RecordError(NewErrorInfo(perrors.NewConnectionError("comfyui:8188")))
	}

	// 10 errors in a 1-minute window
	rate := ea.ErrorRate(time.Minute)
	assert.InDelta(t, 10.0, rate, 0.1)

	// Same 10 errors over a 10-minute window
	rate = ea.ErrorRate(10 * time.Minute)
	assert.InDelta(t, 1.0, rate, 0.1)

	assert.Zero(t, ea.ErrorRate(0))
}

func TestErrorAnalytics_MostCommonErrors(t *testing.T) {
	ea := NewErrorAnalytics(100)

	for i := 0; i < 3; i++ {
		ea.RecordError(NewErrorInfo(perrors.NewConnectionError("comfyui:8188")))
	}
	for i := 0; i < 2; i++ {
		ea.RecordError(NewErrorInfo(perrors.NewMemoryError("CUDA out of memory")))
	}
	ea.RecordError(NewErrorInfo(perrors.NewValidationError("bad steps")))

	common := ea.MostCommonErrors(2)
	require.Len(t, common, 2)
	assert.Equal(t, ErrorCount{Type: "CONNECTION_ERROR", Count: 3}, common[0])
	assert.Equal(t, ErrorCount{Type: "OUT_OF_MEMORY", Count: 2}, common[1])
}

func TestErrorAnalytics_RecoveryRate(t *testing.T) {
	ea := NewErrorAnalytics(100)
	assert.Zero(t, ea.RecoveryRate())

	for i := 0; i < 4; i++ {
		info := NewErrorInfo(perrors.NewConnectionError("comfyui:8188"))
		info.RecoveryAttempted = true
		info.RecoverySuccessful = i < 3
		ea.RecordError(info)
	}

	assert.InDelta(t, 0.75, ea.RecoveryRate(), 1e-9)
}

func TestErrorAnalytics_Report(t *testing.T) {
	ea := NewErrorAnalytics(100)

	for i := 0; i < 12; i++ {
		ea.RecordError(NewErrorInfo(perrors.NewSystemError("segfault in worker")))
	}
	ea.RecordError(NewErrorInfo(perrors.NewConnectionError("comfyui:8188")))

	report := ea.Report()
	assert.Equal(t, 13, report.TotalErrors)
	assert.Equal(t, 12, report.ErrorsByCategory[string(perrors.CategorySystem)])
	assert.Equal(t, 1, report.ErrorsByCategory[string(perrors.CategoryNetwork)])
	assert.Equal(t, 12, report.ErrorsBySeverity[string(perrors.SeverityCritical)])
	assert.InDelta(t, 13.0/60.0, report.ErrorRatePerMinute, 0.01)

	// At most 10 recent criticals, oldest first
	require.Len(t, report.RecentCriticalErrors, 10)
	for _, entry := range report.RecentCriticalErrors {
		assert.Equal(t, "SYSTEM_ERROR", entry.Type)
	}
	assert.True(t, !report.RecentCriticalErrors[0].Timestamp.After(report.RecentCriticalErrors[9].Timestamp))

	require.NotEmpty(t, report.MostCommonErrors)
	assert.Equal(t, "SYSTEM_ERROR", report.MostCommonErrors[0].Type)
}
