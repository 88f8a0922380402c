package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/renderforge/resilience/pkg/errors"
)

type capturingHandler struct {
	mu     sync.Mutex
	alerts []Alert
	fail   bool
}

func (h *capturingHandler) HandleAlert(ctx context.Context, alert Alert) error {
	if h.fail {
		return errors.New("handler failed")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = append(h.alerts, alert)
	return nil
}

func (h *capturingHandler) Name() string { return "capturing" }

func (h *capturingHandler) captured() []Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Alert, len(h.alerts))
	copy(out, h.alerts)
	return out
}

func TestAlertManager_SendAlert(t *testing.T) {
	am := NewAlertManager()
	handler := &capturingHandler{}
	am.AddHandler(handler)

	err := am.SendAlert(context.Background(), Alert{
		Severity: AlertWarning,
		Title:    "Backend Connectivity Error",
		Source:   "comfyui",
	})
	require.NoError(t, err)

	alerts := handler.captured()
	require.Len(t, alerts, 1)
	assert.NotEmpty(t, alerts[0].ID)
	assert.False(t, alerts[0].Timestamp.IsZero())
}

func TestAlertManager_AllHandlersFailed(t *testing.T) {
	am := NewAlertManager()
	am.AddHandler(&capturingHandler{fail: true})

	err := am.SendAlert(context.Background(), Alert{Source: "test", Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all alert handlers failed")
}

func TestAlertManager_RateLimit(t *testing.T) {
	am := NewAlertManager()
	handler := &capturingHandler{}
	am.AddHandler(handler)

	for i := 0; i < 100; i++ {
		require.NoError(t, am.SendAlert(context.Background(), Alert{Source: "noisy", Title: "t"}))
	}

	err := am.SendAlert(context.Background(), Alert{Source: "noisy", Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")

	// Other sources are unaffected
	require.NoError(t, am.SendAlert(context.Background(), Alert{Source: "quiet", Title: "t"}))
	assert.Len(t, handler.captured(), 101)
}

func TestErrorAlertGenerator_HandleError(t *testing.T) {
	am := NewAlertManager()
	handler := &capturingHandler{}
	am.AddHandler(handler)
	gen := NewErrorAlertGenerator(am)

	info := NewErrorInfo(perrors.NewMemoryError("CUDA out of memory"))
	gen.HandleError(context.Background(), info, "pipeline")

	alerts := handler.captured()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCritical, alerts[0].Severity)
	assert.Equal(t, "Memory Exhaustion", alerts[0].Title)
	assert.Equal(t, "pipeline", alerts[0].Source)
	assert.Equal(t, "OUT_OF_MEMORY", alerts[0].Tags["error_type"])
}

func TestErrorAlertGenerator_SeverityMapping(t *testing.T) {
	tests := []struct {
		severity perrors.Severity
		want     AlertSeverity
	}{
		{perrors.SeverityCritical, AlertCritical},
		{perrors.SeverityHigh, AlertError},
		{perrors.SeverityMedium, AlertWarning},
		{perrors.SeverityLow, AlertInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, alertSeverityFor(tt.severity))
	}
}

func TestErrorAlertGenerator_HandleDegradation(t *testing.T) {
	am := NewAlertManager()
	handler := &capturingHandler{}
	am.AddHandler(handler)
	gen := NewErrorAlertGenerator(am)

	gen.HandleDegradation(context.Background(), LevelFull, LevelHigh, "overload")
	gen.HandleDegradation(context.Background(), LevelLow, LevelMinimal, "overload")
	gen.HandleDegradation(context.Background(), LevelHigh, LevelFull, "restore")

	alerts := handler.captured()
	require.Len(t, alerts, 3)
	assert.Equal(t, AlertError, alerts[0].Severity)
	assert.Equal(t, AlertCritical, alerts[1].Severity)
	assert.Equal(t, AlertInfo, alerts[2].Severity)
}
