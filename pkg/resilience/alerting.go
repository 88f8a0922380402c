package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	perrors "github.com/renderforge/resilience/pkg/errors"
	"github.com/renderforge/resilience/pkg/logging"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity int

const (
	// AlertInfo - informational alerts
	AlertInfo AlertSeverity = iota
	// AlertWarning - warning alerts that need attention
	AlertWarning
	// AlertError - error alerts that need immediate attention
	AlertError
	// AlertCritical - critical alerts that need urgent attention
	AlertCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case AlertInfo:
		return "INFO"
	case AlertWarning:
		return "WARNING"
	case AlertError:
		return "ERROR"
	case AlertCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alert represents an alert that needs to be sent
type Alert struct {
	ID          string                 `json:"id"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Source      string                 `json:"source"`
	Timestamp   time.Time              `json:"timestamp"`
	Tags        map[string]string      `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// AlertHandler defines the interface for handling alerts
type AlertHandler interface {
	HandleAlert(ctx context.Context, alert Alert) error
	Name() string
}

// AlertManager manages alert generation and routing
type AlertManager struct {
	logger *logging.Logger

	mutex    sync.RWMutex
	handlers []AlertHandler

	// Rate limiting
	rateMutex     sync.Mutex
	alertCounts   map[string]int
	lastReset     time.Time
	rateLimit     int
	resetInterval time.Duration
}

// NewAlertManager creates a new alert manager
func NewAlertManager() *AlertManager {
	return &AlertManager{
		logger:        logging.GetLogger(),
		alertCounts:   make(map[string]int),
		lastReset:     time.Now(),
		rateLimit:     100, // 100 alerts per source per reset interval
		resetInterval: time.Hour,
	}
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.handlers = append(am.handlers, handler)
	am.logger.Info("Alert handler added", "handler", handler.Name())
}

// SendAlert sends an alert to all registered handlers
func (am *AlertManager) SendAlert(ctx context.Context, alert Alert) error {
	if !am.checkRateLimit(alert.Source) {
		am.logger.Warn("Alert rate limit exceeded",
			"source", alert.Source,
			"title", alert.Title,
		)
		return fmt.Errorf("alert rate limit exceeded for source: %s", alert.Source)
	}

	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if alert.ID == "" {
		alert.ID = fmt.Sprintf("%s-%d", alert.Source, alert.Timestamp.UnixNano())
	}

	am.logger.Info("Sending alert",
		"id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
	)

	am.mutex.RLock()
	handlers := make([]AlertHandler, len(am.handlers))
	copy(handlers, am.handlers)
	am.mutex.RUnlock()

	var lastErr error
	successCount := 0

	for _, handler := range handlers {
		if err := handler.HandleAlert(ctx, alert); err != nil {
			am.logger.Error("Alert handler failed",
				"handler", handler.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all alert handlers failed: %w", lastErr)
	}

	return nil
}

func (am *AlertManager) checkRateLimit(source string) bool {
	am.rateMutex.Lock()
	defer am.rateMutex.Unlock()

	now := time.Now()
	if now.Sub(am.lastReset) >= am.resetInterval {
		am.alertCounts = make(map[string]int)
		am.lastReset = now
	}

	count := am.alertCounts[source]
	if count >= am.rateLimit {
		return false
	}

	am.alertCounts[source] = count + 1
	return true
}

// LoggingAlertHandler logs alerts to the application logger
type LoggingAlertHandler struct {
	logger *logging.Logger
}

// NewLoggingAlertHandler creates a new logging alert handler
func NewLoggingAlertHandler() *LoggingAlertHandler {
	return &LoggingAlertHandler{
		logger: logging.GetLogger(),
	}
}

// HandleAlert handles an alert by logging it
func (h *LoggingAlertHandler) HandleAlert(ctx context.Context, alert Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
		"description", alert.Description,
	}

	for key, value := range alert.Tags {
		fields = append(fields, fmt.Sprintf("tag_%s", key), value)
	}

	switch alert.Severity {
	case AlertInfo:
		h.logger.Info("ALERT: "+alert.Title, fields...)
	case AlertWarning:
		h.logger.Warn("ALERT: "+alert.Title, fields...)
	case AlertError:
		h.logger.Error("ALERT: "+alert.Title, fields...)
	case AlertCritical:
		h.logger.Error("CRITICAL ALERT: "+alert.Title, fields...)
	}

	return nil
}

// Name returns the name of the handler
func (h *LoggingAlertHandler) Name() string {
	return "logging"
}

// ErrorAlertGenerator turns recorded errors and degradation changes into alerts
type ErrorAlertGenerator struct {
	alertManager *AlertManager
	logger       *logging.Logger
}

// NewErrorAlertGenerator creates a new error alert generator
func NewErrorAlertGenerator(alertManager *AlertManager) *ErrorAlertGenerator {
	return &ErrorAlertGenerator{
		alertManager: alertManager,
		logger:       logging.GetLogger(),
	}
}

// HandleError generates an alert for a recorded error
func (eag *ErrorAlertGenerator) HandleError(ctx context.Context, info *ErrorInfo, source string) {
	if info == nil {
		return
	}

	alert := Alert{
		Severity:    alertSeverityFor(info.Severity),
		Title:       alertTitleFor(info.Category),
		Description: info.Message,
		Source:      source,
		Tags: map[string]string{
			"error_type": info.Type,
			"category":   string(info.Category),
			"severity":   string(info.Severity),
		},
		Metadata: map[string]interface{}{
			"error_id":            info.ID,
			"recovery_attempted":  info.RecoveryAttempted,
			"recovery_successful": info.RecoverySuccessful,
		},
	}

	if err := eag.alertManager.SendAlert(ctx, alert); err != nil {
		eag.logger.Error("Failed to send error alert",
			"error_id", info.ID,
			"alert_error", err,
			"source", source,
		)
	}
}

// HandleDegradation generates an alert for a degradation level change
func (eag *ErrorAlertGenerator) HandleDegradation(ctx context.Context, from, to DegradationLevel, reason string) {
	severity := AlertWarning
	if to == LevelMinimal {
		severity = AlertCritical
	} else if to > from {
		severity = AlertError
	} else {
		severity = AlertInfo
	}

	alert := Alert{
		Severity:    severity,
		Title:       "Degradation Level Changed",
		Description: fmt.Sprintf("degradation level changed from %s to %s: %s", from.String(), to.String(), reason),
		Source:      "degradation",
		Tags: map[string]string{
			"previous_level": from.String(),
			"current_level":  to.String(),
		},
	}

	if err := eag.alertManager.SendAlert(ctx, alert); err != nil {
		eag.logger.Error("Failed to send degradation alert", "error", err)
	}
}

func alertSeverityFor(severity perrors.Severity) AlertSeverity {
	switch severity {
	case perrors.SeverityCritical:
		return AlertCritical
	case perrors.SeverityHigh:
		return AlertError
	case perrors.SeverityMedium:
		return AlertWarning
	default:
		return AlertInfo
	}
}

func alertTitleFor(category perrors.Category) string {
	switch category {
	case perrors.CategoryNetwork:
		return "Backend Connectivity Error"
	case perrors.CategoryMemory:
		return "Memory Exhaustion"
	case perrors.CategoryValidation:
		return "Validation Error"
	case perrors.CategoryModel:
		return "Model Error"
	case perrors.CategoryWorkflow:
		return "Workflow Error"
	case perrors.CategorySystem:
		return "System Fault"
	default:
		return "Unclassified Error"
	}
}
