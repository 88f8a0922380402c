package resilience

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	perrors "github.com/renderforge/resilience/pkg/errors"
	"github.com/renderforge/resilience/pkg/logging"
)

// ErrorInfo is the analytics record created once per unrecovered failure.
// It is immutable after creation except for the two recovery flags, which
// the facade sets exactly once.
type ErrorInfo struct {
	ID                 string                 `json:"id"`
	Timestamp          time.Time              `json:"timestamp"`
	Type               string                 `json:"type"`
	Message            string                 `json:"message"`
	Category           perrors.Category       `json:"category"`
	Severity           perrors.Severity       `json:"severity"`
	Stack              string                 `json:"stack,omitempty"`
	Context            map[string]interface{} `json:"context,omitempty"`
	RecoveryAttempted  bool                   `json:"recovery_attempted"`
	RecoverySuccessful bool                   `json:"recovery_successful"`
}

// NewErrorInfo builds an analytics record for an error, classifying it if the
// error carries no explicit tags.
func NewErrorInfo(err error) *ErrorInfo {
	category, severity := perrors.Classify(err)

	info := &ErrorInfo{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Type:      errorTypeName(err),
		Message:   err.Error(),
		Category:  category,
		Severity:  severity,
	}

	var perr *perrors.PipelineError
	if errors.As(err, &perr) {
		info.Stack = perr.Stack
		info.Context = perr.Context
	}

	return info
}

func errorTypeName(err error) string {
	var perr *perrors.PipelineError
	if errors.As(err, &perr) {
		return perr.Code
	}
	return fmt.Sprintf("%T", err)
}

// ErrorCount pairs an error type with its occurrence count
type ErrorCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// CriticalErrorEntry is a trimmed view of a critical error for reports
type CriticalErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// AnalyticsReport aggregates the recorded error history
type AnalyticsReport struct {
	TotalErrors          int                  `json:"total_errors"`
	ErrorRatePerMinute   float64              `json:"error_rate_per_minute"`
	MostCommonErrors     []ErrorCount         `json:"most_common_errors"`
	ErrorsByCategory     map[string]int       `json:"errors_by_category"`
	ErrorsBySeverity     map[string]int       `json:"errors_by_severity"`
	RecoveryRate         float64              `json:"recovery_rate"`
	RecentCriticalErrors []CriticalErrorEntry `json:"recent_critical_errors"`
}

// ErrorAnalytics keeps a capacity-bounded FIFO history of recorded errors
// plus running aggregate counts.
type ErrorAnalytics struct {
	logger *logging.Logger

	mu               sync.Mutex
	capacity         int
	history          []*ErrorInfo
	totalErrors      int
	countsByType     map[string]int
	countsByCategory map[perrors.Category]int
	countsBySeverity map[perrors.Severity]int
}

// NewErrorAnalytics creates analytics with the given history capacity
func NewErrorAnalytics(capacity int) *ErrorAnalytics {
	if capacity <= 0 {
		capacity = 1000
	}

	return &ErrorAnalytics{
		logger:           logging.GetLogger(),
		capacity:         capacity,
		countsByType:     make(map[string]int),
		countsByCategory: make(map[perrors.Category]int),
		countsBySeverity: make(map[perrors.Severity]int),
	}
}

// RecordError appends an error to the history, evicting the oldest entry
// beyond capacity, and bumps the aggregate counts.
func (ea *ErrorAnalytics) RecordError(info *ErrorInfo) {
	ea.mu.Lock()
	defer ea.mu.Unlock()

	ea.history = append(ea.history, info)
	if len(ea.history) > ea.capacity {
		ea.history = ea.history[1:]
	}

	ea.totalErrors++
	ea.countsByType[info.Type]++
	ea.countsByCategory[info.Category]++
	ea.countsBySeverity[info.Severity]++

	ea.logger.Debug("Error recorded",
		"error_id", info.ID,
		"type", info.Type,
		"category", string(info.Category),
		"severity", string(info.Severity),
	)
}

// ErrorRate returns the number of errors recorded within the window divided
// by the window length in minutes (errors per minute).
func (ea *ErrorAnalytics) ErrorRate(window time.Duration) float64 {
	if window <= 0 {
		return 0
	}

	ea.mu.Lock()
	defer ea.mu.Unlock()

	cutoff := time.Now().Add(-window)
	count := 0
	for _, info := range ea.history {
		if !info.Timestamp.Before(cutoff) {
			count++
		}
	}

	return float64(count) / window.Minutes()
}

// MostCommonErrors returns error types sorted descending by count, truncated
// to limit.
func (ea *ErrorAnalytics) MostCommonErrors(limit int) []ErrorCount {
	ea.mu.Lock()
	defer ea.mu.Unlock()

	counts := make([]ErrorCount, 0, len(ea.countsByType))
	for errType, count := range ea.countsByType {
		counts = append(counts, ErrorCount{Type: errType, Count: count})
	}

	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Type < counts[j].Type
	})

	if limit > 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	return counts
}

// ErrorsByCategory returns the history entries with the given category
func (ea *ErrorAnalytics) ErrorsByCategory(category perrors.Category) []*ErrorInfo {
	ea.mu.Lock()
	defer ea.mu.Unlock()

	var matches []*ErrorInfo
	for _, info := range ea.history {
		if info.Category == category {
			matches = append(matches, info)
		}
	}
	return matches
}

// ErrorsBySeverity returns the history entries with the given severity
func (ea *ErrorAnalytics) ErrorsBySeverity(severity perrors.Severity) []*ErrorInfo {
	ea.mu.Lock()
	defer ea.mu.Unlock()

	var matches []*ErrorInfo
	for _, info := range ea.history {
		if info.Severity == severity {
			matches = append(matches, info)
		}
	}
	return matches
}

// RecoveryRate returns successful recoveries over attempted recoveries, or 0
// if nothing has been attempted.
func (ea *ErrorAnalytics) RecoveryRate() float64 {
	ea.mu.Lock()
	defer ea.mu.Unlock()
	return ea.recoveryRateLocked()
}

func (ea *ErrorAnalytics) recoveryRateLocked() float64 {
	attempted := 0
	successful := 0
	for _, info := range ea.history {
		if info.RecoveryAttempted {
			attempted++
		}
		if info.RecoverySuccessful {
			successful++
		}
	}

	if attempted == 0 {
		return 0
	}
	return float64(successful) / float64(attempted)
}

// TotalErrors returns the number of errors ever recorded
func (ea *ErrorAnalytics) TotalErrors() int {
	ea.mu.Lock()
	defer ea.mu.Unlock()
	return ea.totalErrors
}

// Report assembles an aggregate view of the recorded errors, including the
// last 10 critical entries and the error rate over the last hour.
func (ea *ErrorAnalytics) Report() *AnalyticsReport {
	ea.mu.Lock()
	defer ea.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	recentCount := 0
	for _, info := range ea.history {
		if !info.Timestamp.Before(cutoff) {
			recentCount++
		}
	}

	byCategory := make(map[string]int, len(ea.countsByCategory))
	for category, count := range ea.countsByCategory {
		byCategory[string(category)] = count
	}

	bySeverity := make(map[string]int, len(ea.countsBySeverity))
	for severity, count := range ea.countsBySeverity {
		bySeverity[string(severity)] = count
	}

	var criticals []CriticalErrorEntry
	for i := len(ea.history) - 1; i >= 0 && len(criticals) < 10; i-- {
		info := ea.history[i]
		if info.Severity == perrors.SeverityCritical {
			criticals = append(criticals, CriticalErrorEntry{
				Timestamp: info.Timestamp,
				Type:      info.Type,
				Message:   info.Message,
			})
		}
	}
	// Oldest first
	for i, j := 0, len(criticals)-1; i < j; i, j = i+1, j-1 {
		criticals[i], criticals[j] = criticals[j], criticals[i]
	}

	report := &AnalyticsReport{
		TotalErrors:          ea.totalErrors,
		ErrorRatePerMinute:   float64(recentCount) / 60.0,
		ErrorsByCategory:     byCategory,
		ErrorsBySeverity:     bySeverity,
		RecoveryRate:         ea.recoveryRateLocked(),
		RecentCriticalErrors: criticals,
	}

	counts := make([]ErrorCount, 0, len(ea.countsByType))
	for errType, count := range ea.countsByType {
		counts = append(counts, ErrorCount{Type: errType, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Type < counts[j].Type
	})
	if len(counts) > 5 {
		counts = counts[:5]
	}
	report.MostCommonErrors = counts

	return report
}
