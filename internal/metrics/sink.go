package metrics

import (
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Run metrics
	RunStarted(pass string)
	RunCompleted(pass, status string, duration time.Duration)
	FeedDateCompleted(pass, sourceEnv, status string, duration time.Duration)
	FilesTransferred(sourceEnv string, count int)
	StagingCleanupFailed()

	// Reconciliation metrics
	ObjectsReconciled(count int)
	ReconcileError()
	OrphansClosed(count int)

	// Trigger metrics (serve mode)
	TriggerFired(schedule string)
	TriggerDropped(schedule string)
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()

	// Notification metrics
	NotificationAttempt(channel, statusClass string, duration time.Duration)
}

// Status labels for run and feed-date metrics follow domain.ExecutionStatus;
// a skipped date is reported with StatusSkipped.
const StatusSkipped = "SKIPPED"

// StatusClass constants for NotificationAttempt.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
			return StatusClassTimeout
		}
		if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial") {
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
