package domain

import "time"

type ExecutionStatus string

const (
	ExecutionStatusStarted ExecutionStatus = "STARTED"
	ExecutionStatusSuccess ExecutionStatus = "SUCCESS"
	ExecutionStatusFailed  ExecutionStatus = "FAILED"
)

func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusSuccess || s == ExecutionStatusFailed
}

// ExecutionRecord tracks one attempt of one process for one feed and date.
// Run-level records have FeedID == 0 and a nil ExecutionDate.
type ExecutionRecord struct {
	ID int64

	SourceID   int64
	FeedID     int64
	ProcessID  int64
	WorkflowID string

	ExecutionDate *time.Time
	Status        ExecutionStatus

	PostRunCount       int64
	EligibleForNextRun bool

	StartedAt  time.Time
	FinishedAt *time.Time
}

// Attempt is what the tracker needs to open a record.
type Attempt struct {
	SourceID   int64
	FeedID     int64
	ProcessID  int64
	WorkflowID string
	Date       *time.Time
}

// Terminal is the single update that closes a STARTED record.
type Terminal struct {
	Status       ExecutionStatus
	PostRunCount int64
	Eligible     bool
}
