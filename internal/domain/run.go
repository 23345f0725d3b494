package domain

import "time"

// Pass names one of the two independent run kinds.
type Pass string

const (
	PassGetFiles Pass = "getfiles"
	PassDataLoad Pass = "dataload"
)

// RunRequest carries the arguments of one run. Start and End are optional;
// a nil Start means "from the day after the last success" and a nil End
// means yesterday.
type RunRequest struct {
	Pass       Pass
	Zone       string
	Country    string
	SourceEnv  string
	WorkflowID string
	Program    string
	Process    string
	Start      *time.Time
	End        *time.Time
	Force      bool
}

// LockKey identifies runs that must not overlap.
func (r RunRequest) LockKey() string {
	return string(r.Pass) + ":" + r.Zone + ":" + r.Country + ":" + r.SourceEnv + ":" + r.Process
}

// Outcome is the result for one feed and one date.
type Outcome struct {
	FeedID       int64
	SourceID     int64
	Date         time.Time
	ExecutionID  int64
	Status       ExecutionStatus
	PostRunCount int64
	Skipped      bool
	Code         string
	Err          error
	Duration     time.Duration
}

// Report is the overall result of a run.
type Report struct {
	RunExecutionID int64
	Status         ExecutionStatus
	Outcomes       []Outcome
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Failed counts outcomes with FAILED status.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == ExecutionStatusFailed {
			n++
		}
	}
	return n
}
