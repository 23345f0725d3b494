// Package events publishes run and feed outcomes to downstream consumers.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rudolphlogin/feedload/internal/domain"
)

type Type string

const (
	TypeFeedOutcome Type = "feed.outcome"
	TypeRunFinished Type = "run.finished"
)

// Event is the JSON document every notifier receives.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	Pass       string `json:"pass"`
	Zone       string `json:"zone"`
	Country    string `json:"country"`
	SourceEnv  string `json:"source_env"`
	Process    string `json:"process"`
	WorkflowID string `json:"workflow_id"`

	RunExecutionID int64  `json:"run_execution_id"`
	SourceID       int64  `json:"source_id,omitempty"`
	FeedID         int64  `json:"feed_id,omitempty"`
	ExecutionID    int64  `json:"execution_id,omitempty"`
	Date           string `json:"date,omitempty"`

	Status       string `json:"status"`
	PostRunCount int64  `json:"post_run_count,omitempty"`
	Skipped      bool   `json:"skipped,omitempty"`
	Code         string `json:"code,omitempty"`
	Error        string `json:"error,omitempty"`

	// Run level only.
	Outcomes int `json:"outcomes,omitempty"`
	Failed   int `json:"failed,omitempty"`
}

// Key groups events of one feed on one partition.
func (e Event) Key() string {
	if e.FeedID == 0 {
		return e.SourceEnv + "/run"
	}
	return e.SourceEnv + "/" + strconv.FormatInt(e.FeedID, 10)
}

func base(t Type, req domain.RunRequest, runID int64, at time.Time) Event {
	return Event{
		ID:             uuid.NewString(),
		Type:           t,
		OccurredAt:     at.UTC(),
		Pass:           string(req.Pass),
		Zone:           req.Zone,
		Country:        req.Country,
		SourceEnv:      req.SourceEnv,
		Process:        req.Process,
		WorkflowID:     req.WorkflowID,
		RunExecutionID: runID,
	}
}

// OutcomeEvent describes one feed date.
func OutcomeEvent(req domain.RunRequest, runID int64, o domain.Outcome, at time.Time) Event {
	e := base(TypeFeedOutcome, req, runID, at)
	e.SourceID = o.SourceID
	e.FeedID = o.FeedID
	e.ExecutionID = o.ExecutionID
	if !o.Date.IsZero() {
		e.Date = o.Date.Format("2006-01-02")
	}
	e.Status = string(o.Status)
	e.PostRunCount = o.PostRunCount
	e.Skipped = o.Skipped
	e.Code = o.Code
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}

// RunEvent summarizes a finished run.
func RunEvent(req domain.RunRequest, rep domain.Report, at time.Time) Event {
	e := base(TypeRunFinished, req, rep.RunExecutionID, at)
	e.ExecutionID = rep.RunExecutionID
	e.Status = string(rep.Status)
	e.Outcomes = len(rep.Outcomes)
	e.Failed = rep.Failed()
	return e
}

// Notifier delivers one event. Implementations must honor ctx.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc lets a plain function act as a Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }
