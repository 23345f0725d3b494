package runner

import (
	"log/slog"
	"strings"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
)

// RunContext is what every step of a run needs to know about where it is.
// It is passed by value; each narrowing returns a copy.
type RunContext struct {
	Request        domain.RunRequest
	ProcessID      int64
	RunExecutionID int64

	Feed        domain.FeedConfig
	Date        time.Time
	ExecutionID int64

	Logger *slog.Logger
}

// ForFeed narrows the context to one feed.
func (rc RunContext) ForFeed(feed domain.FeedConfig) RunContext {
	rc.Feed = feed
	rc.Date = time.Time{}
	rc.ExecutionID = 0
	rc.Logger = rc.Logger.With("feed_id", feed.FeedID, "source_id", feed.SourceID)
	return rc
}

// ForDate narrows the context to one execution date.
func (rc RunContext) ForDate(date time.Time) RunContext {
	rc.Date = date
	rc.ExecutionID = 0
	rc.Logger = rc.Logger.With("execution_date", date.Format("2006-01-02"))
	return rc
}

// WithExecution records the id of the opened execution record.
func (rc RunContext) WithExecution(id int64) RunContext {
	rc.ExecutionID = id
	rc.Logger = rc.Logger.With("execution_id", id)
	return rc
}

// Attempt builds the tracker input for the current feed and date.
func (rc RunContext) Attempt() domain.Attempt {
	date := rc.Date
	return domain.Attempt{
		SourceID:   rc.Feed.SourceID,
		FeedID:     rc.Feed.FeedID,
		ProcessID:  rc.ProcessID,
		WorkflowID: rc.Request.WorkflowID,
		Date:       &date,
	}
}

// fail builds a FAILED outcome and logs it with the execution id.
func (rc RunContext) fail(err error) domain.Outcome {
	err = domain.WithExecutionID(err, rc.ExecutionID)
	rc.Logger.Error("feed date failed", "execution_id", domain.ExecutionIDOf(err),
		"kind", kindOf(err), "code", domain.CodeOf(err), "err", err)
	return domain.Outcome{
		FeedID:      rc.Feed.FeedID,
		SourceID:    rc.Feed.SourceID,
		Date:        rc.Date,
		ExecutionID: rc.ExecutionID,
		Status:      domain.ExecutionStatusFailed,
		Code:        domain.CodeOf(err),
		Err:         err,
	}
}

func (rc RunContext) skip() domain.Outcome {
	return domain.Outcome{
		FeedID:   rc.Feed.FeedID,
		SourceID: rc.Feed.SourceID,
		Date:     rc.Date,
		Status:   domain.ExecutionStatusSuccess,
		Skipped:  true,
	}
}

func (rc RunContext) succeed(count int64) domain.Outcome {
	return domain.Outcome{
		FeedID:       rc.Feed.FeedID,
		SourceID:     rc.Feed.SourceID,
		Date:         rc.Date,
		ExecutionID:  rc.ExecutionID,
		Status:       domain.ExecutionStatusSuccess,
		PostRunCount: count,
	}
}

func kindOf(err error) string {
	if domain.IsApplication(err) {
		return domain.KindApplication.String()
	}
	return domain.KindSystem.String()
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
