// Package tracker records one execution row per attempt of a process for a
// feed and date. Rows are created STARTED and closed exactly once.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
)

var (
	// ErrAlreadyClosed is returned when a record is no longer STARTED.
	ErrAlreadyClosed = errors.New("execution record already closed")

	// ErrNotFound is returned for an unknown record id.
	ErrNotFound = errors.New("execution record not found")
)

// Store persists execution records. CloseExecution must only update a row
// whose status is still STARTED and report ErrAlreadyClosed otherwise.
type Store interface {
	InsertExecution(ctx context.Context, rec domain.ExecutionRecord) (int64, error)
	CloseExecution(ctx context.Context, id int64, t domain.Terminal, finishedAt time.Time) error
	LastSuccessDate(ctx context.Context, feedID, processID int64) (*time.Time, error)
	LatestStatus(ctx context.Context, feedID, processID int64, date time.Time) (domain.ExecutionStatus, bool, error)
}

type Tracker struct {
	store   Store
	timeout time.Duration
	clock   func() time.Time
}

// New creates a Tracker. A zero timeout leaves store calls bounded only by
// the caller's context.
func New(store Store, timeout time.Duration) *Tracker {
	return &Tracker{store: store, timeout: timeout, clock: time.Now}
}

// WithClock replaces the time source.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	return t
}

func (t *Tracker) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}

// Open inserts a STARTED record for one feed and date.
func (t *Tracker) Open(ctx context.Context, a domain.Attempt) (int64, error) {
	ctx, cancel := t.bounded(ctx)
	defer cancel()

	var date *time.Time
	if a.Date != nil {
		d := domain.Day(*a.Date)
		date = &d
	}
	id, err := t.store.InsertExecution(ctx, domain.ExecutionRecord{
		SourceID:      a.SourceID,
		FeedID:        a.FeedID,
		ProcessID:     a.ProcessID,
		WorkflowID:    a.WorkflowID,
		ExecutionDate: date,
		Status:        domain.ExecutionStatusStarted,
		StartedAt:     t.clock().UTC(),
	})
	if err != nil {
		return 0, domain.System(err, "open execution for feed %d", a.FeedID)
	}
	return id, nil
}

// OpenRun inserts the run-level STARTED record.
func (t *Tracker) OpenRun(ctx context.Context, processID int64, workflowID string) (int64, error) {
	return t.Open(ctx, domain.Attempt{ProcessID: processID, WorkflowID: workflowID})
}

// Close moves a STARTED record to SUCCESS or FAILED.
func (t *Tracker) Close(ctx context.Context, id int64, term domain.Terminal) error {
	if !term.Status.Terminal() {
		return fmt.Errorf("close execution %d: status %q is not terminal", id, term.Status)
	}
	ctx, cancel := t.bounded(ctx)
	defer cancel()

	err := t.store.CloseExecution(ctx, id, term, t.clock().UTC())
	if err != nil {
		if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrNotFound) {
			return fmt.Errorf("close execution %d: %w", id, err)
		}
		return domain.WithExecutionID(domain.System(err, "close execution"), id)
	}
	return nil
}

// LastSuccess returns the latest execution date among SUCCESS records, or
// nil when the feed has never succeeded for the process.
func (t *Tracker) LastSuccess(ctx context.Context, feedID, processID int64) (*time.Time, error) {
	ctx, cancel := t.bounded(ctx)
	defer cancel()

	last, err := t.store.LastSuccessDate(ctx, feedID, processID)
	if err != nil {
		return nil, domain.System(err, "last success for feed %d", feedID)
	}
	return last, nil
}

// LatestStatus returns the status of the most recent record for the date.
// ok is false when there is none.
func (t *Tracker) LatestStatus(ctx context.Context, feedID, processID int64, date time.Time) (status domain.ExecutionStatus, ok bool, err error) {
	ctx, cancel := t.bounded(ctx)
	defer cancel()

	status, ok, err = t.store.LatestStatus(ctx, feedID, processID, domain.Day(date))
	if err != nil {
		return "", false, domain.System(err, "latest status for feed %d", feedID)
	}
	return status, ok, nil
}
