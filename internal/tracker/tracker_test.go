package tracker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/store/memory"
	"github.com/rudolphlogin/feedload/internal/testutil"
	"github.com/rudolphlogin/feedload/internal/tracker"
)

func newTracker() (*tracker.Tracker, *memory.Store, *testutil.FakeClock) {
	store := memory.New()
	clock := testutil.NewFakeClock(time.Date(2024, 3, 6, 2, 0, 0, 0, time.UTC))
	return tracker.New(store, time.Second).WithClock(clock.Now), store, clock
}

func attempt(feedID int64, date string) domain.Attempt {
	d := testutil.Date(date)
	return domain.Attempt{SourceID: 1, FeedID: feedID, ProcessID: 7, WorkflowID: "wf-1", Date: &d}
}

func TestOpenClose(t *testing.T) {
	ctx := testutil.TestContext(t)
	tr, store, clock := newTracker()

	id, err := tr.Open(ctx, attempt(10, "2024-03-05"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if id == 0 {
		t.Fatal("Open returned id 0")
	}

	clock.Advance(time.Minute)
	if err := tr.Close(ctx, id, domain.Terminal{Status: domain.ExecutionStatusSuccess, PostRunCount: 3, Eligible: true}); err != nil {
		t.Fatalf("Close: %v", err)
	}

	recs := store.Records()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.Status != domain.ExecutionStatusSuccess || r.PostRunCount != 3 || !r.EligibleForNextRun {
		t.Errorf("record = %+v", r)
	}
	if r.FinishedAt == nil || r.FinishedAt.Sub(r.StartedAt) != time.Minute {
		t.Errorf("FinishedAt = %v, StartedAt = %v", r.FinishedAt, r.StartedAt)
	}
}

func TestClose_Twice(t *testing.T) {
	ctx := testutil.TestContext(t)
	tr, store, _ := newTracker()

	id, _ := tr.Open(ctx, attempt(10, "2024-03-05"))
	if err := tr.Close(ctx, id, domain.Terminal{Status: domain.ExecutionStatusFailed}); err != nil {
		t.Fatal(err)
	}
	err := tr.Close(ctx, id, domain.Terminal{Status: domain.ExecutionStatusSuccess, PostRunCount: 9})
	if !errors.Is(err, tracker.ErrAlreadyClosed) {
		t.Fatalf("second Close = %v, want ErrAlreadyClosed", err)
	}
	if got := store.Records()[0].Status; got != domain.ExecutionStatusFailed {
		t.Errorf("status = %s, want FAILED to be kept", got)
	}
}

func TestClose_Validation(t *testing.T) {
	ctx := testutil.TestContext(t)
	tr, _, _ := newTracker()

	id, _ := tr.Open(ctx, attempt(10, "2024-03-05"))
	if err := tr.Close(ctx, id, domain.Terminal{Status: domain.ExecutionStatusStarted}); err == nil {
		t.Error("expected error for non-terminal status")
	}
	if err := tr.Close(ctx, 999, domain.Terminal{Status: domain.ExecutionStatusFailed}); !errors.Is(err, tracker.ErrNotFound) {
		t.Errorf("Close unknown id = %v, want ErrNotFound", err)
	}
}

func TestLastSuccess(t *testing.T) {
	ctx := testutil.TestContext(t)
	tr, _, _ := newTracker()

	last, err := tr.LastSuccess(ctx, 10, 7)
	if err != nil || last != nil {
		t.Fatalf("LastSuccess with no history = %v, %v", last, err)
	}

	closeAs := func(date string, status domain.ExecutionStatus) {
		id, err := tr.Open(ctx, attempt(10, date))
		if err != nil {
			t.Fatal(err)
		}
		if err := tr.Close(ctx, id, domain.Terminal{Status: status}); err != nil {
			t.Fatal(err)
		}
	}
	closeAs("2024-03-03", domain.ExecutionStatusSuccess)
	closeAs("2024-03-04", domain.ExecutionStatusSuccess)
	closeAs("2024-03-05", domain.ExecutionStatusFailed)

	last, err = tr.LastSuccess(ctx, 10, 7)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || !last.Equal(testutil.Date("2024-03-04")) {
		t.Errorf("LastSuccess = %v, want 2024-03-04", last)
	}

	// Other processes keep their own history.
	if other, _ := tr.LastSuccess(ctx, 10, 8); other != nil {
		t.Errorf("LastSuccess(process 8) = %v, want nil", other)
	}
}

func TestLastSuccess_CrashBetweenOpenAndClose(t *testing.T) {
	ctx := testutil.TestContext(t)
	tr, _, _ := newTracker()

	id, _ := tr.Open(ctx, attempt(10, "2024-03-04"))
	_ = tr.Close(ctx, id, domain.Terminal{Status: domain.ExecutionStatusSuccess, Eligible: true})

	// Opened but never closed.
	if _, err := tr.Open(ctx, attempt(10, "2024-03-05")); err != nil {
		t.Fatal(err)
	}

	last, err := tr.LastSuccess(ctx, 10, 7)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || !last.Equal(testutil.Date("2024-03-04")) {
		t.Errorf("LastSuccess = %v, want 2024-03-04", last)
	}
}

func TestLatestStatus(t *testing.T) {
	ctx := testutil.TestContext(t)
	tr, _, _ := newTracker()
	day := testutil.Date("2024-03-05")

	if _, ok, err := tr.LatestStatus(ctx, 10, 7, day); ok || err != nil {
		t.Fatalf("LatestStatus with no rows = %v, %v", ok, err)
	}

	first, _ := tr.Open(ctx, attempt(10, "2024-03-05"))
	_ = tr.Close(ctx, first, domain.Terminal{Status: domain.ExecutionStatusFailed})
	second, _ := tr.Open(ctx, attempt(10, "2024-03-05"))
	_ = tr.Close(ctx, second, domain.Terminal{Status: domain.ExecutionStatusSuccess})

	// Time of day is ignored.
	status, ok, err := tr.LatestStatus(ctx, 10, 7, day.Add(13*time.Hour))
	if err != nil || !ok {
		t.Fatalf("LatestStatus = %v, %v", ok, err)
	}
	if status != domain.ExecutionStatusSuccess {
		t.Errorf("status = %s, want SUCCESS", status)
	}
}

func TestOpenRun(t *testing.T) {
	ctx := testutil.TestContext(t)
	tr, store, _ := newTracker()

	id, err := tr.OpenRun(ctx, 7, "wf-9")
	if err != nil {
		t.Fatal(err)
	}
	r := store.Records()[0]
	if r.ID != id || r.FeedID != 0 || r.ExecutionDate != nil || r.WorkflowID != "wf-9" {
		t.Errorf("run record = %+v", r)
	}
}

type failingStore struct {
	tracker.Store
	err error
}

func (s failingStore) InsertExecution(context.Context, domain.ExecutionRecord) (int64, error) {
	return 0, s.err
}

func (s failingStore) CloseExecution(context.Context, int64, domain.Terminal, time.Time) error {
	return s.err
}

func TestStoreErrors_AreSystem(t *testing.T) {
	ctx := testutil.TestContext(t)
	tr := tracker.New(failingStore{err: errors.New("connection reset")}, 0)

	_, err := tr.Open(ctx, attempt(10, "2024-03-05"))
	if !domain.IsSystem(err) {
		t.Errorf("Open error = %v, want system error", err)
	}

	err = tr.Close(ctx, 42, domain.Terminal{Status: domain.ExecutionStatusFailed})
	if !domain.IsSystem(err) {
		t.Errorf("Close error = %v, want system error", err)
	}
	if got := domain.ExecutionIDOf(err); got != 42 {
		t.Errorf("ExecutionIDOf = %d, want 42", got)
	}
}
