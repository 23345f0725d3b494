package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/objectstore"
	"github.com/rudolphlogin/feedload/internal/source"
	"github.com/rudolphlogin/feedload/internal/testutil"
)

// fakeSession writes the configured files into the request's DestDir.
type fakeSession struct {
	mu    sync.Mutex
	files map[string]string
	err   error
	reqs  []source.Request
}

func (s *fakeSession) Transfer(ctx context.Context, req source.Request) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return 0, s.err
	}
	for name, body := range s.files {
		if err := source.WriteFile(req.DestDir, name, strings.NewReader(body)); err != nil {
			return 0, err
		}
	}
	return len(s.files), nil
}

func (s *fakeSession) Close() error { return nil }

func newJob(t *testing.T, sess source.Session, store *testutil.ObjectStore) (Job, Staging) {
	t.Helper()
	staging := Staging{Root: t.TempDir()}
	dir, err := staging.Dir("feed10/20240305")
	if err != nil {
		t.Fatal(err)
	}
	feed := domain.FeedConfig{FeedID: 10, SourceEnv: "local", Destination: domain.Destination{Container: "lake"}}
	return Job{
		Feed:    feed,
		Session: sess,
		Store:   store,
		Request: source.Request{Pattern: "report_20240305.csv", SourceDir: "/in", DestDir: dir},
		Target:  "raw/report/20240305",
	}, staging
}

func TestTransfer_Run(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewObjectStore()
	sess := &fakeSession{files: map[string]string{"report_20240305.csv": "a,b", "sub/extra.csv": "c"}}
	job, staging := newJob(t, sess, store)

	res, err := NewTransfer(staging, 0, nil, nil).Run(ctx, job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Stage != StageDone || res.Files != 2 {
		t.Errorf("result = %+v", res)
	}
	want := []string{"raw/report/20240305/report_20240305.csv", "raw/report/20240305/sub/extra.csv"}
	if diff := cmp.Diff(want, store.Keys("lake", "raw/")); diff != "" {
		t.Errorf("objects (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(job.Request.DestDir); !os.IsNotExist(err) {
		t.Errorf("staging dir still exists: %v", err)
	}
}

func TestTransfer_Run_Idempotent(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewObjectStore()
	sess := &fakeSession{files: map[string]string{"report_20240305.csv": "a,b"}}
	job, staging := newJob(t, sess, store)
	tr := NewTransfer(staging, 0, nil, nil)

	for i := 0; i < 2; i++ {
		if _, err := tr.Run(ctx, job); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if got := store.Keys("lake", ""); len(got) != 1 {
		t.Errorf("objects after rerun = %v, want one", got)
	}
}

func TestTransfer_Run_NoFiles(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewObjectStore()
	job, staging := newJob(t, &fakeSession{}, store)

	res, err := NewTransfer(staging, 0, nil, nil).Run(ctx, job)
	if domain.CodeOf(err) != domain.CodeNoMatchingFiles || !domain.IsApplication(err) {
		t.Fatalf("err = %v, want no_matching_files", err)
	}
	if res.Stage != StageFailed {
		t.Errorf("stage = %s, want FAILED", res.Stage)
	}
	if len(store.Keys("lake", "")) != 0 {
		t.Error("nothing should be uploaded")
	}
	if _, err := os.Stat(job.Request.DestDir); !os.IsNotExist(err) {
		t.Error("staging dir not removed after failure")
	}
}

func TestTransfer_Run_SourceError(t *testing.T) {
	ctx := testutil.TestContext(t)
	job, staging := newJob(t, &fakeSession{err: errors.New("connection reset")}, testutil.NewObjectStore())

	_, err := NewTransfer(staging, 0, nil, nil).Run(ctx, job)
	if !domain.IsSystem(err) {
		t.Fatalf("err = %v, want system error", err)
	}
}

func TestTransfer_UploadFailureReconciles(t *testing.T) {
	ctx := testutil.TestContext(t)
	store := testutil.NewObjectStore()
	store.Put("lake", "raw/report/20240305/a.csv", []byte("old"))
	store.FailUploadAfter = 2

	sess := &fakeSession{files: map[string]string{"a.csv": "new", "b.csv": "b", "c.csv": "c"}}
	job, staging := newJob(t, sess, store)

	res, err := NewTransfer(staging, 0, nil, nil).Run(ctx, job)
	if err == nil {
		t.Fatal("expected upload failure")
	}
	if res.Stage != StageFailed {
		t.Errorf("stage = %s", res.Stage)
	}
	// a.csv existed before the attempt and survives; b.csv was new and is removed.
	if diff := cmp.Diff([]string{"raw/report/20240305/a.csv"}, store.Keys("lake", "")); diff != "" {
		t.Errorf("objects (-want +got):\n%s", diff)
	}
}

func TestTransfer_Run_StalledStoreTimesOut(t *testing.T) {
	ctx := testutil.TestContext(t)
	sess := &fakeSession{files: map[string]string{"report_20240305.csv": "a,b"}}
	job, staging := newJob(t, sess, nil)
	stalled := &testutil.StalledStore{}
	job.Store = objectstore.WithTimeout(stalled, 20*time.Millisecond)

	start := time.Now()
	res, err := NewTransfer(staging, time.Minute, nil, nil).Run(ctx, job)
	if !errors.Is(err, context.DeadlineExceeded) || !domain.IsSystem(err) {
		t.Fatalf("err = %v, want system deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run returned after %v", elapsed)
	}
	if res.Stage != StageFailed {
		t.Errorf("stage = %s", res.Stage)
	}
	if _, err := os.Stat(job.Request.DestDir); !os.IsNotExist(err) {
		t.Error("staging dir not removed after timeout")
	}
}

func TestResult_AdvanceRejectsIllegalMove(t *testing.T) {
	res := Result{Stage: StageUploaded}
	err := res.advance(StageLoaded)
	if !errors.Is(err, ErrIllegalTransition) || !domain.IsSystem(err) {
		t.Fatalf("err = %v, want illegal transition", err)
	}
	if res.Stage != StageUploaded {
		t.Errorf("stage moved to %s", res.Stage)
	}
}

func TestStaging(t *testing.T) {
	s := Staging{Root: t.TempDir()}
	if _, err := s.Dir("../outside"); err == nil {
		t.Error("expected error for dir escaping root")
	}
	if _, err := s.Dir(""); err == nil {
		t.Error("expected error for the root itself")
	}

	dir, err := s.Dir("x/y")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Prepare(dir); err != nil {
		t.Fatal(err)
	}
	if err := s.Prepare(dir); err != nil {
		t.Fatalf("Prepare twice: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.csv"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "a.csv"), nil, 0o600); err != nil {
		t.Fatal(err)
	}

	files, err := s.Files(dir)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"b.csv", "nested/a.csv"}, files); diff != "" {
		t.Errorf("Files (-want +got):\n%s", diff)
	}

	if err := s.Remove(dir); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(dir); err != nil {
		t.Fatalf("Remove missing dir: %v", err)
	}
}
