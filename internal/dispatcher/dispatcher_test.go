package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/runlock"
)

// mockRunner records every request and returns canned results.
type mockRunner struct {
	mu      sync.Mutex
	calls   []domain.RunRequest
	results map[string]error
	block   chan struct{}
}

func newMockRunner() *mockRunner {
	return &mockRunner{results: make(map[string]error)}
}

func (r *mockRunner) Run(ctx context.Context, req domain.RunRequest) (domain.Report, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return domain.Report{}, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	if err := r.results[req.WorkflowID]; err != nil {
		return domain.Report{Status: domain.ExecutionStatusFailed}, err
	}
	return domain.Report{RunExecutionID: int64(len(r.calls)), Status: domain.ExecutionStatusSuccess}, nil
}

func (r *mockRunner) workflows() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		out = append(out, c.WorkflowID)
	}
	return out
}

func request(workflow string) domain.RunRequest {
	return domain.RunRequest{Pass: domain.PassGetFiles, Zone: "EU", Country: "FR", SourceEnv: "sftp",
		WorkflowID: workflow, Program: "marketing", Process: "getfiles"}
}

func TestDispatch_Success(t *testing.T) {
	r := newMockRunner()
	if err := New(r).Dispatch(context.Background(), request("wf-1")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := r.workflows(); len(got) != 1 || got[0] != "wf-1" {
		t.Errorf("calls = %v", got)
	}
}

func TestDispatch_ReturnsRunErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"locked", fmt.Errorf("%w: getfiles:EU:FR:sftp:getfiles", runlock.ErrLocked)},
		{"application", domain.Application(domain.CodeProcessNotFound, "no process")},
		{"system", domain.WithExecutionID(domain.System(errors.New("db down"), "close run"), 9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newMockRunner()
			r.results["wf"] = tt.err
			if err := New(r).Dispatch(context.Background(), request("wf")); !errors.Is(err, tt.err) {
				t.Errorf("Dispatch = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestRun_ProcessesInOrder(t *testing.T) {
	r := newMockRunner()
	ch := make(chan domain.RunRequest, 3)
	ch <- request("a")
	ch <- request("b")
	ch <- request("c")
	close(ch)

	done := make(chan struct{})
	go func() {
		New(r).Run(context.Background(), ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel close")
	}
	got := r.workflows()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("order = %v, want [a b c]", got)
	}
}

func TestRun_DrainsBufferedOnShutdown(t *testing.T) {
	r := newMockRunner()
	ch := make(chan domain.RunRequest, 2)
	ch <- request("a")
	ch <- request("b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		New(r).WithDrainTimeout(time.Second).Run(ctx, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after drain")
	}
	if got := r.workflows(); len(got) != 2 {
		t.Errorf("drained %v, want both requests", got)
	}
}

func TestRun_DrainTimeout(t *testing.T) {
	r := newMockRunner()
	r.block = make(chan struct{})
	ch := make(chan domain.RunRequest, 1)
	ch <- request("stuck")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		New(r).WithDrainTimeout(50*time.Millisecond).Run(ctx, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not honor its timeout")
	}
}
