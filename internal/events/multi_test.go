package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/metrics"
)

const defaultTestTimeout = 5 * time.Second

func TestMulti_DeliversToAll(t *testing.T) {
	var got []string
	record := func(name string, err error) Notifier {
		return NotifierFunc(func(ctx context.Context, e Event) error {
			got = append(got, name)
			return err
		})
	}

	m := NewMulti(metrics.NewPrometheusSink(prometheus.NewRegistry()), nil).
		Add("redis", record("redis", nil)).
		Add("webhook", record("webhook", &StatusError{StatusCode: 500})).
		Add("kafka", record("kafka", errors.New("dial tcp: connection refused")))

	err := m.Notify(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected joined error")
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Errorf("joined error lost StatusError: %v", err)
	}
	if len(got) != 3 || got[2] != "kafka" {
		t.Errorf("delivered to %v, want all three in order", got)
	}
	if m.Len() != 3 {
		t.Errorf("Len = %d", m.Len())
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := NewMulti(nil, nil).Notify(context.Background(), testEvent()); err != nil {
		t.Errorf("empty Multi returned %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, metrics.StatusClass2xx},
		{&StatusError{StatusCode: 404}, metrics.StatusClass4xx},
		{&StatusError{StatusCode: 502}, metrics.StatusClass5xx},
		{errors.New("context deadline exceeded"), metrics.StatusClassTimeout},
		{errors.New("boom"), metrics.StatusClassOtherError},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestOutcomeAndRunEvents(t *testing.T) {
	req := domain.RunRequest{Pass: domain.PassGetFiles, Zone: "EU", Country: "FR", SourceEnv: "sftp", Process: "getfiles", WorkflowID: "wf"}
	at := time.Date(2024, 3, 6, 2, 0, 0, 0, time.UTC)

	o := domain.Outcome{
		FeedID:      10,
		SourceID:    1,
		Date:        time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		ExecutionID: 77,
		Status:      domain.ExecutionStatusFailed,
		Code:        domain.CodeNoMatchingFiles,
		Err:         errors.New("no files"),
	}
	e := OutcomeEvent(req, 5, o, at)
	if e.Type != TypeFeedOutcome || e.Date != "2024-03-05" || e.Error != "no files" || e.RunExecutionID != 5 {
		t.Errorf("outcome event = %+v", e)
	}
	if e.ID == "" {
		t.Error("event id not set")
	}
	if e.Key() != "sftp/10" {
		t.Errorf("Key = %q", e.Key())
	}

	rep := domain.Report{RunExecutionID: 5, Status: domain.ExecutionStatusFailed, Outcomes: []domain.Outcome{o, {Status: domain.ExecutionStatusSuccess}}}
	r := RunEvent(req, rep, at)
	if r.Type != TypeRunFinished || r.Outcomes != 2 || r.Failed != 1 || r.Key() != "sftp/run" {
		t.Errorf("run event = %+v", r)
	}
}
