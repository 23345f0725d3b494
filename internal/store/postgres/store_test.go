package postgres

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
)

func TestDecodeOptions(t *testing.T) {
	opts, err := decodeOptions(`{"refresh_token":"r1","report_type":"daily"}`)
	if err != nil {
		t.Fatal(err)
	}
	if opts["refresh_token"] != "r1" || opts["report_type"] != "daily" {
		t.Errorf("options = %v", opts)
	}

	if opts, err := decodeOptions(""); err != nil || opts != nil {
		t.Errorf("empty options = %v, %v", opts, err)
	}
	if _, err := decodeOptions(`{"a":1}`); err == nil {
		t.Error("expected error for non-string option value")
	}
}

func TestNullTimeRoundTrip(t *testing.T) {
	if nt := nullTime(nil); nt.Valid {
		t.Error("nil time should be invalid")
	}
	d := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	got := timePtr(nullTime(&d))
	if got == nil || !got.Equal(d) {
		t.Errorf("timePtr = %v", got)
	}
}

func TestDescribe(t *testing.T) {
	err := describe(&pq.Error{Code: "23503", Message: "insert violates foreign key", Detail: "Key (process_id)=(9) is not present"})
	if !strings.Contains(err.Error(), "23503") || !strings.Contains(err.Error(), "process_id") {
		t.Errorf("describe = %q", err)
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		t.Error("describe should keep the driver error in the chain")
	}

	plain := errors.New("driver: bad connection")
	if describe(plain) != plain {
		t.Error("non-driver errors pass through")
	}
}

func TestSchemaCoversQueries(t *testing.T) {
	for _, q := range []string{queryInsertExecution, queryCloseExecution, queryStaleStarted} {
		if !strings.Contains(q, "feed_executions") {
			t.Errorf("query does not target feed_executions: %s", q)
		}
	}
	if !strings.Contains(queryCloseExecution, "status = 'STARTED'") {
		t.Error("close must be guarded on STARTED")
	}
}

func TestEmbeddedSchema(t *testing.T) {
	for _, table := range []string{"sources", "feeds", "processes", "feed_executions"} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Errorf("schema missing table %s", table)
		}
	}
}
