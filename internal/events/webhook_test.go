package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func testEvent() Event {
	return Event{
		ID:          "evt-1",
		Type:        TypeFeedOutcome,
		SourceEnv:   "sftp",
		FeedID:      10,
		ExecutionID: 456,
		Date:        "2024-03-05",
		Status:      "SUCCESS",
	}
}

func TestWebhookSender_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewWebhookSender(server.URL, "test-secret", 5*time.Second)
	if err := sender.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWebhookSender_RequestHeadersAndSignature(t *testing.T) {
	var (
		mu         sync.Mutex
		gotHeaders http.Header
		gotMethod  string
		gotBody    []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotHeaders = r.Header
		gotMethod = r.Method
		gotBody = body
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := NewWebhookSender(server.URL, "my-secret", 5*time.Second)
	if err := sender.Notify(context.Background(), testEvent()); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if id := gotHeaders.Get("X-Feedload-Event-ID"); id != "evt-1" {
		t.Errorf("X-Feedload-Event-ID = %q", id)
	}
	if id := gotHeaders.Get("X-Feedload-Execution-ID"); id != "456" {
		t.Errorf("X-Feedload-Execution-ID = %q", id)
	}
	if !VerifySignature("my-secret", gotBody, gotHeaders.Get("X-Feedload-Signature")) {
		t.Error("signature does not verify")
	}
	if VerifySignature("other-secret", gotBody, gotHeaders.Get("X-Feedload-Signature")) {
		t.Error("signature verified with wrong secret")
	}

	var decoded Event
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("body is not an event: %v", err)
	}
	if decoded.FeedID != 10 || decoded.Date != "2024-03-05" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWebhookSender_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := NewWebhookSender(server.URL, "s", 5*time.Second).Notify(context.Background(), testEvent())
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want StatusError 503", err)
	}
}

func TestWebhookSender_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := NewWebhookSender(server.URL, "s", 20*time.Millisecond).Notify(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
