// Command webhook-receiver is a development sink for feedload webhook
// events. It verifies signatures and keeps the last events in memory.
package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rudolphlogin/feedload/internal/events"
)

const maxStored = 50

type received struct {
	At       string       `json:"at"`
	Verified bool         `json:"verified"`
	Event    events.Event `json:"event"`
}

type stats struct {
	Count    int64            `json:"count"`
	Rejected int64            `json:"rejected"`
	ByStatus map[string]int64 `json:"by_status"`
	Last     []received       `json:"last_events"`
	Since    string           `json:"since"`
}

type receiver struct {
	secret string
	logger *slog.Logger
	clock  func() time.Time

	mu       sync.Mutex
	count    int64
	rejected int64
	byStatus map[string]int64
	last     []received
	since    time.Time
}

func newReceiver(secret string, logger *slog.Logger) *receiver {
	r := &receiver{secret: secret, logger: logger, clock: time.Now}
	r.reset()
	return r
}

func (rc *receiver) reset() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.count, rc.rejected = 0, 0
	rc.byStatus = make(map[string]int64)
	rc.last = nil
	rc.since = rc.clock().UTC()
}

func (rc *receiver) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/hook", rc.hook)
	r.Get("/stats", rc.stats)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Post("/reset", func(w http.ResponseWriter, _ *http.Request) {
		rc.reset()
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "reset\n")
	})
	return r
}

// hook accepts one event. With a secret configured, unsigned or wrongly
// signed events are rejected with 401.
func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	verified := rc.secret != "" && events.VerifySignature(rc.secret, body, r.Header.Get("X-Feedload-Signature"))
	if rc.secret != "" && !verified {
		rc.mu.Lock()
		rc.rejected++
		rc.mu.Unlock()
		rc.logger.Warn("signature mismatch", "event_id", r.Header.Get("X-Feedload-Event-ID"))
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	var e events.Event
	if err := json.Unmarshal(body, &e); err != nil {
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	rc.mu.Lock()
	rc.count++
	rc.byStatus[e.Status]++
	rc.last = append(rc.last, received{At: rc.clock().UTC().Format(time.RFC3339Nano), Verified: verified, Event: e})
	if len(rc.last) > maxStored {
		rc.last = rc.last[len(rc.last)-maxStored:]
	}
	current := rc.count
	rc.mu.Unlock()

	rc.logger.Info("event received", "n", current, "type", e.Type, "status", e.Status,
		"source_env", e.SourceEnv, "feed_id", e.FeedID, "date", e.Date)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int64{"received": current})
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:    rc.count,
		Rejected: rc.rejected,
		ByStatus: make(map[string]int64, len(rc.byStatus)),
		Last:     append([]received(nil), rc.last...),
		Since:    rc.since.Format(time.RFC3339),
	}
	for k, v := range rc.byStatus {
		s.ByStatus[k] = v
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	rc := newReceiver(os.Getenv("WEBHOOK_SECRET"), logger)

	logger.Info("webhook-receiver listening", "addr", addr, "signed", rc.secret != "")
	server := &http.Server{Addr: addr, Handler: rc.routes(), ReadHeaderTimeout: 10 * time.Second}
	if err := server.ListenAndServe(); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
