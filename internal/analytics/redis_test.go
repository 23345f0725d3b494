package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/rudolphlogin/feedload/internal/events"
)

func newSink(t *testing.T) (*RedisSink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSink(client, time.Hour), mr
}

func outcome(status string, files int64, skipped bool) events.Event {
	return events.Event{
		Type:         events.TypeFeedOutcome,
		SourceEnv:    "sftp",
		FeedID:       10,
		Date:         "2024-03-05",
		Status:       status,
		PostRunCount: files,
		Skipped:      skipped,
	}
}

func TestRedisSink_Counts(t *testing.T) {
	ctx := context.Background()
	sink, mr := newSink(t)

	for _, e := range []events.Event{
		outcome("FAILED", 0, false),
		outcome("SUCCESS", 3, false),
		outcome("SUCCESS", 2, false),
		outcome("SUCCESS", 0, true),
	} {
		if err := sink.Notify(ctx, e); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}

	got, err := sink.Get(ctx, "sftp", 10, "2024-03-05")
	if err != nil {
		t.Fatal(err)
	}
	want := Counters{Success: 2, Failed: 1, Skipped: 1, Files: 5}
	if got != want {
		t.Errorf("counters = %+v, want %+v", got, want)
	}

	key := "fl:sftp:f:10:2024-03-05"
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if mr.Exists(key) {
		t.Error("key should expire after retention")
	}
}

func TestRedisSink_IgnoresRunEvents(t *testing.T) {
	ctx := context.Background()
	sink, mr := newSink(t)

	if err := sink.Notify(ctx, events.Event{Type: events.TypeRunFinished, SourceEnv: "sftp", Status: "SUCCESS"}); err != nil {
		t.Fatal(err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("keys = %v, want none", keys)
	}
}

func TestRedisSink_MissingKey(t *testing.T) {
	sink, _ := newSink(t)
	got, err := sink.Get(context.Background(), "sftp", 99, "2024-01-01")
	if err != nil || got != (Counters{}) {
		t.Errorf("Get = %+v, %v", got, err)
	}
}

func TestRedisSink_Unavailable(t *testing.T) {
	sink, mr := newSink(t)
	mr.Close()
	if err := sink.Notify(context.Background(), outcome("SUCCESS", 1, false)); err == nil {
		t.Error("expected error when redis is down")
	}
}
