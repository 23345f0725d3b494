// Package analytics keeps per-feed daily outcome counters in Redis.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rudolphlogin/feedload/internal/events"
)

// Counters for one feed and one execution date.
type Counters struct {
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
	Skipped int64 `json:"skipped"`
	Files   int64 `json:"files"`
}

// RedisSink counts feed outcomes. Keys expire after retention.
type RedisSink struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisSink(client *redis.Client, retention time.Duration) *RedisSink {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &RedisSink{client: client, retention: retention}
}

// Notify implements events.Notifier. Run level events are ignored.
func (s *RedisSink) Notify(ctx context.Context, e events.Event) error {
	if e.Type != events.TypeFeedOutcome || e.Date == "" {
		return nil
	}

	key := buildKey(e.SourceEnv, e.FeedID, e.Date)
	field := "failed"
	switch {
	case e.Skipped:
		field = "skipped"
	case e.Status == "SUCCESS":
		field = "success"
	}

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, key, field, 1)
	if e.PostRunCount > 0 && field == "success" {
		pipe.HIncrBy(ctx, key, "files", e.PostRunCount)
	}
	pipe.Expire(ctx, key, s.retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

// Get reads the counters of one feed and date (YYYY-MM-DD).
func (s *RedisSink) Get(ctx context.Context, sourceEnv string, feedID int64, date string) (Counters, error) {
	vals, err := s.client.HGetAll(ctx, buildKey(sourceEnv, feedID, date)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Counters{}, fmt.Errorf("redis hgetall: %w", err)
	}
	var c Counters
	c.Success = parseInt(vals["success"])
	c.Failed = parseInt(vals["failed"])
	c.Skipped = parseInt(vals["skipped"])
	c.Files = parseInt(vals["files"])
	return c, nil
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func buildKey(sourceEnv string, feedID int64, date string) string {
	return fmt.Sprintf("fl:%s:f:%d:%s", sourceEnv, feedID, date)
}
