package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/metrics"
	"github.com/rudolphlogin/feedload/internal/tracker"
)

// OrphanStore finds STARTED records older than a cutoff.
type OrphanStore interface {
	StaleStarted(ctx context.Context, olderThan time.Time, limit int) ([]domain.ExecutionRecord, error)
}

// Closer closes a record. *tracker.Tracker satisfies it.
type Closer interface {
	Close(ctx context.Context, id int64, t domain.Terminal) error
}

// Config holds sweeper configuration.
type Config struct {
	// Interval is how often the sweeper runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age after which a STARTED record is considered orphaned.
	// It must exceed the longest run.
	// Default: 6 hours.
	Threshold time.Duration

	// RunThreshold replaces Threshold for run-level records, those without
	// an execution date. A run-level record stays STARTED until its whole
	// run ends. Values below Threshold are raised to it.
	// Default: 48 hours.
	RunThreshold time.Duration

	// BatchSize is the maximum number of orphans to close per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold:    6 * time.Hour,
		RunThreshold: 48 * time.Hour,
		BatchSize:    100,
	}
}

// OrphanSweeper closes records left STARTED by a process that died. They
// become FAILED and not eligible for the next run, which keeps the last
// success where it was.
type OrphanSweeper struct {
	config  Config
	store   OrphanStore
	closer  Closer
	metrics metrics.Sink
	logger  *slog.Logger
	clock   func() time.Time
}

func NewOrphanSweeper(config Config, store OrphanStore, closer Closer, sink metrics.Sink, logger *slog.Logger) *OrphanSweeper {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OrphanSweeper{
		config:  config,
		store:   store,
		closer:  closer,
		metrics: sink,
		logger:  logger.With("component", "sweeper"),
		clock:   time.Now,
	}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *OrphanSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("started", "interval", s.config.Interval,
		"threshold", s.config.Threshold, "run_threshold", s.config.RunThreshold, "batch", s.config.BatchSize)

	// Run immediately on startup, then on ticker
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one sweep and returns how many records it closed.
func (s *OrphanSweeper) runCycle(ctx context.Context) int {
	now := s.clock().UTC()
	cutoff := now.Add(-s.config.Threshold)

	orphans, err := s.store.StaleStarted(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		// Retried next interval.
		s.logger.Error("failed to fetch orphans", "err", err)
		return 0
	}

	if len(orphans) == 0 {
		return 0
	}

	s.logger.Info("found orphaned executions", "count", len(orphans))

	runCutoff := now.Add(-max(s.config.RunThreshold, s.config.Threshold))

	closed := 0
	failed := 0
	for _, rec := range orphans {
		if ctx.Err() != nil {
			s.logger.Warn("cycle interrupted", "processed", closed+failed, "total", len(orphans))
			break
		}
		if rec.ExecutionDate == nil && rec.StartedAt.After(runCutoff) {
			// The run may still be working through its dates.
			continue
		}

		err := s.closer.Close(ctx, rec.ID, domain.Terminal{Status: domain.ExecutionStatusFailed})
		if errors.Is(err, tracker.ErrAlreadyClosed) {
			// Its process closed it after the query.
			continue
		}
		if err != nil {
			s.logger.Error("failed to close orphan", "execution_id", rec.ID, "feed_id", rec.FeedID, "err", err)
			failed++
			continue
		}

		s.logger.Info("closed orphan", "execution_id", rec.ID, "feed_id", rec.FeedID,
			"age", now.Sub(rec.StartedAt).Round(time.Second))
		closed++
	}

	s.metrics.OrphansClosed(closed)
	s.logger.Info("cycle complete", "closed", closed, "failed", failed)
	return closed
}
