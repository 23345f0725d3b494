// Package scheduler fires run requests from a cron schedule file.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
)

type Parser interface {
	Parse(expression, timezone string) (Schedule, error)
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type RequestEmitter interface {
	Emit(ctx context.Context, req domain.RunRequest) error
}

// MetricsSink is the subset of metrics.Sink the scheduler reports to.
type MetricsSink interface {
	TriggerFired(schedule string)
	TriggerDropped(schedule string)
}

type Config struct {
	TickInterval time.Duration
}

type Scheduler struct {
	config   Config
	entries  []Entry
	parser   Parser
	emitter  RequestEmitter
	metrics  MetricsSink
	logger   *slog.Logger
	clock    func() time.Time
	lastTick time.Time
	fired    map[string]time.Time
}

func New(config Config, entries []Entry, parser Parser, emitter RequestEmitter) *Scheduler {
	return &Scheduler{
		config:  config,
		entries: entries,
		parser:  parser,
		emitter: emitter,
		logger:  slog.Default().With("component", "scheduler"),
		clock:   time.Now,
		fired:   make(map[string]time.Time),
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithClock replaces the time source.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.Info("started", "tick", s.config.TickInterval, "entries", len(s.entries))
	s.lastTick = s.clock().UTC()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			s.processTick(ctx)
		}
	}
}

func (s *Scheduler) processTick(ctx context.Context) {
	now := s.clock().UTC()
	for _, e := range s.entries {
		if err := s.processEntry(ctx, e, s.lastTick, now); err != nil {
			s.logger.Error("entry error", "schedule", e.Name, "err", err)
		}
	}
	s.lastTick = now
}

// processEntry fires e at most once per tick. Fire times missed since the
// last tick collapse into the latest one, since every run already catches
// up on the dates it missed.
func (s *Scheduler) processEntry(ctx context.Context, e Entry, lastTick, now time.Time) error {
	sched, err := s.parser.Parse(e.Cron, e.timezone())
	if err != nil {
		return err
	}

	const maxIterations = 1000
	var due time.Time
	t := sched.Next(lastTick)
	for i := 0; i < maxIterations && !t.After(now); i++ {
		due = t.UTC().Truncate(time.Minute)
		t = sched.Next(t)
	}
	if due.IsZero() {
		return nil
	}
	if prev, ok := s.fired[e.Name]; ok && !due.After(prev) {
		return nil
	}

	req := e.Request(fmt.Sprintf("%s-%s", e.Name, due.Format("20060102T1504Z")))
	if err := s.emitter.Emit(ctx, req); err != nil {
		if s.metrics != nil {
			s.metrics.TriggerDropped(e.Name)
		}
		return fmt.Errorf("emit: %w", err)
	}
	s.fired[e.Name] = due
	if s.metrics != nil {
		s.metrics.TriggerFired(e.Name)
	}
	s.logger.Info("fired", "schedule", e.Name, "scheduled_at", due.Format(time.RFC3339), "workflow_id", req.WorkflowID)
	return nil
}
