// Package runner is the entry point of one run: it resolves the process,
// walks the active feeds of a (zone, country, source environment) and
// processes each due date, recording every attempt.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/events"
	"github.com/rudolphlogin/feedload/internal/feedname"
	"github.com/rudolphlogin/feedload/internal/metrics"
	"github.com/rudolphlogin/feedload/internal/objectstore"
	"github.com/rudolphlogin/feedload/internal/pipeline"
	"github.com/rudolphlogin/feedload/internal/recurrence"
	"github.com/rudolphlogin/feedload/internal/runlock"
	"github.com/rudolphlogin/feedload/internal/source"
)

// FeedStore is the configuration store.
type FeedStore interface {
	ActiveFeeds(ctx context.Context, zone, country, sourceEnv string) ([]domain.FeedConfig, error)
	ProcessID(ctx context.Context, program, process string) (int64, error)
}

// Tracker records execution attempts. *tracker.Tracker satisfies it.
type Tracker interface {
	Open(ctx context.Context, a domain.Attempt) (int64, error)
	OpenRun(ctx context.Context, processID int64, workflowID string) (int64, error)
	Close(ctx context.Context, id int64, t domain.Terminal) error
	LastSuccess(ctx context.Context, feedID, processID int64) (*time.Time, error)
	LatestStatus(ctx context.Context, feedID, processID int64, date time.Time) (domain.ExecutionStatus, bool, error)
}

// Connector opens source sessions. *source.Registry satisfies it.
type Connector interface {
	Connect(ctx context.Context, feed domain.FeedConfig) (source.Session, error)
}

// StoreOpener hands out durable stores. *objectstore.Pool satisfies it.
type StoreOpener interface {
	Get(d domain.Destination) (objectstore.Store, error)
}

// Locker serializes runs with the same lock key.
type Locker interface {
	Acquire(ctx context.Context, name string) (runlock.Lease, error)
}

type Config struct {
	// DefaultHistoryDate stands in for the last success of a feed that
	// never succeeded when checking whether a date is due.
	DefaultHistoryDate time.Time

	// SkipListing names source environments whose directories cannot be
	// listed; the resolved file name is fetched directly.
	SkipListing []string

	Staging pipeline.Staging
}

type Runner struct {
	config   Config
	feeds    FeedStore
	tracker  Tracker
	stores   StoreOpener
	sources  Connector
	resolver *feedname.Resolver
	transfer *pipeline.Transfer
	loader   *pipeline.Loader
	locker   Locker
	notifier events.Notifier
	metrics  metrics.Sink
	logger   *slog.Logger
	clock    func() time.Time
	skip     map[string]bool
}

func New(config Config, feeds FeedStore, tr Tracker, stores StoreOpener) *Runner {
	if config.DefaultHistoryDate.IsZero() {
		config.DefaultHistoryDate = recurrence.DefaultHistoryDate
	}
	skip := make(map[string]bool, len(config.SkipListing))
	for _, s := range config.SkipListing {
		skip[normalize(s)] = true
	}
	return &Runner{
		config:   config,
		feeds:    feeds,
		tracker:  tr,
		stores:   stores,
		locker:   runlock.NewLocalLocker(),
		notifier: events.NewMulti(nil, nil),
		metrics:  metrics.NewNoopSink(),
		logger:   slog.Default(),
		clock:    time.Now,
		skip:     skip,
	}
}

// WithFetch enables the fetch pass.
func (r *Runner) WithFetch(sources Connector, resolver *feedname.Resolver, transfer *pipeline.Transfer) *Runner {
	r.sources = sources
	r.resolver = resolver
	r.transfer = transfer
	return r
}

// WithLoader enables the load pass.
func (r *Runner) WithLoader(loader *pipeline.Loader) *Runner {
	r.loader = loader
	return r
}

func (r *Runner) WithLocker(l Locker) *Runner {
	r.locker = l
	return r
}

func (r *Runner) WithNotifier(n events.Notifier) *Runner {
	r.notifier = n
	return r
}

// WithMetrics attaches a metrics sink to the runner.
func (r *Runner) WithMetrics(sink metrics.Sink) *Runner {
	r.metrics = sink
	return r
}

func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// WithClock replaces the time source.
func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

// Run dispatches on req.Pass.
func (r *Runner) Run(ctx context.Context, req domain.RunRequest) (domain.Report, error) {
	switch req.Pass {
	case domain.PassGetFiles:
		return r.GetFiles(ctx, req)
	case domain.PassDataLoad:
		return r.DataLoad(ctx, req)
	}
	return domain.Report{Status: domain.ExecutionStatusFailed},
		domain.Application(domain.CodeInvalidConfig, "unknown pass %q", req.Pass)
}

// GetFiles fetches every due date of every active feed into the durable
// store.
func (r *Runner) GetFiles(ctx context.Context, req domain.RunRequest) (domain.Report, error) {
	req.Pass = domain.PassGetFiles
	if r.sources == nil || r.resolver == nil || r.transfer == nil {
		return domain.Report{Status: domain.ExecutionStatusFailed},
			domain.Application(domain.CodeInvalidConfig, "fetch pass is not configured")
	}
	return r.run(ctx, req, r.fetchFeed)
}

// DataLoad loads every landed date of every active feed into the warehouse.
func (r *Runner) DataLoad(ctx context.Context, req domain.RunRequest) (domain.Report, error) {
	req.Pass = domain.PassDataLoad
	if r.loader == nil {
		return domain.Report{Status: domain.ExecutionStatusFailed},
			domain.Application(domain.CodeInvalidConfig, "no table engine configured")
	}
	return r.run(ctx, req, r.loadFeed)
}

type feedFunc func(ctx context.Context, rc RunContext) []domain.Outcome

// validate checks the request arguments.
func validate(req domain.RunRequest) error {
	var missing []string
	for name, v := range map[string]string{
		"zone":       req.Zone,
		"country":    req.Country,
		"source-env": req.SourceEnv,
		"program":    req.Program,
		"process":    req.Process,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return domain.Application(domain.CodeInvalidConfig, "missing %s", strings.Join(missing, ", "))
	}
	if req.Start != nil && req.End != nil && req.Start.After(*req.End) {
		return domain.Application(domain.CodeInvalidConfig, "start date %s is after end date %s",
			req.Start.Format("2006-01-02"), req.End.Format("2006-01-02"))
	}
	return nil
}

func (r *Runner) run(ctx context.Context, req domain.RunRequest, perFeed feedFunc) (report domain.Report, err error) {
	report.StartedAt = r.clock().UTC()
	report.Status = domain.ExecutionStatusFailed

	if err := validate(req); err != nil {
		return report, err
	}
	if req.WorkflowID == "" {
		req.WorkflowID = uuid.NewString()
	}

	logger := r.logger.With("pass", req.Pass, "zone", req.Zone, "country", req.Country,
		"source_env", req.SourceEnv, "process", req.Process, "workflow_id", req.WorkflowID)

	lease, err := r.locker.Acquire(ctx, req.LockKey())
	if err != nil {
		logger.Error("run lock not acquired", "err", err)
		return report, err
	}
	defer lease.Release()
	ctx = lease.Context()

	r.metrics.RunStarted(string(req.Pass))
	defer func() {
		report.FinishedAt = r.clock().UTC()
		r.metrics.RunCompleted(string(req.Pass), string(report.Status), report.FinishedAt.Sub(report.StartedAt))
	}()

	processID, err := r.feeds.ProcessID(ctx, req.Program, req.Process)
	if err != nil {
		logger.Error("process lookup failed", "execution_id", 0, "err", err)
		return report, err
	}

	runID, err := r.tracker.OpenRun(ctx, processID, req.WorkflowID)
	if err != nil {
		logger.Error("failed to open run record", "execution_id", 0, "err", err)
		return report, err
	}
	report.RunExecutionID = runID
	logger = logger.With("run_execution_id", runID)
	logger.Info("run started")

	rc := RunContext{Request: req, ProcessID: processID, RunExecutionID: runID, Logger: logger}

	var runErr error
	feeds, err := r.feeds.ActiveFeeds(ctx, req.Zone, req.Country, req.SourceEnv)
	if err != nil {
		runErr = domain.System(err, "load active feeds")
		logger.Error("failed to load feeds", "execution_id", runID, "err", runErr)
	}
	if len(feeds) == 0 && err == nil {
		logger.Warn("no active feeds")
	}

	for _, feed := range feeds {
		if ctx.Err() != nil {
			runErr = errors.Join(runErr, domain.System(ctx.Err(), "run interrupted"))
			break
		}
		frc := rc.ForFeed(feed)
		frc.Logger.Info("processing feed", "feed", feed)
		for _, o := range perFeed(ctx, frc) {
			report.Outcomes = append(report.Outcomes, o)
			r.record(ctx, req, runID, o)
		}
	}

	report.Status = domain.ExecutionStatusSuccess
	if runErr != nil || report.Failed() > 0 {
		report.Status = domain.ExecutionStatusFailed
	}

	var total int64
	for _, o := range report.Outcomes {
		total += o.PostRunCount
	}
	term := domain.Terminal{Status: report.Status, PostRunCount: total, Eligible: report.Status == domain.ExecutionStatusSuccess}
	if cerr := r.tracker.Close(context.WithoutCancel(ctx), runID, term); cerr != nil {
		logger.Error("failed to close run record", "execution_id", runID, "err", cerr)
		report.Status = domain.ExecutionStatusFailed
		runErr = errors.Join(runErr, cerr)
	}

	if nerr := r.notifier.Notify(context.WithoutCancel(ctx), events.RunEvent(req, report, r.clock())); nerr != nil {
		logger.Warn("run notification failed", "err", nerr)
	}

	logger.Info("run finished", "status", report.Status, "outcomes", len(report.Outcomes),
		"failed", report.Failed(), "post_run_count", total)

	if runErr != nil {
		return report, domain.WithExecutionID(runErr, runID)
	}
	return report, nil
}

func (r *Runner) record(ctx context.Context, req domain.RunRequest, runID int64, o domain.Outcome) {
	status := string(o.Status)
	if o.Skipped {
		status = metrics.StatusSkipped
	}
	r.metrics.FeedDateCompleted(string(req.Pass), req.SourceEnv, status, o.Duration)
	if err := r.notifier.Notify(context.WithoutCancel(ctx), events.OutcomeEvent(req, runID, o, r.clock())); err != nil {
		r.logger.Warn("outcome notification failed", "feed_id", o.FeedID, "execution_id", o.ExecutionID, "err", err)
	}
}

// closeAttempt writes the terminal update of a feed date and folds a close
// failure into the outcome.
func (r *Runner) closeAttempt(ctx context.Context, rc RunContext, outcome domain.Outcome) domain.Outcome {
	term := domain.Terminal{
		Status:       outcome.Status,
		PostRunCount: outcome.PostRunCount,
		Eligible:     outcome.Status == domain.ExecutionStatusSuccess,
	}
	if err := r.tracker.Close(context.WithoutCancel(ctx), rc.ExecutionID, term); err != nil {
		if outcome.Err != nil {
			err = errors.Join(outcome.Err, err)
		}
		return rc.fail(fmt.Errorf("record outcome: %w", err))
	}
	return outcome
}
