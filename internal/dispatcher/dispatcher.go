// Package dispatcher runs queued run requests one at a time.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/runlock"
)

// DrainTimeout is the maximum time to wait for buffered requests during
// shutdown.
const DrainTimeout = 30 * time.Minute

// Runner executes one run. *runner.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, req domain.RunRequest) (domain.Report, error)
}

type Dispatcher struct {
	runner       Runner
	logger       *slog.Logger
	drainTimeout time.Duration
}

func New(r Runner) *Dispatcher {
	return &Dispatcher{
		runner:       r,
		logger:       slog.Default().With("component", "dispatcher"),
		drainTimeout: DrainTimeout,
	}
}

func (d *Dispatcher) WithLogger(logger *slog.Logger) *Dispatcher {
	d.logger = logger
	return d
}

// WithDrainTimeout bounds the shutdown drain.
func (d *Dispatcher) WithDrainTimeout(timeout time.Duration) *Dispatcher {
	d.drainTimeout = timeout
	return d
}

// Run processes requests until ctx is cancelled or ch is closed. After
// cancellation it drains the buffered requests with a timeout.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.RunRequest) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case req, ok := <-ch:
			if !ok {
				return
			}
			_ = d.Dispatch(ctx, req)
		}
	}
}

// drain runs what is left in the buffer on a fresh context since the main
// one is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.RunRequest) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				d.logger.Warn("drain timeout", "processed", count)
			}
			return
		case req, ok := <-ch:
			if !ok {
				d.logger.Info("drain complete", "processed", count)
				return
			}
			_ = d.Dispatch(drainCtx, req)
			count++
		default:
			if count > 0 {
				d.logger.Info("drain complete", "processed", count)
			}
			return
		}
	}
}

// Dispatch runs one request and logs its result. A run that finds its lock
// held is skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.RunRequest) error {
	logger := d.logger.With("pass", req.Pass, "zone", req.Zone, "country", req.Country,
		"source_env", req.SourceEnv, "process", req.Process, "workflow_id", req.WorkflowID)

	rep, err := d.runner.Run(ctx, req)
	switch {
	case errors.Is(err, runlock.ErrLocked):
		logger.Warn("run skipped, previous run still in progress")
		return err
	case err != nil:
		logger.Error("run failed", "execution_id", domain.ExecutionIDOf(err), "err", err)
		return err
	case rep.Status != domain.ExecutionStatusSuccess:
		logger.Warn("run finished with failures", "execution_id", rep.RunExecutionID, "failed", rep.Failed())
	default:
		logger.Info("run succeeded", "execution_id", rep.RunExecutionID, "outcomes", len(rep.Outcomes))
	}
	return nil
}
