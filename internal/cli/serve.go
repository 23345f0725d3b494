package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rudolphlogin/feedload/internal/api"
	"github.com/rudolphlogin/feedload/internal/config"
	"github.com/rudolphlogin/feedload/internal/dispatcher"
	"github.com/rudolphlogin/feedload/internal/reconcile"
	"github.com/rudolphlogin/feedload/internal/scheduler"
	"github.com/rudolphlogin/feedload/internal/transport/channel"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled passes, the orphan sweeper and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	if cfg.ScheduleFile == "" {
		return invalidConfig(errors.New("SCHEDULE_FILE: required for serve"))
	}

	logger, _, closeLog := config.SetupLogger(cfg, "serve")
	defer closeLog()
	logConfigWarnings(logger, cfg)

	parser := scheduler.NewCronParser()
	entries, err := scheduler.LoadEntries(cfg.ScheduleFile, parser)
	if err != nil {
		return invalidConfig(err)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	bus := channel.NewRequestBus(cfg.RequestBufferSize, channel.WithMetrics(a.sink))
	sched := scheduler.New(scheduler.Config{TickInterval: cfg.TickInterval}, entries, parser, bus).
		WithMetrics(a.sink).
		WithLogger(logger.With("component", "scheduler"))
	disp := dispatcher.New(a.runner).
		WithLogger(logger.With("component", "dispatcher")).
		WithDrainTimeout(cfg.DispatcherDrainTimeout)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.apiHandler().Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Separate contexts give an ordered shutdown: no new triggers, no new
	// sweeps, drain the queue, then stop serving.
	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	dispCtx, cancelDisp := context.WithCancel(context.Background())
	defer cancelDisp()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	schedDone := start(g, func() { sched.Run(schedCtx) })
	dispDone := start(g, func() { disp.Run(dispCtx, bus.Channel()) })

	var sweepDone <-chan struct{}
	if cfg.ReconcileEnabled {
		sweeper := reconcile.NewOrphanSweeper(reconcile.Config{
			Interval:     cfg.ReconcileInterval,
			Threshold:    cfg.ReconcileThreshold,
			RunThreshold: cfg.ReconcileRunThreshold,
			BatchSize:    cfg.ReconcileBatchSize,
		}, a.executions, a.tracker, a.sink, logger)
		sweepDone = start(g, func() { sweeper.Run(sweepCtx) })
		logger.Info("orphan sweeper enabled", "interval", cfg.ReconcileInterval,
			"threshold", cfg.ReconcileThreshold, "run_threshold", cfg.ReconcileRunThreshold, "batch", cfg.ReconcileBatchSize)
	}

	logger.Info("started", "schedules", len(entries), "tick", cfg.TickInterval, "http", cfg.HTTPAddr)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		cancelSched()
		<-schedDone
		logger.Info("scheduler stopped")

		if sweepDone != nil {
			cancelSweep()
			<-sweepDone
			logger.Info("orphan sweeper stopped")
		}

		cancelDisp()
		<-dispDone
		bus.Close()
		logger.Info("dispatcher stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "err", err)
		}
		logger.Info("http server stopped")
		return nil
	})

	if err := g.Wait(); err != nil {
		return runtimeError(err)
	}
	logger.Info("stopped")
	return nil
}

// start runs fn in g and returns a channel closed when fn returns.
func start(g *errgroup.Group, fn func()) <-chan struct{} {
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		fn()
		return nil
	})
	return done
}

// apiHandler builds the HTTP API over the wired stores.
func (a *app) apiHandler() *api.Handler {
	h := api.NewHandler(a.executions).
		WithLogger(a.logger.With("component", "api")).
		WithCORS(a.cfg.CORSOrigins)
	if a.db != nil {
		h = h.WithHealthChecker("database", a.db)
	}
	if a.redis != nil {
		h = h.WithHealthChecker("redis", api.HealthFunc(func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}))
	}
	if a.counters != nil {
		h = h.WithCounters(a.counters)
	}
	if a.cfg.MetricsEnabled {
		h = h.WithMetricsHandler(a.cfg.MetricsPath, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{
			ErrorLog: slog.NewLogLogger(a.logger.Handler(), slog.LevelError),
		}))
	}
	return h
}
