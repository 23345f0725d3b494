package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/rudolphlogin/feedload/internal/analytics"
	"github.com/rudolphlogin/feedload/internal/circuitbreaker"
	"github.com/rudolphlogin/feedload/internal/config"
	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/events"
	"github.com/rudolphlogin/feedload/internal/feedname"
	"github.com/rudolphlogin/feedload/internal/metrics"
	"github.com/rudolphlogin/feedload/internal/objectstore"
	"github.com/rudolphlogin/feedload/internal/pipeline"
	"github.com/rudolphlogin/feedload/internal/runlock"
	"github.com/rudolphlogin/feedload/internal/runner"
	"github.com/rudolphlogin/feedload/internal/source"
	"github.com/rudolphlogin/feedload/internal/source/gcs"
	"github.com/rudolphlogin/feedload/internal/source/local"
	"github.com/rudolphlogin/feedload/internal/source/report"
	"github.com/rudolphlogin/feedload/internal/source/s3"
	"github.com/rudolphlogin/feedload/internal/store/memory"
	"github.com/rudolphlogin/feedload/internal/store/postgres"
	"github.com/rudolphlogin/feedload/internal/store/yamlstore"
	"github.com/rudolphlogin/feedload/internal/tableengine"
	"github.com/rudolphlogin/feedload/internal/tracker"
)

// executionStore is what the tracker, the sweeper and the API need from
// the metadata store. Both the postgres and memory stores satisfy it.
type executionStore interface {
	tracker.Store
	StaleStarted(ctx context.Context, olderThan time.Time, limit int) ([]domain.ExecutionRecord, error)
	ListExecutions(ctx context.Context, feedID int64, limit, offset int) ([]domain.ExecutionRecord, error)
}

// app holds the wired components shared by every command.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	db         *sql.DB
	registry   *prometheus.Registry
	sink       metrics.Sink
	executions executionStore
	tracker    *tracker.Tracker
	counters   *analytics.RedisSink
	redis      *redis.Client
	stores     *objectstore.Pool
	runner     *runner.Runner

	closers []func() error
}

// loadConfig reads and validates the environment.
func loadConfig() (config.Config, error) {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		return cfg, invalidConfig(err)
	}
	return cfg, nil
}

// openDB opens the metadata database with the configured pool settings.
func openDB(ctx context.Context, cfg config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	logger.Info("db pool configured", "max_open", cfg.DBMaxOpenConns, "max_idle", cfg.DBMaxIdleConns,
		"max_lifetime", cfg.DBConnMaxLifetime, "max_idle_time", cfg.DBConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBOpTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

// checkSchema checks that the execution table exists. It returns
// sql.ErrNoRows when it does not.
func checkSchema(ctx context.Context, db *sql.DB, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var one int
	return db.QueryRowContext(ctx,
		`SELECT 1 FROM information_schema.tables WHERE table_name = 'feed_executions'`).Scan(&one)
}

// newApp wires the runner and its collaborators from cfg.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	var err error

	if cfg.DatabaseURL != "" {
		if a.db, err = openDB(ctx, cfg, logger); err != nil {
			return err
		}
		a.closers = append(a.closers, a.db.Close)
		if err := checkSchema(ctx, a.db, cfg.DBOpTimeout); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("table feed_executions missing, run 'feedload migrate'")
			}
			return fmt.Errorf("check schema: %w", err)
		}
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.MetricsEnabled || cfg.MetricsPushURL != "" {
		a.sink = metrics.NewPrometheusSink(a.registry)
	} else {
		a.sink = metrics.NewNoopSink()
	}

	feeds, err := a.feedStore()
	if err != nil {
		return err
	}
	a.tracker = tracker.New(a.executions, cfg.DBOpTimeout)

	rules, err := feedname.LoadRules(cfg.NamingRulesFile)
	if err != nil {
		return invalidConfig(err)
	}
	resolver, err := feedname.New(rules)
	if err != nil {
		return invalidConfig(err)
	}

	sources, err := newSourceRegistry(cfg)
	if err != nil {
		return invalidConfig(err)
	}

	warehouse, err := a.warehouse(ctx)
	if err != nil {
		return err
	}

	staging := pipeline.Staging{Root: cfg.StagingRoot}
	a.stores = objectstore.NewPool(nil).WithTimeout(cfg.StoreTimeout)
	a.runner = runner.New(runner.Config{
		DefaultHistoryDate: cfg.DefaultHistoryDate,
		SkipListing:        cfg.SkipListingSources,
		Staging:            staging,
	}, feeds, a.tracker, a.stores).
		WithFetch(sources, resolver, pipeline.NewTransfer(staging, cfg.SourceTimeout, a.sink, logger)).
		WithLoader(pipeline.NewLoader(warehouse, cfg.PartitionScheme, a.sink, logger)).
		WithNotifier(a.notifier()).
		WithMetrics(a.sink).
		WithLogger(logger)

	if cfg.RunLockEnabled && a.db != nil {
		a.runner = a.runner.WithLocker(runlock.NewPostgresLocker(a.db, cfg.RunLockHeartbeat, logger))
	}
	return nil
}

// feedStore picks the configuration and execution stores. A feeds file
// replaces the feed tables; TRACKER=memory keeps records in process.
func (a *app) feedStore() (runner.FeedStore, error) {
	var fileStore *memory.Store
	if a.cfg.FeedsFile != "" {
		s, err := yamlstore.Load(a.cfg.FeedsFile)
		if err != nil {
			return nil, invalidConfig(err)
		}
		fileStore = s
	}

	var pg *postgres.Store
	if a.db != nil {
		pg = postgres.New(a.db)
	}

	switch {
	case a.cfg.Tracker == "memory" && fileStore != nil:
		a.executions = fileStore
	case a.cfg.Tracker == "memory":
		a.executions = memory.New()
	case pg != nil:
		a.executions = pg
	default:
		return nil, invalidConfig(errors.New("TRACKER=postgres needs DATABASE_URL"))
	}

	if fileStore != nil {
		return fileStore, nil
	}
	if pg == nil {
		return nil, invalidConfig(errors.New("no feed source: set FEEDS_FILE or DATABASE_URL"))
	}
	return pg, nil
}

// newSourceRegistry registers the built-in adapters and the configured
// source environment aliases.
func newSourceRegistry(cfg config.Config) (*source.Registry, error) {
	reg := source.NewRegistry().
		WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)).
		WithConnectTimeout(cfg.SourceTimeout)
	reg.Register("local", local.New())
	reg.Register("s3", s3.New())
	reg.Register("gcs", gcs.New())
	reg.Register("report", report.New(report.Config{
		PollInterval: cfg.ReportPollInterval,
		PollAttempts: cfg.ReportPollAttempts,
	}))
	for alias, name := range cfg.SourceAliases {
		if err := reg.Alias(alias, name); err != nil {
			return nil, fmt.Errorf("SOURCE_ALIASES: %w", err)
		}
	}
	return reg, nil
}

// warehouse builds the table engine for ENGINE.
func (a *app) warehouse(ctx context.Context) (*tableengine.Engine, error) {
	switch a.cfg.Engine {
	case "postgres":
		pool, err := tableengine.OpenPool(ctx, a.cfg.EngineURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		return tableengine.New(tableengine.PostgresDialect{}, tableengine.NewPgxExecutor(pool), a.cfg.EngineTimeout, a.logger), nil
	default:
		return tableengine.New(tableengine.HiveDialect{}, tableengine.NewCLIExecutor(a.cfg.HiveBin), a.cfg.EngineTimeout, a.logger), nil
	}
}

// notifier registers every configured outcome consumer.
func (a *app) notifier() events.Notifier {
	multi := events.NewMulti(a.sink, a.logger)

	if a.cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		a.closers = append(a.closers, a.redis.Close)
		a.counters = analytics.NewRedisSink(a.redis, a.cfg.AnalyticsRetention)
		multi.Add("analytics", a.counters)
		a.logger.Info("analytics enabled", "redis", a.cfg.RedisAddr)
	}
	if a.cfg.KafkaBrokers != "" {
		pub, err := events.NewKafkaPublisher(a.cfg.KafkaBrokers, a.cfg.KafkaTopic)
		if err != nil {
			a.logger.Error("kafka publisher disabled", "err", err)
		} else {
			a.closers = append(a.closers, pub.Close)
			multi.Add("kafka", pub)
			a.logger.Info("kafka events enabled", "topic", a.cfg.KafkaTopic)
		}
	}
	if a.cfg.WebhookURL != "" {
		multi.Add("webhook", events.NewWebhookSender(a.cfg.WebhookURL, a.cfg.WebhookSecret, a.cfg.WebhookTimeout))
		a.logger.Info("webhook events enabled")
	}
	return multi
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
