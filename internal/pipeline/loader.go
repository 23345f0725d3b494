package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/metrics"
	"github.com/rudolphlogin/feedload/internal/objectstore"
	"github.com/rudolphlogin/feedload/internal/reconcile"
	"github.com/rudolphlogin/feedload/internal/tableengine"
)

// Warehouse is the subset of *tableengine.Engine the loader drives.
type Warehouse interface {
	AddPartition(ctx context.Context, table string, p domain.DatePartition, location string) error
	LoadPartition(ctx context.Context, spec tableengine.LoadSpec, p domain.DatePartition) (tableengine.Result, error)
	CountRows(ctx context.Context, table string, p domain.DatePartition) (int64, error)
	DropPartition(ctx context.Context, table string, p domain.DatePartition) error
	RefreshStatistics(ctx context.Context, table string) error
}

// Loader runs the load pass for one feed date: the raw folder of the date
// becomes a staging partition, its rows are copied into the main table's
// year and quarter partition, and the staging partition is dropped.
type Loader struct {
	engine  Warehouse
	scheme  string
	metrics metrics.Sink
	logger  *slog.Logger
}

// NewLoader creates a Loader. scheme prefixes partition locations, for
// example "s3a" yields s3a://<container>/<raw prefix>/<YYYYMMDD>.
func NewLoader(engine Warehouse, scheme string, sink metrics.Sink, logger *slog.Logger) *Loader {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{engine: engine, scheme: scheme, metrics: sink, logger: logger}
}

// Location returns where the raw files of p live.
func (l *Loader) Location(feed domain.FeedConfig, p domain.DatePartition) string {
	return fmt.Sprintf("%s://%s/%s%s", l.scheme, feed.Destination.Container,
		objectstore.Prefix(feed.Load.RawPrefix), p.Key())
}

// Load loads p. The result carries the number of rows in the main
// partition and moves PENDING, LOADED, DONE. On failure the objects the
// attempt added under the main table's quarter prefix are deleted and the
// error is returned.
func (l *Loader) Load(ctx context.Context, store objectstore.Store, feed domain.FeedConfig, p domain.DatePartition) (res Result, err error) {
	res.Stage = StagePending
	defer func() {
		if err != nil {
			res.Stage = StageFailed
		}
	}()

	cfg := feed.Load
	container := cfg.MainContainer
	if container == "" {
		container = feed.Destination.Container
	}
	prefix := p.QuarterPrefix(cfg.MainPrefix)

	pre, err := store.List(ctx, container, prefix)
	if err != nil {
		return res, domain.System(err, "snapshot %s/%s", container, prefix)
	}

	if err = l.load(ctx, feed, p, &res); err == nil {
		return res, nil
	}

	l.logger.Error("load failed, reconciling main table objects", "partition", p.Key(), "stage", res.Stage, "err", err)
	post, lerr := store.List(ctx, container, prefix)
	if lerr != nil {
		l.metrics.ReconcileError()
		return res, errors.Join(err, domain.System(lerr, "post-failure snapshot %s/%s", container, prefix))
	}
	cleaner := reconcile.NewCleaner(store, l.engine, l.metrics, l.logger)
	if _, rerr := cleaner.Reconcile(ctx, reconcile.Target{Container: container, Prefix: prefix, Table: cfg.MainTable}, pre, post); rerr != nil {
		return res, errors.Join(err, rerr)
	}
	return res, err
}

func (l *Loader) load(ctx context.Context, feed domain.FeedConfig, p domain.DatePartition, res *Result) error {
	cfg := feed.Load
	if err := l.engine.AddPartition(ctx, cfg.StagingTable, p, l.Location(feed, p)); err != nil {
		return err
	}
	loaded, err := l.engine.LoadPartition(ctx, tableengine.LoadSpecFor(cfg), p)
	if err != nil {
		return err
	}
	rows, err := l.engine.CountRows(ctx, cfg.MainTable, p)
	if err != nil {
		return err
	}
	if rows <= 0 {
		return domain.Application(domain.CodeEmptyPartition,
			"no rows in %s for %s", cfg.MainTable, p.Key())
	}
	res.Rows = rows
	if err := res.advance(StageLoaded); err != nil {
		return err
	}
	if err := l.engine.DropPartition(ctx, cfg.StagingTable, p); err != nil {
		return err
	}
	l.logger.Info("partition loaded", "partition", p.Key(), "table", cfg.MainTable,
		"rows", rows, "affected", loaded.RowsAffected, "duration", loaded.Duration)
	return res.advance(StageDone)
}

// DiscoverDates lists the date folders under the feed's raw prefix. Entries
// whose first path element is not a YYYYMMDD key are ignored.
func DiscoverDates(ctx context.Context, store objectstore.Store, feed domain.FeedConfig) ([]domain.DatePartition, error) {
	prefix := objectstore.Prefix(feed.Load.RawPrefix)
	snap, err := store.List(ctx, feed.Destination.Container, prefix)
	if err != nil {
		return nil, domain.System(err, "list %s/%s", feed.Destination.Container, prefix)
	}

	seen := make(map[string]domain.DatePartition)
	for _, name := range snap.Sorted() {
		rest := strings.TrimPrefix(name, prefix)
		folder, _, found := strings.Cut(rest, "/")
		if !found {
			continue
		}
		p, err := domain.ParseDateKey(folder)
		if err != nil {
			continue
		}
		seen[p.Key()] = p
	}

	out := make([]domain.DatePartition, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
