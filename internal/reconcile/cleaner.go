// Package reconcile removes what a failed attempt left behind.
//
// Cleaner undoes partial writes in the durable store by deleting every
// object that appeared under a prefix between two snapshots. OrphanSweeper
// closes execution records whose process died before closing them.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/metrics"
)

// Deleter removes one object.
type Deleter interface {
	Delete(ctx context.Context, container, key string) error
}

// StatsRefresher recomputes table statistics after objects were removed
// from under it.
type StatsRefresher interface {
	RefreshStatistics(ctx context.Context, table string) error
}

// Target is the location being reconciled. Table is optional.
type Target struct {
	Container string
	Prefix    string
	Table     string
}

type Cleaner struct {
	store   Deleter
	stats   StatsRefresher
	metrics metrics.Sink
	logger  *slog.Logger
}

// NewCleaner creates a Cleaner. stats may be nil when no table sits on top
// of the store.
func NewCleaner(store Deleter, stats StatsRefresher, sink metrics.Sink, logger *slog.Logger) *Cleaner {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{store: store, stats: stats, metrics: sink, logger: logger}
}

// Reconcile deletes post - pre under the target prefix and returns how many
// objects were removed. Names present in pre are never touched. A failed
// delete does not stop the others; all failures come back joined.
func (c *Cleaner) Reconcile(ctx context.Context, t Target, pre, post domain.ObjectSnapshot) (int, error) {
	extra := domain.Extra(t.Prefix, pre, post)
	if len(extra) == 0 {
		return 0, nil
	}

	logger := c.logger.With("container", t.Container, "prefix", t.Prefix)
	logger.Info("reconciling objects written by failed attempt", "objects", len(extra))

	var errs []error
	deleted := 0
	for _, name := range extra {
		if err := c.store.Delete(ctx, t.Container, name); err != nil {
			logger.Error("failed to delete object", "object", name, "err", err)
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		deleted++
	}

	if deleted > 0 && t.Table != "" && c.stats != nil {
		if err := c.stats.RefreshStatistics(ctx, t.Table); err != nil {
			logger.Error("failed to refresh statistics", "table", t.Table, "err", err)
			errs = append(errs, fmt.Errorf("refresh statistics of %s: %w", t.Table, err))
		}
	}

	c.metrics.ObjectsReconciled(deleted)
	logger.Info("reconcile done", "deleted", deleted, "failed", len(extra)-deleted)

	if len(errs) > 0 {
		c.metrics.ReconcileError()
		return deleted, domain.System(errors.Join(errs...), "reconcile %s/%s", t.Container, t.Prefix)
	}
	return deleted, nil
}
