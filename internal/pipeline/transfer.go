package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/metrics"
	"github.com/rudolphlogin/feedload/internal/objectstore"
	"github.com/rudolphlogin/feedload/internal/reconcile"
	"github.com/rudolphlogin/feedload/internal/source"
)

// Job is one feed date of the fetch pass.
type Job struct {
	Feed    domain.FeedConfig
	Session source.Session
	Store   objectstore.Store

	// Request is the resolved source request. DestDir is the staging
	// directory and is removed when the job ends.
	Request source.Request

	// Target is the resolved object prefix under Feed.Destination.Container.
	Target string
}

// Result of one feed date. Files is the number of objects uploaded by the
// fetch pass; Rows is the main partition's row count after a load.
type Result struct {
	Stage Stage
	Files int
	Rows  int64
}

func (r *Result) advance(next Stage) error {
	s, err := r.Stage.Advance(next)
	if err != nil {
		return domain.System(err, "feed date stage")
	}
	r.Stage = s
	return nil
}

// Transfer runs the fetch pass for one feed date.
type Transfer struct {
	staging Staging
	timeout time.Duration
	metrics metrics.Sink
	logger  *slog.Logger
}

// NewTransfer creates a Transfer. timeout bounds each source call; zero
// leaves it to the caller's context.
func NewTransfer(staging Staging, timeout time.Duration, sink metrics.Sink, logger *slog.Logger) *Transfer {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transfer{staging: staging, timeout: timeout, metrics: sink, logger: logger}
}

// Run pulls, then uploads. The staging directory is removed on every exit;
// a removal failure is joined to the result without replacing it.
func (t *Transfer) Run(ctx context.Context, job Job) (res Result, err error) {
	res.Stage = StagePending
	defer func() {
		if rmErr := t.staging.Remove(job.Request.DestDir); rmErr != nil {
			t.logger.Warn("failed to remove staging dir", "dir", job.Request.DestDir, "err", rmErr)
			t.metrics.StagingCleanupFailed()
			err = errors.Join(err, domain.System(rmErr, "remove staging dir"))
		}
		if err != nil {
			res.Stage = StageFailed
		}
	}()

	if _, err = t.Pull(ctx, job.Session, job.Request); err != nil {
		return res, err
	}
	if err = res.advance(StageStaged); err != nil {
		return res, err
	}

	res.Files, err = t.Upload(ctx, job.Store, job.Feed.Destination.Container, job.Request.DestDir, job.Target)
	if err != nil {
		return res, err
	}
	if err = res.advance(StageUploaded); err != nil {
		return res, err
	}
	t.metrics.FilesTransferred(job.Feed.SourceEnv, res.Files)
	err = res.advance(StageDone)
	return res, err
}

// Pull creates the staging dir and transfers matching files into it. Zero
// files is an application error.
func (t *Transfer) Pull(ctx context.Context, sess source.Session, req source.Request) (int, error) {
	if err := t.staging.Prepare(req.DestDir); err != nil {
		return 0, domain.System(err, "create staging dir")
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	n, err := sess.Transfer(ctx, req)
	if err != nil {
		return 0, domain.System(err, "transfer %q from %q", req.Pattern, req.SourceDir)
	}
	if n == 0 {
		return 0, domain.Application(domain.CodeNoMatchingFiles,
			"no files match %q in %q", req.Pattern, req.SourceDir)
	}
	t.logger.Info("files pulled", "files", n, "staging_dir", req.DestDir)
	return n, nil
}

// Upload writes every regular file under stagingDir to target/<relative
// path> and returns how many were written. When an upload fails, objects
// that appeared under target during the attempt are deleted again.
func (t *Transfer) Upload(ctx context.Context, store objectstore.Store, container, stagingDir, target string) (int, error) {
	prefix := objectstore.Prefix(target)

	files, err := t.staging.Files(stagingDir)
	if err != nil {
		return 0, domain.System(err, "list staging dir")
	}

	pre, err := store.List(ctx, container, prefix)
	if err != nil {
		return 0, domain.System(err, "snapshot %s/%s", container, prefix)
	}

	uploaded := 0
	for _, rel := range files {
		key := objectstore.Key(prefix, rel)
		local := filepath.Join(stagingDir, filepath.FromSlash(rel))
		if err := store.Upload(ctx, container, key, local); err != nil {
			upErr := domain.System(err, "upload %s", key)
			return uploaded, errors.Join(upErr, t.undo(ctx, store, container, prefix, pre))
		}
		uploaded++
	}

	t.logger.Info("files uploaded", "files", uploaded, "container", container, "prefix", prefix)
	return uploaded, nil
}

func (t *Transfer) undo(ctx context.Context, store objectstore.Store, container, prefix string, pre domain.ObjectSnapshot) error {
	post, err := store.List(ctx, container, prefix)
	if err != nil {
		t.metrics.ReconcileError()
		return domain.System(err, "post-failure snapshot %s/%s", container, prefix)
	}
	cleaner := reconcile.NewCleaner(store, nil, t.metrics, t.logger)
	_, err = cleaner.Reconcile(ctx, reconcile.Target{Container: container, Prefix: prefix}, pre, post)
	return err
}
