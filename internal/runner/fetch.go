package runner

import (
	"context"
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/objectstore"
	"github.com/rudolphlogin/feedload/internal/pipeline"
	"github.com/rudolphlogin/feedload/internal/recurrence"
	"github.com/rudolphlogin/feedload/internal/source"
)

// fetchFeed walks the feed's date window and transfers every due date.
func (r *Runner) fetchFeed(ctx context.Context, rc RunContext) []domain.Outcome {
	feed := rc.Feed

	last, err := r.tracker.LastSuccess(ctx, feed.FeedID, rc.ProcessID)
	if err != nil {
		return []domain.Outcome{rc.fail(err)}
	}

	start, end, err := r.window(rc, last)
	if err != nil {
		return []domain.Outcome{rc.fail(err)}
	}
	dates := recurrence.Window(start, end)
	if len(dates) == 0 {
		rc.Logger.Info("nothing to fetch", "start", start.Format("2006-01-02"), "end", end.Format("2006-01-02"))
		return nil
	}

	// A bad frequency fails the feed once instead of once per date.
	if _, err := recurrence.IsDue(feed, dates[0], r.config.DefaultHistoryDate); err != nil {
		return []domain.Outcome{rc.fail(err)}
	}

	sess, err := r.sources.Connect(ctx, feed)
	if err != nil {
		return []domain.Outcome{rc.fail(err)}
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			rc.Logger.Warn("failed to close source session", "err", cerr)
		}
	}()

	store, err := r.stores.Get(feed.Destination)
	if err != nil {
		return []domain.Outcome{rc.fail(domain.System(err, "open durable store"))}
	}

	var outcomes []domain.Outcome
	for _, date := range dates {
		if ctx.Err() != nil {
			break
		}
		drc := rc.ForDate(date)

		due, _ := recurrence.IsDue(feed, date, recurrence.EffectiveLastSuccess(last, r.config.DefaultHistoryDate))
		if !due {
			drc.Logger.Debug("not due")
			outcomes = append(outcomes, drc.skip())
			continue
		}

		o := r.fetchDate(ctx, drc, sess, store)
		if o.Status == domain.ExecutionStatusSuccess {
			d := date
			last = &d
		}
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// window picks the dates to consider: explicit bounds win, otherwise from
// the day after the last success up to yesterday.
func (r *Runner) window(rc RunContext, last *time.Time) (time.Time, time.Time, error) {
	var start, end time.Time
	if rc.Request.Start != nil {
		start = domain.Day(*rc.Request.Start)
	} else {
		s, err := recurrence.StartDate(rc.Feed, last)
		if err != nil {
			return start, end, err
		}
		start = s
	}
	if rc.Request.End != nil {
		end = domain.Day(*rc.Request.End)
	} else {
		end = recurrence.DefaultEnd(r.clock().UTC())
	}
	return start, end, nil
}

func (r *Runner) fetchDate(ctx context.Context, rc RunContext, sess source.Session, store objectstore.Store) domain.Outcome {
	started := r.clock()
	feed := rc.Feed

	id, err := r.tracker.Open(ctx, rc.Attempt())
	if err != nil {
		return rc.fail(err)
	}
	rc = rc.WithExecution(id)

	paths := r.resolver.ResolveFeed(feed, rc.Date)
	dir, err := r.config.Staging.Dir(paths.StagingDir)
	if err != nil {
		return r.closeAttempt(ctx, rc, rc.fail(domain.Application(domain.CodeInvalidConfig, "%v", err)))
	}

	rc.Logger.Info("fetching", "file", paths.FileName, "source_dir", paths.SourceDir, "target", paths.TargetDir)
	res, err := r.transfer.Run(ctx, pipeline.Job{
		Feed:    feed,
		Session: sess,
		Store:   store,
		Request: source.Request{
			Container:   feed.SourceContainer,
			Pattern:     paths.FileName,
			SourceDir:   paths.SourceDir,
			DestDir:     dir,
			SkipListing: r.skip[normalize(feed.SourceEnv)],
			Date:        rc.Date,
		},
		Target: paths.TargetDir,
	})

	var o domain.Outcome
	if err != nil {
		o = rc.fail(err)
	} else {
		o = rc.succeed(int64(res.Files))
		rc.Logger.Info("fetched", "files", res.Files, "stage", res.Stage)
	}
	o = r.closeAttempt(ctx, rc, o)
	o.Duration = r.clock().Sub(started)
	return o
}
