package runner

import (
	"context"

	"github.com/rudolphlogin/feedload/internal/domain"
	"github.com/rudolphlogin/feedload/internal/objectstore"
	"github.com/rudolphlogin/feedload/internal/pipeline"
)

// loadFeed loads every date folder found under the feed's raw prefix.
// Dates whose latest load is SUCCESS are skipped unless the request forces
// a reload.
func (r *Runner) loadFeed(ctx context.Context, rc RunContext) []domain.Outcome {
	feed := rc.Feed

	store, err := r.stores.Get(feed.Destination)
	if err != nil {
		return []domain.Outcome{rc.fail(domain.System(err, "open durable store"))}
	}

	partitions, err := pipeline.DiscoverDates(ctx, store, feed)
	if err != nil {
		return []domain.Outcome{rc.fail(err)}
	}
	if len(partitions) == 0 {
		rc.Logger.Info("no landed dates")
		return nil
	}

	var outcomes []domain.Outcome
	for _, p := range partitions {
		if ctx.Err() != nil {
			break
		}
		if !r.inRequestedRange(rc.Request, p) {
			continue
		}
		drc := rc.ForDate(p.Date)

		if !rc.Request.Force {
			status, ok, err := r.tracker.LatestStatus(ctx, feed.FeedID, rc.ProcessID, p.Date)
			if err != nil {
				outcomes = append(outcomes, drc.fail(err))
				continue
			}
			if ok && status == domain.ExecutionStatusSuccess {
				drc.Logger.Debug("already loaded")
				outcomes = append(outcomes, drc.skip())
				continue
			}
		}

		outcomes = append(outcomes, r.loadDate(ctx, drc, store, p))
	}
	return outcomes
}

func (r *Runner) inRequestedRange(req domain.RunRequest, p domain.DatePartition) bool {
	if req.Start != nil && p.Date.Before(domain.Day(*req.Start)) {
		return false
	}
	if req.End != nil && p.Date.After(domain.Day(*req.End)) {
		return false
	}
	return true
}

func (r *Runner) loadDate(ctx context.Context, rc RunContext, store objectstore.Store, p domain.DatePartition) domain.Outcome {
	started := r.clock()

	id, err := r.tracker.Open(ctx, rc.Attempt())
	if err != nil {
		return rc.fail(err)
	}
	rc = rc.WithExecution(id)
	rc.Logger.Info("loading", "partition", p.Key(), "table", rc.Feed.Load.MainTable)

	var o domain.Outcome
	res, err := r.loader.Load(ctx, store, rc.Feed, p)
	if err != nil {
		o = rc.fail(err)
	} else {
		o = rc.succeed(res.Rows)
	}
	o = r.closeAttempt(ctx, rc, o)
	o.Duration = r.clock().Sub(started)
	return o
}
