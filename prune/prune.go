// Package prune removes old violation reports.
package prune

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/secinto/go-csp-policy/logging"
)

// DefaultOlderThan is the retention used when a Job names none.
const DefaultOlderThan = time.Hour

// Deleter removes reports created before a cutoff.
type Deleter interface {
	DeleteReportsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job deletes every report older than OlderThan. It is safe to run while
// reports are being inserted.
type Job struct {
	Store     Deleter
	OlderThan time.Duration
	Logger    logging.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Result describes one run.
type Result struct {
	Before  time.Time
	Removed int64
}

// Run performs one pruning pass.
func (j *Job) Run(ctx context.Context) (Result, error) {
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	age := j.OlderThan
	if age <= 0 {
		age = DefaultOlderThan
	}

	res := Result{Before: now().Add(-age)}
	n, err := j.Store.DeleteReportsBefore(ctx, res.Before)
	if err != nil {
		return res, errors.Wrap(err, "pruning violation reports")
	}
	res.Removed = n
	logging.OrNop(j.Logger).Info(ctx, "pruned violation reports",
		"before", res.Before.Format(time.RFC3339), "removed", n)
	return res, nil
}

// Loop runs the job immediately and then every interval until ctx ends.
// Failed runs are logged and retried on the next tick.
func (j *Job) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultOlderThan
	}
	log := logging.OrNop(j.Logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error(ctx, "prune run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
