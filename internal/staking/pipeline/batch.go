package pipeline

import (
	"context"

	"github.com/pkg/errors"
	"github/chapool/go-staking/internal/util"
	"golang.org/x/sync/errgroup"
)

// RunBatch runs every job in its own pipeline with at most MaxParallel in flight.
// A failing job does not stop the others; its error is in its Result.
func (s *service) RunBatch(ctx context.Context, jobs []*Job) ([]*Result, error) {
	log := util.LogFromContext(ctx).With().Str("component", "batch").Logger()
	results := make([]*Result, len(jobs))

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxParallel)
	for i, job := range jobs {
		g.Go(func() error {
			jobCtx := util.WithLogger(ctx, log.With().Str("job", job.Name).Logger())

			var res *Result
			if job.Operation != "" {
				res, _ = s.Fetch(jobCtx, &job.FetchRequest)
			} else {
				res, _ = s.Run(jobCtx, &job.Request)
			}
			res.Name = job.Name
			results[i] = res
			return nil
		})
	}
	// jobs report failures in their Result, so Wait only fails on a programming error
	if err := g.Wait(); err != nil {
		return results, errors.Wrap(err, "batch aborted")
	}

	var failed int
	for _, r := range results {
		if !r.Success && !r.NeedsSigners() {
			failed++
		}
	}
	log.Info().Int("jobs", len(jobs)).Int("failed", failed).Msg("Batch finished")

	return results, ctx.Err()
}
