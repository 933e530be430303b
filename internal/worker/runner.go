package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner fans a set of Workers out under a shared errgroup: if any worker
// returns a non-nil error, the group's context is cancelled and every other
// worker is expected to observe that cancellation and return.
type Runner struct {
	workers []Worker
}

// NewRunner constructs a Runner over the given workers.
func NewRunner(workers ...Worker) *Runner {
	return &Runner{workers: workers}
}

// Run starts every worker and blocks until all have returned or ctx is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		w := w
		g.Go(func() error {
			slog.LogAttrs(ctx, slog.LevelInfo, "worker started", slog.String("worker", w.Name()))
			err := w.Run(ctx)
			if err != nil {
				slog.LogAttrs(ctx, slog.LevelError, "worker exited", slog.String("worker", w.Name()), slog.String("error", err.Error()))
			} else {
				slog.LogAttrs(ctx, slog.LevelInfo, "worker stopped", slog.String("worker", w.Name()))
			}
			return err
		})
	}
	return g.Wait()
}
