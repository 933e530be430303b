package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cyphergate/cyphergate/internal/credit"
)

// AllocationCreditService is the subset of credit.Service a
// MonthlyAllocationWorker needs.
type AllocationCreditService interface {
	AllocateMonthlyCredits(ctx context.Context, graphID string, now time.Time) (credit.ConsumeResult, error)
}

// MonthlyAllocationWorker runs credit.Service.AllocateMonthlyCredits against
// every configured parent graph on a cron schedule. Allocation is idempotent
// per (graphID, YYYY-MM), so a missed or duplicate run is harmless.
type MonthlyAllocationWorker struct {
	credits  AllocationCreditService
	graphIDs func() []string
	schedule string
}

// NewMonthlyAllocationWorker constructs a worker that sweeps graphIDs() on
// the given cron schedule (e.g. "0 0 1 * *" for the first of each month).
// graphIDs is a function rather than a static slice so newly bootstrapped
// graphs are picked up without restarting the worker.
func NewMonthlyAllocationWorker(credits AllocationCreditService, graphIDs func() []string, schedule string) *MonthlyAllocationWorker {
	if schedule == "" {
		schedule = "0 0 1 * *"
	}
	return &MonthlyAllocationWorker{credits: credits, graphIDs: graphIDs, schedule: schedule}
}

// Name identifies this worker for the runner.
func (w *MonthlyAllocationWorker) Name() string { return "monthly_allocation" }

// Run registers the cron job and blocks until ctx is cancelled.
func (w *MonthlyAllocationWorker) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(w.schedule, func() { w.sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (w *MonthlyAllocationWorker) sweep(ctx context.Context) {
	now := time.Now().UTC()
	for _, graphID := range w.graphIDs() {
		if _, err := w.credits.AllocateMonthlyCredits(ctx, graphID, now); err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "monthly allocation failed",
				slog.String("graph_id", graphID),
				slog.String("error", err.Error()),
			)
		}
	}
}
