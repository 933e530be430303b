package worker

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/credit"
)

// UsageProvider reports the current storage usage, in GB, for a parent
// graph. It is an external collaborator: the gateway never computes storage
// usage itself, the same way it never executes Cypher itself.
type UsageProvider interface {
	UsageGB(ctx context.Context, graphID string) (float64, error)
}

// StorageBillingCreditService is the subset of credit.Service a
// StorageBillingWorker needs.
type StorageBillingCreditService interface {
	ConsumeStorage(ctx context.Context, parentGraphID string, usedGB float64, pricePerGBDay gateway.Credits) (credit.ConsumeResult, error)
}

// StorageBillingWorker bills storage overage, above each graph's tier
// allowance, on a daily cron schedule.
type StorageBillingWorker struct {
	credits       StorageBillingCreditService
	usage         UsageProvider
	graphIDs      func() []string
	pricePerGBDay gateway.Credits
	schedule      string
}

// NewStorageBillingWorker constructs a daily storage-overage billing sweep.
func NewStorageBillingWorker(credits StorageBillingCreditService, usage UsageProvider, graphIDs func() []string, pricePerGBDay gateway.Credits, schedule string) *StorageBillingWorker {
	if schedule == "" {
		schedule = "0 2 * * *"
	}
	return &StorageBillingWorker{credits: credits, usage: usage, graphIDs: graphIDs, pricePerGBDay: pricePerGBDay, schedule: schedule}
}

// Name identifies this worker for the runner.
func (w *StorageBillingWorker) Name() string { return "storage_billing" }

// Run registers the cron job and blocks until ctx is cancelled.
func (w *StorageBillingWorker) Run(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(w.schedule, func() { w.sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (w *StorageBillingWorker) sweep(ctx context.Context) {
	for _, graphID := range w.graphIDs() {
		usedGB, err := w.usage.UsageGB(ctx, graphID)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "storage usage lookup failed",
				slog.String("graph_id", graphID), slog.String("error", err.Error()))
			continue
		}
		if _, err := w.credits.ConsumeStorage(ctx, graphID, usedGB, w.pricePerGBDay); err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "storage overage billing failed",
				slog.String("graph_id", graphID), slog.String("error", err.Error()))
		}
	}
}
