package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/cyphergate/cyphergate/internal/circuitbreaker"
)

// BreakerEvictionWorker periodically removes circuit breakers that have seen
// no activity, bounding the registry's memory growth across the
// graph/operation key space.
type BreakerEvictionWorker struct {
	registry *circuitbreaker.Registry
	interval time.Duration
	maxIdle  time.Duration
}

// NewBreakerEvictionWorker constructs a worker that sweeps registry every
// interval, evicting breakers idle longer than maxIdle.
func NewBreakerEvictionWorker(registry *circuitbreaker.Registry, interval, maxIdle time.Duration) *BreakerEvictionWorker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if maxIdle <= 0 {
		maxIdle = time.Hour
	}
	return &BreakerEvictionWorker{registry: registry, interval: interval, maxIdle: maxIdle}
}

// Name identifies this worker for the runner.
func (w *BreakerEvictionWorker) Name() string { return "breaker_eviction" }

// Run sweeps on a ticker until ctx is cancelled.
func (w *BreakerEvictionWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-w.maxIdle)
			if n := w.registry.EvictStale(cutoff); n > 0 {
				slog.LogAttrs(ctx, slog.LevelInfo, "evicted stale circuit breakers", slog.Int("count", n))
			}
		}
	}
}
