package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cyphergate/cyphergate/internal/credit"
)

type fakeAllocationService struct {
	mu       sync.Mutex
	allocated []string
}

func (f *fakeAllocationService) AllocateMonthlyCredits(_ context.Context, graphID string, _ time.Time) (credit.ConsumeResult, error) {
	f.mu.Lock()
	f.allocated = append(f.allocated, graphID)
	f.mu.Unlock()
	return credit.ConsumeResult{Success: true}, nil
}

func (f *fakeAllocationService) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.allocated)
}

func TestMonthlyAllocationWorker_Sweeps(t *testing.T) {
	t.Parallel()
	svc := &fakeAllocationService{}
	w := NewMonthlyAllocationWorker(svc, func() []string { return []string{"kg1", "kg2"} }, "* * * * * *")
	// Not a real cron run in this test: exercise sweep() directly, since
	// waiting on the minute-granularity cron schedule would make the test slow.
	w.sweep(t.Context())

	if svc.count() != 2 {
		t.Errorf("allocated %d graphs, want 2", svc.count())
	}
}
