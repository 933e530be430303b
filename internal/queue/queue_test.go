package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/admission"
)

func newTestQueue(t *testing.T, cfg Config, exec Executor) *Queue {
	t.Helper()
	ac := admission.NewController(admission.Config{
		MemoryThreshold: 100, CPUThreshold: 100, QueueThreshold: 100,
		CheckInterval: time.Hour, DefaultPriority: 5,
	})
	t.Cleanup(ac.Stop)
	q := New(cfg, ac, exec)
	t.Cleanup(q.Shutdown)
	return q
}

func blockingExecutor(release chan struct{}) Executor {
	return func(ctx context.Context, cypher string, params map[string]any, graphID string) (*gateway.QueryResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &gateway.QueryResult{RowCount: 1}, nil
	}
}

func waitForStatus(t *testing.T, q *Queue, id string, status gateway.QueryStatus, timeout time.Duration) StatusView {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		v := q.GetStatus(id)
		if v.Found && v.Query.Status == status {
			return v
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("query %s did not reach status %s in time", id, status)
	return StatusView{}
}

func TestSubmit_ExecutesAndCompletes(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t, DefaultConfig(), func(ctx context.Context, cypher string, params map[string]any, graphID string) (*gateway.QueryResult, error) {
		return &gateway.QueryResult{RowCount: 3}, nil
	})

	res := q.Submit(context.Background(), "MATCH (n) RETURN n", nil, "kg01", "user1", 0, 5)
	if res.Rejected {
		t.Fatalf("expected submission to be accepted, got reason %s", res.Reason)
	}

	view := waitForStatus(t, q, res.QueryID, gateway.StatusCompleted, time.Second)
	if view.Query.Result == nil || view.Query.Result.RowCount != 3 {
		t.Fatalf("expected result with 3 rows, got %+v", view.Query.Result)
	}
}

func TestSubmit_RejectsAtMaxQueueSize(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	cfg := DefaultConfig()
	cfg.MaxQueueSize = 1
	cfg.MaxConcurrent = 1
	q := newTestQueue(t, cfg, blockingExecutor(release))
	defer close(release)

	first := q.Submit(context.Background(), "MATCH (n) RETURN n", nil, "kg01", "user1", 0, 5)
	if first.Rejected {
		t.Fatalf("expected first submission accepted")
	}
	waitForStatus(t, q, first.QueryID, gateway.StatusRunning, time.Second)

	second := q.Submit(context.Background(), "MATCH (n) RETURN n", nil, "kg01", "user2", 0, 5)
	if second.Rejected {
		t.Fatalf("expected second submission to queue behind the running slot, not be rejected yet")
	}
	third := q.Submit(context.Background(), "MATCH (n) RETURN n", nil, "kg01", "user3", 0, 5)
	if !third.Rejected || third.Reason != RejectQueueFull {
		t.Fatalf("expected third submission rejected with queue_full, got %+v", third)
	}
}

func TestSubmit_RejectsAtPerUserLimit(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 0 // nothing ever dispatches, so everything stays Pending
	cfg.MaxPerUser = 2
	q := newTestQueue(t, cfg, blockingExecutor(release))

	for i := 0; i < 2; i++ {
		res := q.Submit(context.Background(), "MATCH (n) RETURN n", nil, "kg01", "user1", 0, 5)
		if res.Rejected {
			t.Fatalf("submission %d: expected accepted, got %+v", i, res)
		}
	}
	res := q.Submit(context.Background(), "MATCH (n) RETURN n", nil, "kg01", "user1", 0, 5)
	if !res.Rejected || res.Reason != RejectUserLimit {
		t.Fatalf("expected third submission from same user rejected with user_limit, got %+v", res)
	}
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	var mu sync.Mutex
	var order []string

	q := newTestQueue(t, cfg, func(ctx context.Context, cypher string, params map[string]any, graphID string) (*gateway.QueryResult, error) {
		mu.Lock()
		order = append(order, cypher)
		mu.Unlock()
		<-release
		return &gateway.QueryResult{}, nil
	})

	// Occupy the single concurrency slot first so both B and A actually queue.
	occupy := q.Submit(context.Background(), "OCCUPY", nil, "kg01", "occupier", 0, 1)
	waitForStatus(t, q, occupy.QueryID, gateway.StatusRunning, time.Second)

	low := q.Submit(context.Background(), "LOW", nil, "kg01", "userB", 0, 1)
	high := q.Submit(context.Background(), "HIGH", nil, "kg01", "userA", 0, 9)
	if low.Rejected || high.Rejected {
		t.Fatalf("expected both submissions accepted")
	}

	close(release)
	waitForStatus(t, q, high.QueryID, gateway.StatusCompleted, 2*time.Second)
	waitForStatus(t, q, low.QueryID, gateway.StatusCompleted, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	foundHigh, foundLow := -1, -1
	for i, c := range order {
		if c == "HIGH" {
			foundHigh = i
		}
		if c == "LOW" {
			foundLow = i
		}
	}
	if foundHigh == -1 || foundLow == -1 || foundHigh > foundLow {
		t.Fatalf("expected HIGH priority query to run before LOW, order=%v", order)
	}
}

func TestCancel_OnlyOwnerCanCancelPending(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 0
	q := newTestQueue(t, cfg, blockingExecutor(release))

	res := q.Submit(context.Background(), "MATCH (n) RETURN n", nil, "kg01", "user1", 0, 5)
	if res.Rejected {
		t.Fatalf("expected submission accepted")
	}

	if err := q.Cancel(res.QueryID, "user2"); err == nil {
		t.Fatalf("expected cancel by non-owner to fail")
	}
	if err := q.Cancel(res.QueryID, "user1"); err != nil {
		t.Fatalf("expected cancel by owner to succeed: %v", err)
	}
	view := q.GetStatus(res.QueryID)
	if view.Query.Status != gateway.StatusCancelled {
		t.Fatalf("expected status cancelled, got %s", view.Query.Status)
	}
}

func TestPerUserCountReturnsToZeroAfterCompletion(t *testing.T) {
	t.Parallel()
	q := newTestQueue(t, DefaultConfig(), func(ctx context.Context, cypher string, params map[string]any, graphID string) (*gateway.QueryResult, error) {
		return &gateway.QueryResult{}, nil
	})

	res := q.Submit(context.Background(), "MATCH (n) RETURN n", nil, "kg01", "user1", 0, 5)
	waitForStatus(t, q, res.QueryID, gateway.StatusCompleted, time.Second)

	q.mu.Lock()
	count := q.perUser["user1"]
	q.mu.Unlock()
	if count != 0 {
		t.Fatalf("expected per-user count to return to 0, got %d", count)
	}
}

func TestExecute_TimeoutMarksFailed(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.DefaultExecutionTimeout = 20 * time.Millisecond
	q := newTestQueue(t, cfg, func(ctx context.Context, cypher string, params map[string]any, graphID string) (*gateway.QueryResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	res := q.Submit(context.Background(), "MATCH (n) RETURN n", nil, "kg01", "user1", 0, 5)
	view := waitForStatus(t, q, res.QueryID, gateway.StatusFailed, time.Second)
	if view.Query.Error == "" {
		t.Fatalf("expected a timeout error message")
	}
}

func TestGetResult_PollsUntilCompletion(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	q := newTestQueue(t, DefaultConfig(), blockingExecutor(release))

	res := q.Submit(context.Background(), "MATCH (n) RETURN n", nil, "kg01", "user1", 0, 5)
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	view := q.GetResult(context.Background(), res.QueryID, time.Second)
	if view.Query.Status != gateway.StatusCompleted {
		t.Fatalf("expected GetResult to observe completion, got %s", view.Query.Status)
	}
}
