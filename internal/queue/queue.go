// Package queue implements the bounded, priority-ordered, per-user fair
// query queue: submission admission, worker dispatch, cancellation, and
// status/result polling.
package queue

import (
	"container/heap"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/admission"
)

// Config holds the queue's tunable limits.
type Config struct {
	MaxQueueSize            int
	MaxConcurrent           int
	MaxPerUser              int
	DefaultExecutionTimeout time.Duration
	MaxCompleted            int
	CompletedRetention      time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:            1000,
		MaxConcurrent:           50,
		MaxPerUser:              10,
		DefaultExecutionTimeout: 300 * time.Second,
		MaxCompleted:            10000,
		CompletedRetention:      5 * time.Minute,
	}
}

// Executor runs a query and returns its normalized result.
type Executor func(ctx context.Context, cypher string, params map[string]any, graphID string) (*gateway.QueryResult, error)

// RejectReason names why a submission was not admitted.
type RejectReason string

const (
	RejectNone      RejectReason = ""
	RejectMemory    RejectReason = "memory"
	RejectCPU       RejectReason = "cpu"
	RejectQueueFull RejectReason = "queue_full"
	RejectLoadShed  RejectReason = "load_shed"
	RejectUserLimit RejectReason = "user_limit"
)

// SubmitResult is the outcome of Submit.
type SubmitResult struct {
	QueryID  string
	Rejected bool
	Reason   RejectReason
}

// StatusView is a normalized, point-in-time snapshot of a query's status.
type StatusView struct {
	Query         *gateway.QueuedQuery
	QueuePosition int
	EstimatedWait time.Duration
	Found         bool
}

// Queue is the bounded priority query queue.
type Queue struct {
	cfg       Config
	admission *admission.Controller
	executor  Executor

	mu         sync.Mutex
	heap       priorityHeap
	index      map[string]*heapItem
	queries    map[string]*gateway.QueuedQuery
	perUser    map[string]int
	running    int
	completedQ []string // FIFO order of completed ids, for LRU eviction

	popSignal    chan struct{}
	startOnce    sync.Once
	workerCtx    context.Context
	workerCancel context.CancelFunc
	stop         chan struct{}
	stopped      bool
}

// New constructs a Queue. The worker loop starts lazily, on the first Submit
// or explicit Run call, whichever happens first.
func New(cfg Config, ac *admission.Controller, executor Executor) *Queue {
	workerCtx, workerCancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:          cfg,
		admission:    ac,
		executor:     executor,
		index:        make(map[string]*heapItem),
		queries:      make(map[string]*gateway.QueuedQuery),
		perUser:      make(map[string]int),
		popSignal:    make(chan struct{}, 1),
		workerCtx:    workerCtx,
		workerCancel: workerCancel,
		stop:         make(chan struct{}),
	}
}

// Name identifies this worker for the runner.
func (q *Queue) Name() string { return "query_queue" }

// Run is the Worker-compatible entrypoint: it starts the dispatch loop (if
// not already running) and blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	q.ensureStarted()
	select {
	case <-ctx.Done():
	case <-q.workerCtx.Done():
	}
	q.Shutdown()
	return nil
}

func (q *Queue) ensureStarted() {
	q.startOnce.Do(func() {
		go q.dispatchLoop(q.workerCtx)
	})
}

// Submit admits and enqueues a query, or reports why it was rejected.
func (q *Queue) Submit(ctx context.Context, cypher string, params map[string]any, graphID, userID string, creditsRequired gateway.Credits, priority int) SubmitResult {
	q.ensureStarted()

	q.mu.Lock()
	depth := len(q.heap)
	running := q.running
	q.mu.Unlock()

	decision := q.admission.Check(depth, q.cfg.MaxQueueSize, running, priority)
	if !decision.Accepted {
		return SubmitResult{Rejected: true, Reason: RejectReason(decision.Reason)}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) >= q.cfg.MaxQueueSize {
		return SubmitResult{Rejected: true, Reason: RejectQueueFull}
	}
	if q.perUser[userID] >= q.cfg.MaxPerUser {
		return SubmitResult{Rejected: true, Reason: RejectUserLimit}
	}

	id := "q_" + randomHex(12)
	now := time.Now()
	qq := &gateway.QueuedQuery{
		ID:              id,
		Cypher:          cypher,
		Parameters:      params,
		GraphID:         graphID,
		UserID:          userID,
		Priority:        priority,
		CreditsReserved: creditsRequired,
		CreatedAt:       now,
		Status:          gateway.StatusPending,
	}
	item := &heapItem{id: id, priority: priority, createdAt: now}
	heap.Push(&q.heap, item)
	q.index[id] = item
	q.queries[id] = qq
	q.perUser[userID]++

	select {
	case q.popSignal <- struct{}{}:
	default:
	}

	return SubmitResult{QueryID: id}
}

// Cancel cancels a pending query owned by userID.
func (q *Queue) Cancel(queryID, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	qq, ok := q.queries[queryID]
	if !ok || qq.UserID != userID {
		return gateway.ErrNotFound
	}
	if qq.Status != gateway.StatusPending {
		return fmt.Errorf("cannot cancel query in status %s", qq.Status)
	}
	qq.Status = gateway.StatusCancelled
	now := time.Now()
	qq.CompletedAt = &now
	q.finishLocked(qq)
	return nil
}

// GetStatus returns a normalized snapshot of queryID's state.
func (q *Queue) GetStatus(queryID string) StatusView {
	q.mu.Lock()
	defer q.mu.Unlock()

	qq, ok := q.queries[queryID]
	if !ok {
		return StatusView{}
	}
	cp := *qq
	view := StatusView{Query: &cp, Found: true}
	if qq.Status == gateway.StatusPending {
		view.QueuePosition = q.positionLocked(queryID)
		if q.cfg.MaxConcurrent > 0 {
			view.EstimatedWait = time.Duration(view.QueuePosition/q.cfg.MaxConcurrent) * 2 * time.Second
		}
	}
	return view
}

func (q *Queue) positionLocked(queryID string) int {
	item, ok := q.index[queryID]
	if !ok {
		return 0
	}
	pos := 0
	for _, other := range q.heap {
		if heapLess(other, item) {
			pos++
		}
	}
	return pos + 1
}

func heapLess(a, b *heapItem) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.createdAt.Before(b.createdAt)
}

// GetResult polls for completion up to waitSeconds, returning the last-known
// status. Non-SSE clients use this; SSE monitoring is preferred.
func (q *Queue) GetResult(ctx context.Context, queryID string, wait time.Duration) StatusView {
	deadline := time.Now().Add(wait)
	const pollInterval = 100 * time.Millisecond
	for {
		view := q.GetStatus(queryID)
		if !view.Found || isTerminal(view.Query.Status) || time.Now().After(deadline) {
			return view
		}
		select {
		case <-ctx.Done():
			return view
		case <-time.After(pollInterval):
		}
	}
}

func isTerminal(s gateway.QueryStatus) bool {
	return s == gateway.StatusCompleted || s == gateway.StatusFailed || s == gateway.StatusCancelled
}

func (q *Queue) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		default:
		}

		q.mu.Lock()
		if q.running >= q.cfg.MaxConcurrent {
			q.mu.Unlock()
			select {
			case <-time.After(50 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}
		q.mu.Unlock()

		item, ok := q.popWithTimeout(ctx, time.Second)
		if !ok {
			continue
		}

		q.mu.Lock()
		qq, exists := q.queries[item.id]
		if !exists || qq.Status != gateway.StatusPending {
			delete(q.index, item.id)
			q.mu.Unlock()
			continue
		}
		now := time.Now()
		qq.Status = gateway.StatusRunning
		qq.StartedAt = &now
		q.running++
		delete(q.index, item.id)
		q.mu.Unlock()

		go q.execute(ctx, qq)
	}
}

func (q *Queue) popWithTimeout(ctx context.Context, timeout time.Duration) (*heapItem, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if len(q.heap) > 0 {
			item := heap.Pop(&q.heap).(*heapItem)
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()

		select {
		case <-q.popSignal:
			continue
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *Queue) execute(parent context.Context, qq *gateway.QueuedQuery) {
	timeout := q.cfg.DefaultExecutionTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	result, err := q.executor(ctx, qq.Cypher, qq.Parameters, qq.GraphID)

	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	qq.CompletedAt = &now
	switch {
	case err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		qq.Status = gateway.StatusFailed
		qq.Error = fmt.Sprintf("query timeout after %s", timeout)
	case err != nil:
		qq.Status = gateway.StatusFailed
		qq.Error = err.Error()
	default:
		qq.Status = gateway.StatusCompleted
		qq.Result = result
	}

	q.running--
	q.finishLocked(qq)
}

// finishLocked moves qq into the completed set, decrements per-user counts,
// and schedules its delayed removal from the primary index. Callers must
// hold q.mu.
func (q *Queue) finishLocked(qq *gateway.QueuedQuery) {
	if n := q.perUser[qq.UserID]; n > 1 {
		q.perUser[qq.UserID] = n - 1
	} else {
		delete(q.perUser, qq.UserID)
	}
	delete(q.index, qq.ID)

	q.completedQ = append(q.completedQ, qq.ID)
	for len(q.completedQ) > q.cfg.MaxCompleted {
		evictID := q.completedQ[0]
		q.completedQ = q.completedQ[1:]
		delete(q.queries, evictID)
	}

	id := qq.ID
	retention := q.cfg.CompletedRetention
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	time.AfterFunc(retention, func() {
		q.mu.Lock()
		delete(q.queries, id)
		q.mu.Unlock()
	})
}

// Stats reports the current queue depth and running count for status
// endpoints and the StrategySelector's SystemState.
func (q *Queue) Stats() (depth, running int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap), q.running
}

// Shutdown stops the dispatch loop.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()
	close(q.stop)
	q.workerCancel()
}

func randomHex(n int) string {
	buf := make([]byte, n/2+1)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return hex.EncodeToString(buf)[:n]
}
