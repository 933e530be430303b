// Package eventbus implements the SSE operation event bus: a
// breaker-guarded, KV-persisted append-only event log per operation, with
// live fan-out to subscribers and per-user connection limits.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/circuitbreaker"
)

// Config holds the bus's tunable limits.
type Config struct {
	MaxConnectionsPerUser int
	ConnectionRatePerMin  int
	KeepaliveInterval     time.Duration
	RetentionEvents       int
	BreakerFailures       int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnectionsPerUser: 5,
		ConnectionRatePerMin:  10,
		KeepaliveInterval:     20 * time.Second,
		RetentionEvents:       200,
		BreakerFailures:       3,
	}
}

// Metrics are the bus's process-wide counters, exposed to the telemetry
// package for Prometheus registration.
type Metrics struct {
	ConnectionsOpened       atomic.Int64
	ConnectionsClosed       atomic.Int64
	ConnectionsRejected     atomic.Int64
	EventsEmitted           atomic.Int64
	EventsFailed            atomic.Int64
	CircuitBreakerOpens     atomic.Int64
	ConnectionQueueOverflow atomic.Int64
}

// ErrConnectionLimit is returned when a subscriber exceeds the per-user cap
// or the connection rate limit.
type ErrConnectionLimit struct{ Reason string }

func (e ErrConnectionLimit) Error() string { return "connection limit: " + e.Reason }

type subscriber struct {
	userID string
	ch     chan gateway.OperationEvent
}

// Bus is the SSE operation event bus.
type Bus struct {
	cfg     Config
	kv      gateway.KVStore
	breaker *circuitbreaker.Breaker
	Metrics Metrics

	mu          sync.Mutex
	subscribers map[string][]*subscriber // operationID -> live subscribers
	perUserConn map[string]int
	connTimes   []time.Time // sliding window of recent connection opens, across all users
}

// New constructs a Bus over kv.
func New(kv gateway.KVStore, cfg Config) *Bus {
	breakerCfg := circuitbreaker.DefaultConfig()
	if cfg.BreakerFailures > 0 {
		breakerCfg.FailureThreshold = cfg.BreakerFailures
	}
	return &Bus{
		cfg:         cfg,
		kv:          kv,
		breaker:     circuitbreaker.NewBreaker(breakerCfg),
		subscribers: make(map[string][]*subscriber),
		perUserConn: make(map[string]int),
	}
}

func eventKey(operationID string) string { return "operation_events:" + operationID }

// Emit publishes an event for operationID. It never returns an error to the
// caller: on persistence failure, or while the breaker is open, it degrades
// to a fan-out-only (or complete) no-op, and the originating operation must
// continue regardless.
func (b *Bus) Emit(ctx context.Context, operationID string, eventType gateway.OperationEventType, payload map[string]any) {
	event := gateway.OperationEvent{
		OperationID: operationID,
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
	}

	if b.breaker.Allow() {
		if err := b.persist(ctx, event); err != nil {
			b.breaker.RecordFailure()
			b.Metrics.EventsFailed.Add(1)
		} else {
			b.breaker.RecordSuccess()
			b.Metrics.EventsEmitted.Add(1)
		}
	} else {
		b.Metrics.EventsFailed.Add(1)
	}

	b.fanOut(operationID, event)
}

func (b *Bus) persist(ctx context.Context, event gateway.OperationEvent) error {
	if b.kv == nil {
		return nil
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.kv.Append(ctx, eventKey(event.OperationID), string(raw), b.cfg.RetentionEvents)
}

func (b *Bus) fanOut(operationID string, event gateway.OperationEvent) {
	b.mu.Lock()
	subs := append([]*subscriber(nil), b.subscribers[operationID]...)
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			b.Metrics.ConnectionQueueOverflow.Add(1)
		}
	}
}

// History returns the persisted event log for operationID, oldest first,
// for late subscribers to replay before receiving live events.
func (b *Bus) History(ctx context.Context, operationID string) ([]gateway.OperationEvent, error) {
	if b.kv == nil {
		return nil, nil
	}
	raw, err := b.kv.Range(ctx, eventKey(operationID), b.cfg.RetentionEvents)
	if err != nil {
		return nil, err
	}
	out := make([]gateway.OperationEvent, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- { // Append prepends, so raw is newest-first
		var ev gateway.OperationEvent
		if err := json.Unmarshal([]byte(raw[i]), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Subscription is a live handle on an operation's event stream.
type Subscription struct {
	Events <-chan gateway.OperationEvent
	Close  func()
}

// Subscribe registers userID as a listener on operationID, enforcing the
// per-user connection cap and the global connection-rate cap.
func (b *Bus) Subscribe(operationID, userID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.perUserConn[userID] >= b.cfg.MaxConnectionsPerUser {
		b.Metrics.ConnectionsRejected.Add(1)
		return nil, ErrConnectionLimit{Reason: "per-user connection cap reached"}
	}

	now := time.Now()
	cutoff := now.Add(-time.Minute)
	kept := b.connTimes[:0]
	for _, t := range b.connTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.connTimes = kept
	if len(b.connTimes) >= b.cfg.ConnectionRatePerMin {
		b.Metrics.ConnectionsRejected.Add(1)
		return nil, ErrConnectionLimit{Reason: "connection rate exceeded"}
	}
	b.connTimes = append(b.connTimes, now)

	sub := &subscriber{userID: userID, ch: make(chan gateway.OperationEvent, 64)}
	b.subscribers[operationID] = append(b.subscribers[operationID], sub)
	b.perUserConn[userID]++
	b.Metrics.ConnectionsOpened.Add(1)

	closed := false
	closeFn := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if closed {
			return
		}
		closed = true
		b.removeSubscriberLocked(operationID, sub)
		if n := b.perUserConn[userID]; n > 1 {
			b.perUserConn[userID] = n - 1
		} else {
			delete(b.perUserConn, userID)
		}
		b.Metrics.ConnectionsClosed.Add(1)
		close(sub.ch)
	}

	return &Subscription{Events: sub.ch, Close: closeFn}, nil
}

func (b *Bus) removeSubscriberLocked(operationID string, target *subscriber) {
	subs := b.subscribers[operationID]
	for i, s := range subs {
		if s == target {
			b.subscribers[operationID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[operationID]) == 0 {
		delete(b.subscribers, operationID)
	}
}

// BreakerState exposes the publisher breaker's current state for status
// endpoints and metrics.
func (b *Bus) BreakerState() circuitbreaker.State {
	return b.breaker.State()
}
