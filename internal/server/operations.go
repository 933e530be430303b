package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/operation"
	"github.com/cyphergate/cyphergate/internal/streaming"
)

const operationKeepalive = 20 * time.Second

// handleOperationStream serves GET /v1/operations/{operation_id}/stream: an
// SSE replay of an operation's event history followed by its live events,
// regardless of whether the operation executes directly or through the
// query queue.
func (s *server) handleOperationStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := gateway.IdentityFromContext(ctx)
	if identity == nil {
		writeError(w, gateway.ErrUnauthorized)
		return
	}

	operationID := chi.URLParam(r, "operation_id")
	op, ok := s.deps.Operations.Get(operationID)
	if !ok {
		writeError(w, gateway.ErrNotFound)
		return
	}
	if op.UserID != identity.UserID && !identity.Can(gateway.PermAdmin) {
		writeError(w, gateway.ErrAccessDenied)
		return
	}

	sub, err := s.deps.EventBus.Subscribe(operationID, identity.UserID)
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.SSEConnectionsRejected.Inc()
		}
		writeError(w, gateway.ErrConnectionLimit)
		return
	}
	defer sub.Close()

	writeSSEHeaders(w)
	sse := streaming.NewSSEWriter(w, flusherFunc(w))

	history, err := s.deps.EventBus.History(ctx, operationID)
	if err == nil {
		for _, ev := range history {
			if sendOperationEvent(sse, ev) != nil {
				return
			}
			if isTerminalEvent(ev.Type) {
				return
			}
		}
	}

	if op.Kind == operation.KindQueuedQuery && op.QueryID != "" {
		if terminal := s.queueTerminalEvent(op.QueryID); terminal != nil {
			sendOperationEvent(sse, *terminal)
			return
		}
	}

	keepalive := time.NewTicker(operationKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events:
			if !open {
				return
			}
			if sendOperationEvent(sse, ev) != nil {
				return
			}
			if isTerminalEvent(ev.Type) {
				return
			}
		case <-keepalive.C:
			if sse.Keepalive() != nil {
				return
			}
		}
	}
}

func sendOperationEvent(sse *streaming.SSEWriter, ev gateway.OperationEvent) error {
	return sse.Send(streaming.SSEEvent{Name: string(ev.Type), Data: ev})
}

func isTerminalEvent(t gateway.OperationEventType) bool {
	switch t {
	case gateway.EventCompleted, gateway.EventError, gateway.EventCancelled:
		return true
	default:
		return false
	}
}

// queueTerminalEvent checks whether a queued query has already reached a
// terminal state before the subscriber attached, synthesizing a final event
// so late subscribers don't hang waiting for an event the queue already
// delivered to the bus.
func (s *server) queueTerminalEvent(queryID string) *gateway.OperationEvent {
	view := s.deps.Queue.GetStatus(queryID)
	if !view.Found || view.Query == nil {
		return nil
	}
	switch view.Query.Status {
	case gateway.StatusCompleted:
		ev := gateway.OperationEvent{OperationID: queryID, Type: gateway.EventCompleted, Timestamp: time.Now().UTC()}
		return &ev
	case gateway.StatusFailed:
		ev := gateway.OperationEvent{OperationID: queryID, Type: gateway.EventError, Timestamp: time.Now().UTC()}
		return &ev
	case gateway.StatusCancelled:
		ev := gateway.OperationEvent{OperationID: queryID, Type: gateway.EventCancelled, Timestamp: time.Now().UTC()}
		return &ev
	default:
		return nil
	}
}
