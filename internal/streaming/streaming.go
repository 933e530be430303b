// Package streaming implements the chunking discipline shared by the
// NDJSON and SSE output formats, including the combined queue-then-stream
// path for SSE_QUEUE_STREAM.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/eventbus"
	"github.com/cyphergate/cyphergate/internal/queue"
)

const (
	minChunkSize = 10
	maxChunkSize = 10000
)

// ChunkSizeForTier returns the tier-dependent default chunk size, clamped to
// [minChunkSize, maxChunkSize].
func ChunkSizeForTier(tier gateway.GraphTier) int {
	var size int
	switch tier {
	case gateway.TierEnterprise:
		size = 2000
	case gateway.TierPremium:
		size = 5000
	default:
		size = 1000
	}
	return Clamp(size)
}

// Clamp bounds a requested chunk size to the allowed range.
func Clamp(size int) int {
	if size < minChunkSize {
		return minChunkSize
	}
	if size > maxChunkSize {
		return maxChunkSize
	}
	return size
}

// ndjsonChunk is a single self-contained NDJSON line for one chunk of a
// stream; only the first chunk carries the column names.
type ndjsonChunk struct {
	ChunkIndex    int              `json:"chunkIndex"`
	Rows          []map[string]any `json:"rows"`
	RowCount      int              `json:"rowCount"`
	TotalRowsSent int              `json:"totalRowsSent"`
	Columns       []string         `json:"columns,omitempty"`
}

type ndjsonComplete struct {
	Complete      bool      `json:"complete"`
	TotalRows     int       `json:"totalRows"`
	ExecutionTime int64     `json:"executionTimeMs"`
	GraphID       string    `json:"graphId"`
	Timestamp     time.Time `json:"timestamp"`
}

type ndjsonError struct {
	Error     string    `json:"error"`
	ErrorType string    `json:"errorType"`
	GraphID   string    `json:"graphId"`
	Timestamp time.Time `json:"timestamp"`
}

// WriteNDJSON chunks result into chunkSize-row lines on w, terminating with
// the completion sentinel. Error lines are written by WriteNDJSONError.
func WriteNDJSON(w io.Writer, result *gateway.QueryResult, graphID string, chunkSize int) error {
	chunkSize = Clamp(chunkSize)
	enc := json.NewEncoder(w)

	totalSent := 0
	for i := 0; i < len(result.Rows) || i == 0; i += chunkSize {
		end := i + chunkSize
		if end > len(result.Rows) {
			end = len(result.Rows)
		}
		rows := result.Rows[i:end]
		totalSent += len(rows)

		chunk := ndjsonChunk{
			ChunkIndex:    i / chunkSize,
			Rows:          rows,
			RowCount:      len(rows),
			TotalRowsSent: totalSent,
		}
		if i == 0 {
			chunk.Columns = result.Columns
		}
		if err := enc.Encode(chunk); err != nil {
			return err
		}
		if len(result.Rows) == 0 {
			break
		}
	}

	return enc.Encode(ndjsonComplete{
		Complete:      true,
		TotalRows:     result.RowCount,
		ExecutionTime: result.ExecutionTime.Milliseconds(),
		GraphID:       graphID,
		Timestamp:     time.Now().UTC(),
	})
}

// WriteNDJSONError terminates an in-progress NDJSON stream with an error line.
func WriteNDJSONError(w io.Writer, graphID, errorType string, err error) error {
	return json.NewEncoder(w).Encode(ndjsonError{
		Error:     err.Error(),
		ErrorType: errorType,
		GraphID:   graphID,
		Timestamp: time.Now().UTC(),
	})
}

// SSEEvent is a single named server-sent event.
type SSEEvent struct {
	Name string
	Data any
}

// SSEWriter writes well-formed "event: ...\ndata: ...\n\n" frames.
type SSEWriter struct {
	w       io.Writer
	flusher func()
}

// NewSSEWriter wraps w. flush is called after every event if non-nil (the
// HTTP layer supplies http.Flusher.Flush here).
func NewSSEWriter(w io.Writer, flush func()) *SSEWriter {
	return &SSEWriter{w: w, flusher: flush}
}

// Send writes a single SSE event.
func (s *SSEWriter) Send(event SSEEvent) error {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Name, data); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher()
	}
	return nil
}

// Keepalive writes an SSE comment ping.
func (s *SSEWriter) Keepalive() error {
	if _, err := fmt.Fprint(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher()
	}
	return nil
}

// StreamSSE runs the standard SSE streaming pipeline (started, schema,
// chunk..., complete) over an already-available result.
func StreamSSE(sse *SSEWriter, result *gateway.QueryResult, graphID string, chunkSize int) error {
	chunkSize = Clamp(chunkSize)

	if err := sse.Send(SSEEvent{Name: "started", Data: map[string]any{"graphId": graphID}}); err != nil {
		return err
	}
	if err := sse.Send(SSEEvent{Name: "schema", Data: map[string]any{"columns": result.Columns}}); err != nil {
		return err
	}

	rowsSinceProgress := 0
	chunkNumber := 0
	for i := 0; i < len(result.Rows); i += chunkSize {
		end := i + chunkSize
		if end > len(result.Rows) {
			end = len(result.Rows)
		}
		rows := result.Rows[i:end]
		chunkNumber++
		if err := sse.Send(SSEEvent{Name: "chunk", Data: map[string]any{
			"chunkNumber": chunkNumber,
			"rows":        rows,
			"rowsInChunk": len(rows),
			"totalRows":   result.RowCount,
		}}); err != nil {
			return err
		}
		rowsSinceProgress += len(rows)
		if chunkNumber%10 == 0 || rowsSinceProgress >= chunkSize*10 {
			if err := sse.Send(SSEEvent{Name: "progress", Data: map[string]any{
				"rowsSent":  i + len(rows),
				"totalRows": result.RowCount,
			}}); err != nil {
				return err
			}
			rowsSinceProgress = 0
		}
	}

	return sse.Send(SSEEvent{Name: "complete", Data: map[string]any{
		"totalRows":     result.RowCount,
		"executionTime": result.ExecutionTime.Milliseconds(),
		"graphId":       graphID,
	}})
}

// StreamSSETimeout writes the terminating "timeout" event.
func StreamSSETimeout(sse *SSEWriter, graphID string, timeout time.Duration) error {
	return sse.Send(SSEEvent{Name: "timeout", Data: map[string]any{
		"graphId": graphID,
		"message": fmt.Sprintf("query timeout after %s", timeout),
	}})
}

// StreamSSEError writes the terminating "error" event.
func StreamSSEError(sse *SSEWriter, graphID string, err error) error {
	return sse.Send(SSEEvent{Name: "error", Data: map[string]any{
		"graphId": graphID,
		"error":   err.Error(),
	}})
}

// StreamSSEWithQueue implements SSE_QUEUE_STREAM for a query the caller has
// already submitted: emit queued{position,estimatedWait} immediately, poll until Running, emit
// started, then replay the standard chunking pipeline. Key lifecycle events
// are mirrored onto bus so /v1/operations/{opId}/stream observes them too.
func StreamSSEWithQueue(ctx context.Context, sse *SSEWriter, q *queue.Queue, bus *eventbus.Bus, operationID string, submit queue.SubmitResult, chunkSize int) error {
	view := q.GetStatus(submit.QueryID)
	if err := sse.Send(SSEEvent{Name: "queued", Data: map[string]any{
		"position":      view.QueuePosition,
		"estimatedWait": view.EstimatedWait.Seconds(),
	}}); err != nil {
		return err
	}
	bus.Emit(ctx, operationID, gateway.EventQueued, map[string]any{"position": view.QueuePosition})

	lastPosition := view.QueuePosition
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for view.Found && view.Query.Status == gateway.StatusPending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		view = q.GetStatus(submit.QueryID)
		if view.Found && view.QueuePosition != lastPosition {
			lastPosition = view.QueuePosition
			if err := sse.Send(SSEEvent{Name: "queue_update", Data: map[string]any{"position": view.QueuePosition}}); err != nil {
				return err
			}
			bus.Emit(ctx, operationID, gateway.EventQueueUpdate, map[string]any{"position": view.QueuePosition})
		}
	}

	if !view.Found {
		return StreamSSEError(sse, "", gateway.ErrNotFound)
	}

	if view.Query.Status == gateway.StatusCancelled {
		return sse.Send(SSEEvent{Name: "error", Data: map[string]any{"error": "query cancelled"}})
	}

	if err := sse.Send(SSEEvent{Name: "started", Data: map[string]any{"graphId": view.Query.GraphID}}); err != nil {
		return err
	}
	bus.Emit(ctx, operationID, gateway.EventStarted, nil)

	for view.Found && !isTerminalStatus(view.Query.Status) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		view = q.GetStatus(submit.QueryID)
	}

	if !view.Found {
		return StreamSSEError(sse, "", gateway.ErrNotFound)
	}

	switch view.Query.Status {
	case gateway.StatusCancelled:
		return sse.Send(SSEEvent{Name: "error", Data: map[string]any{"error": "query cancelled"}})
	case gateway.StatusFailed:
		return sse.Send(SSEEvent{Name: "error", Data: map[string]any{"error": view.Query.Error}})
	}

	if view.Query.Result == nil {
		return sse.Send(SSEEvent{Name: "complete", Data: map[string]any{"totalRows": 0}})
	}
	if err := StreamSSE(sse, view.Query.Result, view.Query.GraphID, chunkSize); err != nil {
		return err
	}
	bus.Emit(ctx, operationID, gateway.EventCompleted, map[string]any{"totalRows": view.Query.Result.RowCount})
	return nil
}

func isTerminalStatus(s gateway.QueryStatus) bool {
	return s == gateway.StatusCompleted || s == gateway.StatusFailed || s == gateway.StatusCancelled
}
