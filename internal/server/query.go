package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/analyzer"
	"github.com/cyphergate/cyphergate/internal/circuitbreaker"
	"github.com/cyphergate/cyphergate/internal/clientdetect"
	"github.com/cyphergate/cyphergate/internal/credit"
	"github.com/cyphergate/cyphergate/internal/cyphertranslate"
	"github.com/cyphergate/cyphergate/internal/operation"
	"github.com/cyphergate/cyphergate/internal/queue"
	"github.com/cyphergate/cyphergate/internal/strategy"
	"github.com/cyphergate/cyphergate/internal/streaming"
	"github.com/cyphergate/cyphergate/internal/timeout"
)

type queryRequest struct {
	Query      string         `json:"query"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Timeout    *int           `json:"timeout,omitempty"`
}

type suggestion struct {
	Message string   `json:"message"`
	Options []string `json:"options"`
}

type queryResponse struct {
	Columns         []string       `json:"columns"`
	Rows            []map[string]any `json:"rows"`
	RowCount        int            `json:"row_count"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Truncated       bool           `json:"truncated,omitempty"`
	Suggestion      *suggestion    `json:"suggestion,omitempty"`
}

type links struct {
	Self    string `json:"self"`
	Monitor string `json:"monitor"`
}

type queuedResponse struct {
	Status               string  `json:"status"`
	QueryID              string  `json:"query_id"`
	OperationID          string  `json:"operation_id"`
	QueuePosition        int     `json:"queue_position"`
	EstimatedWaitSeconds float64 `json:"estimated_wait_seconds"`
	Message              string  `json:"message"`
	Links                links   `json:"_links"`
}

type timeoutResponse struct {
	Error    string   `json:"error"`
	Message  string   `json:"message"`
	Options  []string `json:"options"`
	Examples []string `json:"examples"`
}

// handleQuery implements the QueryGateway orchestrator: breaker check,
// translation, static analysis, disallowed-op rejection, access/credit
// checks, strategy selection, cascaded timeouts, and dispatch to one of the
// JSON/SSE/NDJSON/queued execution paths.
func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := gateway.IdentityFromContext(ctx)
	if identity == nil {
		writeError(w, gateway.ErrUnauthorized)
		return
	}
	if !identity.Can(gateway.PermRunQuery) {
		writeError(w, gateway.ErrForbidden)
		return
	}

	graphIDRaw := chi.URLParam(r, "graph_id")
	gid := gateway.ParseGraphID(graphIDRaw)

	var req queryRequest
	if !decodeRequestBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, fmt.Errorf("%w: query is required", gateway.ErrBadRequest))
		return
	}

	if gid.IsSharedRepo {
		if !identity.Can(gateway.PermRunSharedQuery) {
			writeError(w, gateway.ErrAccessDenied)
			return
		}
	} else if !identity.HasAccess(gid.Parent) {
		writeError(w, gateway.ErrAccessDenied)
		return
	}

	mode := gateway.ExecutionMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = gateway.ModeAuto
	}
	if r.URL.Query().Get("test_mode") == "true" {
		mode = gateway.ModeSync
	}

	requestedTimeout := time.Duration(0)
	if req.Timeout != nil {
		t := *req.Timeout
		if t < 1 {
			t = 1
		}
		if t > 300 {
			t = 300
		}
		requestedTimeout = time.Duration(t) * time.Second
	}

	breaker := s.deps.Breakers.GetOrCreate(circuitbreaker.Key(gid.Parent, "cypher_query"))
	if !breaker.Allow() {
		writeErrorRetryAfter(w, gateway.ErrCircuitOpen, int(breaker.RetryAfter().Seconds()))
		return
	}

	cypher := cyphertranslate.Translate(req.Query)
	analysis := analyzer.Analyze(cypher)
	if reason := analyzer.RejectionReason(analysis); reason != nil {
		writeError(w, reason)
		return
	}
	if analysis.IsWrite && gid.IsSharedRepo {
		writeError(w, gateway.ErrSharedRepoWrite)
		return
	}

	tier := gateway.TierStandard
	if !gid.IsSharedRepo {
		pool, err := s.deps.Store.GetPool(ctx, gid.Parent)
		switch {
		case errors.Is(err, gateway.ErrNotFound):
			writeError(w, gateway.ErrNoCreditPool)
			return
		case err != nil:
			breaker.RecordFailure()
			writeError(w, fmt.Errorf("%w: %v", gateway.ErrRepository, err))
			return
		default:
			tier = pool.GraphTier
		}
	}

	chunkSize := streaming.ChunkSizeForTier(tier)
	if cs := r.URL.Query().Get("chunk_size"); cs != "" {
		if n, err := strconv.Atoi(cs); err == nil {
			chunkSize = streaming.Clamp(n)
		}
	}

	client := clientdetect.Detect(r.Header)
	depth, running := s.deps.Queue.Stats()
	system := gateway.SystemState{
		QueueSize:      depth,
		MaxQueueSize:   s.deps.QueueMaxSize,
		RunningQueries: running,
		MaxConcurrent:  s.deps.MaxConcurrent,
	}
	decision := strategy.Select(analysis, client, system, mode)
	if decision.Warning != "" {
		slog.LogAttrs(ctx, slog.LevelWarn, "strategy warning",
			slog.String("warning", decision.Warning),
			slog.String("graph_id", graphIDRaw),
		)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.StrategySelectedTotal.WithLabelValues(string(decision.Strategy)).Inc()
	}

	timeouts := s.deps.Timeouts.Derive(requestedTimeout, timeoutContextFor(decision.Strategy, client.IsInteractive))

	priority := s.deps.DefaultPriority
	if tier == gateway.TierPremium {
		priority += s.deps.PriorityBoostPremium
	}

	opType := gateway.OpQuery
	baseCost := s.deps.Credits.ResolveCost(ctx, opType)

	bc, err := s.deps.Credits.CheckBalance(ctx, gid, baseCost, identity.UserID, opType)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			writeError(w, gateway.ErrNoCreditPool)
			return
		}
		breaker.RecordFailure()
		writeError(w, fmt.Errorf("%w: %v", gateway.ErrRepository, err))
		return
	}
	if !bc.HasAccess {
		writeError(w, gateway.ErrAccessDenied)
		return
	}
	if !bc.HasSufficient {
		writeError(w, gateway.ErrCreditInsufficient)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")

	switch decision.Strategy {
	case gateway.StrategyTraditionalQueue:
		s.dispatchQueued(w, r, gid, req, cypher, identity, priority, baseCost, opType, idempotencyKey, breaker)
	case gateway.StrategySSEQueueStream:
		s.dispatchQueueStream(w, r, gid, req, cypher, identity, priority, baseCost, opType, idempotencyKey, chunkSize, breaker)
	case gateway.StrategySSEStreaming:
		s.dispatchSSE(w, r, gid, cypher, req.Parameters, identity, baseCost, opType, idempotencyKey, timeouts, chunkSize, breaker)
	case gateway.StrategyNDJSONStreaming:
		s.dispatchNDJSON(w, r, gid, cypher, req.Parameters, identity, baseCost, opType, idempotencyKey, timeouts, chunkSize, breaker)
	default: // JSON_IMMEDIATE, JSON_COMPLETE, SYNC_TESTING
		s.dispatchJSON(w, r, gid, cypher, req.Parameters, identity, analysis, client, baseCost, opType, idempotencyKey, timeouts, priority, breaker)
	}
}

// timeoutContextFor maps a strategy to the TimeoutCoordinator's calling
// context. JSON paths run as a single foreground call, capped like the
// interactive context even when the caller isn't a detected testing tool.
func timeoutContextFor(strat gateway.ExecutionStrategy, interactive bool) timeout.Context {
	switch strat {
	case gateway.StrategySSEStreaming, gateway.StrategyNDJSONStreaming, gateway.StrategySSEQueueStream:
		return timeout.ContextStreaming
	case gateway.StrategyTraditionalQueue:
		return timeout.ContextQueued
	default:
		_ = interactive
		return timeout.ContextInteractive
	}
}

func (s *server) consumeCredits(ctx context.Context, gid gateway.GraphID, opType gateway.OperationType, baseCost gateway.Credits, userID, idempotencyKey string) (credit.ConsumeResult, error) {
	metadata := gateway.TransactionMetadata{"operation_type": string(opType)}
	result, err := s.deps.Credits.ConsumeCredits(ctx, gid, opType, baseCost, metadata, false, userID, idempotencyKey)
	if s.deps.Metrics != nil && err == nil {
		label := "success"
		if !result.Success {
			label = "insufficient"
		}
		s.deps.Metrics.CreditConsumptionTotal.WithLabelValues(string(opType), label).Inc()
	}
	return result, err
}

func buildQueryResponse(qr *gateway.QueryResult, analysis gateway.QueryAnalysis, client gateway.ClientCapabilities) queryResponse {
	resp := queryResponse{
		Columns:         qr.Columns,
		Rows:            qr.Rows,
		RowCount:        qr.RowCount,
		ExecutionTimeMs: qr.ExecutionTime.Milliseconds(),
	}

	const truncateLimit = 100
	if client.IsInteractive && analysis.EstimatedSize == gateway.SizeLarge && !analysis.HasLimit && len(resp.Rows) > truncateLimit {
		resp.Rows = resp.Rows[:truncateLimit]
		resp.Truncated = true
		resp.Suggestion = &suggestion{
			Message: "result truncated for interactive display; refine the query for the full result set",
			Options: []string{"add a LIMIT clause", "use mode=stream for SSE/NDJSON output", "use mode=async for a queued query"},
		}
	}
	return resp
}

func writeTimeoutResponse(w http.ResponseWriter, execTimeout time.Duration) {
	writeJSON(w, http.StatusRequestTimeout, timeoutResponse{
		Error:   "query timeout",
		Message: fmt.Sprintf("execution exceeded %s", execTimeout),
		Options: []string{"mode=async to queue the query", "mode=stream for incremental results", "add a LIMIT clause to reduce result size"},
		Examples: []string{
			"POST /v1/graphs/{graph_id}/query?mode=async",
			"POST /v1/graphs/{graph_id}/query?mode=stream",
		},
	})
}

// dispatchJSON handles JSON_IMMEDIATE, JSON_COMPLETE, and SYNC_TESTING: a
// single synchronous execution returning a JSON body.
func (s *server) dispatchJSON(w http.ResponseWriter, r *http.Request, gid gateway.GraphID, cypher string, params map[string]any, identity *gateway.Identity, analysis gateway.QueryAnalysis, client gateway.ClientCapabilities, baseCost gateway.Credits, opType gateway.OperationType, idempotencyKey string, timeouts timeout.Timeouts, priority int, breaker *circuitbreaker.Breaker) {
	ctx := r.Context()

	result, err := s.consumeCredits(ctx, gid, opType, baseCost, identity.UserID, idempotencyKey)
	if err != nil {
		breaker.RecordFailure()
		writeError(w, fmt.Errorf("%w: %v", gateway.ErrRepository, err))
		return
	}
	if !result.Success {
		writeError(w, gateway.ErrCreditInsufficient)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, timeouts.Execution)
	defer cancel()
	qr, err := s.deps.Repository.ExecuteQuery(execCtx, gid.Raw, cypher, params)
	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			breaker.RecordFailure()
			if client.IsInteractive {
				writeTimeoutResponse(w, timeouts.Execution)
				return
			}
			s.enqueue(w, r, gid, cypher, params, identity, priority, baseCost)
			return
		}
		breaker.RecordFailure()
		writeError(w, fmt.Errorf("%w: %v", gateway.ErrRepository, err))
		return
	}
	breaker.RecordSuccess()

	writeJSON(w, http.StatusOK, buildQueryResponse(qr, analysis, client))
}

// dispatchSSE handles SSE_STREAMING: direct execution, streamed over SSE.
func (s *server) dispatchSSE(w http.ResponseWriter, r *http.Request, gid gateway.GraphID, cypher string, params map[string]any, identity *gateway.Identity, baseCost gateway.Credits, opType gateway.OperationType, idempotencyKey string, timeouts timeout.Timeouts, chunkSize int, breaker *circuitbreaker.Breaker) {
	ctx := r.Context()

	result, err := s.consumeCredits(ctx, gid, opType, baseCost, identity.UserID, idempotencyKey)
	if err != nil || !result.Success {
		if err != nil {
			breaker.RecordFailure()
		}
		writeError(w, gateway.ErrCreditInsufficient)
		return
	}

	writeSSEHeaders(w)
	sse := streaming.NewSSEWriter(w, flusherFunc(w))

	execCtx, cancel := context.WithTimeout(ctx, timeouts.Execution)
	defer cancel()
	qr, err := s.deps.Repository.ExecuteQuery(execCtx, gid.Raw, cypher, params)
	if err != nil {
		breaker.RecordFailure()
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			streaming.StreamSSETimeout(sse, gid.Raw, timeouts.Execution)
			return
		}
		streaming.StreamSSEError(sse, gid.Raw, err)
		return
	}
	breaker.RecordSuccess()
	streaming.StreamSSE(sse, qr, gid.Raw, chunkSize)
}

// dispatchNDJSON handles NDJSON_STREAMING: direct execution, streamed as
// newline-delimited JSON.
func (s *server) dispatchNDJSON(w http.ResponseWriter, r *http.Request, gid gateway.GraphID, cypher string, params map[string]any, identity *gateway.Identity, baseCost gateway.Credits, opType gateway.OperationType, idempotencyKey string, timeouts timeout.Timeouts, chunkSize int, breaker *circuitbreaker.Breaker) {
	ctx := r.Context()

	result, err := s.consumeCredits(ctx, gid, opType, baseCost, identity.UserID, idempotencyKey)
	if err != nil || !result.Success {
		if err != nil {
			breaker.RecordFailure()
		}
		writeError(w, gateway.ErrCreditInsufficient)
		return
	}

	writeNDJSONHeaders(w)

	execCtx, cancel := context.WithTimeout(ctx, timeouts.Execution)
	defer cancel()
	qr, err := s.deps.Repository.ExecuteQuery(execCtx, gid.Raw, cypher, params)
	if err != nil {
		breaker.RecordFailure()
		errType := "execution_error"
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			errType = "timeout"
		}
		streaming.WriteNDJSONError(w, gid.Raw, errType, err)
		return
	}
	breaker.RecordSuccess()
	streaming.WriteNDJSON(w, qr, gid.Raw, chunkSize)
}

// dispatchQueued handles TRADITIONAL_QUEUE: credits are consumed up front
// (per the gateway's synchronous-consumption policy) and the query is
// handed to the queue for asynchronous execution.
func (s *server) dispatchQueued(w http.ResponseWriter, r *http.Request, gid gateway.GraphID, req queryRequest, cypher string, identity *gateway.Identity, priority int, baseCost gateway.Credits, opType gateway.OperationType, idempotencyKey string, breaker *circuitbreaker.Breaker) {
	ctx := r.Context()
	result, err := s.consumeCredits(ctx, gid, opType, baseCost, identity.UserID, idempotencyKey)
	if err != nil {
		breaker.RecordFailure()
		writeError(w, fmt.Errorf("%w: %v", gateway.ErrRepository, err))
		return
	}
	if !result.Success {
		writeError(w, gateway.ErrCreditInsufficient)
		return
	}
	s.enqueue(w, r, gid, cypher, req.Parameters, identity, priority, baseCost)
}

// enqueue submits an already-credited query to the queue and responds 202
// with the monitor link.
func (s *server) enqueue(w http.ResponseWriter, r *http.Request, gid gateway.GraphID, cypher string, params map[string]any, identity *gateway.Identity, priority int, creditsReserved gateway.Credits) {
	submit := s.deps.Queue.Submit(r.Context(), cypher, params, gid.Raw, identity.UserID, creditsReserved, priority)
	if s.deps.Metrics != nil {
		if submit.Rejected {
			s.deps.Metrics.QueueRejectionsTotal.WithLabelValues(string(submit.Reason)).Inc()
		} else {
			s.deps.Metrics.QueueSubmissionsTotal.WithLabelValues("accepted").Inc()
		}
	}
	if submit.Rejected {
		switch submit.Reason {
		case queue.RejectUserLimit:
			writeError(w, gateway.ErrUserLimit)
		case queue.RejectQueueFull:
			writeError(w, gateway.ErrQueueFull)
		default:
			writeError(w, gateway.ErrAdmissionRejected)
		}
		return
	}

	op := s.deps.Operations.Create(operation.KindQueuedQuery, gid.Raw, identity.UserID)
	s.deps.Operations.BindQuery(op.ID, submit.QueryID)
	view := s.deps.Queue.GetStatus(submit.QueryID)

	writeJSON(w, http.StatusAccepted, queuedResponse{
		Status:               "queued",
		QueryID:              submit.QueryID,
		OperationID:          op.ID,
		QueuePosition:        view.QueuePosition,
		EstimatedWaitSeconds: view.EstimatedWait.Seconds(),
		Message:              "query queued for execution",
		Links: links{
			Self:    "/v1/graphs/" + gid.Raw + "/query",
			Monitor: "/v1/operations/" + op.ID + "/stream",
		},
	})
}

// dispatchQueueStream handles SSE_QUEUE_STREAM: submit to the queue, then
// stream queue position updates and the eventual result over SSE.
func (s *server) dispatchQueueStream(w http.ResponseWriter, r *http.Request, gid gateway.GraphID, req queryRequest, cypher string, identity *gateway.Identity, priority int, baseCost gateway.Credits, opType gateway.OperationType, idempotencyKey string, chunkSize int, breaker *circuitbreaker.Breaker) {
	ctx := r.Context()
	result, err := s.consumeCredits(ctx, gid, opType, baseCost, identity.UserID, idempotencyKey)
	if err != nil || !result.Success {
		if err != nil {
			breaker.RecordFailure()
		}
		writeError(w, gateway.ErrCreditInsufficient)
		return
	}

	submit := s.deps.Queue.Submit(ctx, cypher, req.Parameters, gid.Raw, identity.UserID, baseCost, priority)
	if submit.Rejected {
		switch submit.Reason {
		case queue.RejectUserLimit:
			writeError(w, gateway.ErrUserLimit)
		case queue.RejectQueueFull:
			writeError(w, gateway.ErrQueueFull)
		default:
			writeError(w, gateway.ErrAdmissionRejected)
		}
		return
	}

	op := s.deps.Operations.Create(operation.KindQueuedQuery, gid.Raw, identity.UserID)
	s.deps.Operations.BindQuery(op.ID, submit.QueryID)

	writeSSEHeaders(w)
	sse := streaming.NewSSEWriter(w, flusherFunc(w))
	if err := streaming.StreamSSEWithQueue(ctx, sse, s.deps.Queue, s.deps.EventBus, op.ID, submit, chunkSize); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "sse queue stream ended early",
			slog.String("operation_id", op.ID),
			slog.String("error", err.Error()),
		)
	}
}
