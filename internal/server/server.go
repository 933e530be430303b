// Package server implements the HTTP transport layer for the CypherGate
// query gateway.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.opentelemetry.io/otel/trace"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/circuitbreaker"
	"github.com/cyphergate/cyphergate/internal/credit"
	"github.com/cyphergate/cyphergate/internal/eventbus"
	"github.com/cyphergate/cyphergate/internal/operation"
	"github.com/cyphergate/cyphergate/internal/queue"
	"github.com/cyphergate/cyphergate/internal/storage"
	"github.com/cyphergate/cyphergate/internal/telemetry"
	"github.com/cyphergate/cyphergate/internal/timeout"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth       gateway.Authenticator
	Repository gateway.Repository
	Queue      *queue.Queue
	Credits    *credit.Service
	Store      storage.Store // credit pool/transaction reads for the credits endpoints
	Breakers   *circuitbreaker.Registry
	Timeouts   *timeout.Coordinator
	EventBus   *eventbus.Bus
	Operations *operation.Registry

	QueueMaxSize  int // mirrors queue.Config.MaxQueueSize, for SystemState
	MaxConcurrent int // mirrors queue.Config.MaxConcurrent, for SystemState

	DefaultPriority      int
	PriorityBoostPremium int
	ServiceVersion       string

	Metrics        *telemetry.Metrics // nil = no Prometheus metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Tracer         trace.Tracer       // nil = no distributed tracing
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	// System endpoints (no auth).
	r.Get("/v1/status", s.handleStatus)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/v1/graphs/{graph_id}/query", s.handleQuery)
		r.Get("/v1/operations/{operation_id}/stream", s.handleOperationStream)

		r.Get("/v1/graphs/{graph_id}/credits/summary", s.handleCreditsSummary)
		r.Get("/v1/graphs/{graph_id}/credits/transactions", s.handleCreditsTransactions)
		r.Get("/v1/graphs/{graph_id}/credits/balance/check", s.handleBalanceCheck)
		r.Get("/v1/graphs/{graph_id}/credits/storage/limits", s.handleStorageLimits)

		r.Get("/v1/graphs/{graph_id}/schema/info", s.handleSchemaInfo)
		r.Post("/v1/graphs/{graph_id}/schema/validate", s.handleSchemaValidate)
	})

	return r
}

type server struct {
	deps Deps
}
