// Package telemetry provides observability primitives for the CypherGate
// gateway: Prometheus metrics and OpenTelemetry tracing setup.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge

	QueueDepth             prometheus.Gauge
	QueueRunning           prometheus.Gauge
	QueueSubmissionsTotal  *prometheus.CounterVec // result: accepted (rejections are counted in QueueRejectionsTotal)
	QueueRejectionsTotal   *prometheus.CounterVec // reason: memory|cpu|queue_full|load_shed|user_limit
	QueueWaitSeconds       prometheus.Histogram
	QueueExecutionSeconds  prometheus.Histogram
	QueueCompletionsTotal  *prometheus.CounterVec // status: completed|failed|cancelled

	CircuitBreakerState   *prometheus.GaugeVec // labels: key (0=closed,1=open,2=half_open)
	CircuitBreakerOpens   *prometheus.CounterVec

	CreditConsumptionTotal *prometheus.CounterVec // labels: op_type, result
	CreditRejectionsTotal  *prometheus.CounterVec // labels: reason

	SSEConnectionsOpened   prometheus.Counter
	SSEConnectionsClosed   prometheus.Counter
	SSEConnectionsRejected prometheus.Counter
	SSEEventsEmitted       prometheus.Counter
	SSEEventsFailed        prometheus.Counter
	SSEBreakerOpens        prometheus.Counter

	StrategySelectedTotal *prometheus.CounterVec // labels: strategy
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "cyphergate",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cyphergate",
			Name:      "active_requests",
			Help:      "Number of HTTP requests currently in flight.",
		}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cyphergate",
			Name:      "queue_depth",
			Help:      "Current number of pending queued queries.",
		}),
		QueueRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cyphergate",
			Name:      "queue_running",
			Help:      "Current number of executing queued queries.",
		}),
		QueueSubmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "queue_submissions_total",
			Help:      "Total query queue submissions by result.",
		}, []string{"result"}),
		QueueRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "queue_rejections_total",
			Help:      "Total query queue submission rejections by reason.",
		}, []string{"reason"}),
		QueueWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cyphergate",
			Name:      "queue_wait_seconds",
			Help:      "Time a query spent waiting before execution started.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueueExecutionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cyphergate",
			Name:      "queue_execution_seconds",
			Help:      "Time spent executing a dequeued query.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueueCompletionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "queue_completions_total",
			Help:      "Total queued query completions by terminal status.",
		}, []string{"status"}),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cyphergate",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per (graph,operation) key (0=closed, 1=open, 2=half_open).",
		}, []string{"key"}),
		CircuitBreakerOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "circuit_breaker_opens_total",
			Help:      "Total circuit breaker trips by key.",
		}, []string{"key"}),

		CreditConsumptionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "credit_consumption_total",
			Help:      "Total credit consumption attempts by operation type and result.",
		}, []string{"op_type", "result"}),
		CreditRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "credit_rejections_total",
			Help:      "Total credit check rejections by reason.",
		}, []string{"reason"}),

		SSEConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "sse_connections_opened_total",
			Help:      "Total SSE subscriber connections opened.",
		}),
		SSEConnectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "sse_connections_closed_total",
			Help:      "Total SSE subscriber connections closed.",
		}),
		SSEConnectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "sse_connections_rejected_total",
			Help:      "Total SSE subscriber connections rejected (cap or rate limit).",
		}),
		SSEEventsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "sse_events_emitted_total",
			Help:      "Total operation events successfully persisted.",
		}),
		SSEEventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "sse_events_failed_total",
			Help:      "Total operation events that failed to persist or were dropped by an open breaker.",
		}),
		SSEBreakerOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "sse_breaker_opens_total",
			Help:      "Total times the operation bus publisher breaker tripped open.",
		}),

		StrategySelectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyphergate",
			Name:      "strategy_selected_total",
			Help:      "Total query requests by selected execution strategy.",
		}, []string{"strategy"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.QueueDepth,
		m.QueueRunning,
		m.QueueSubmissionsTotal,
		m.QueueRejectionsTotal,
		m.QueueWaitSeconds,
		m.QueueExecutionSeconds,
		m.QueueCompletionsTotal,
		m.CircuitBreakerState,
		m.CircuitBreakerOpens,
		m.CreditConsumptionTotal,
		m.CreditRejectionsTotal,
		m.SSEConnectionsOpened,
		m.SSEConnectionsClosed,
		m.SSEConnectionsRejected,
		m.SSEEventsEmitted,
		m.SSEEventsFailed,
		m.SSEBreakerOpens,
		m.StrategySelectedTotal,
	)

	return m
}

// ObserveBreakerState records the current breaker state as a gauge value
// (0=closed, 1=open, 2=half_open) for the given key.
func (m *Metrics) ObserveBreakerState(key string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(key).Set(float64(state))
}
