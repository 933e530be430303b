// Package strategy implements the deterministic rule evaluation that maps a
// query's analysis, client capabilities, and system state onto an
// ExecutionStrategy.
package strategy

import (
	gateway "github.com/cyphergate/cyphergate/internal"
)

// Select chooses an ExecutionStrategy. Rules are evaluated in order; the
// first match wins.
func Select(analysis gateway.QueryAnalysis, client gateway.ClientCapabilities, system gateway.SystemState, mode gateway.ExecutionMode) gateway.StrategyDecision {
	switch mode {
	case gateway.ModeSync:
		return gateway.StrategyDecision{Strategy: gateway.StrategySyncTesting}
	case gateway.ModeAsync:
		return gateway.StrategyDecision{Strategy: gateway.StrategyTraditionalQueue}
	case gateway.ModeStream:
		if client.SupportsSSE {
			return gateway.StrategyDecision{Strategy: gateway.StrategySSEStreaming}
		}
		if client.SupportsNDJSON {
			return gateway.StrategyDecision{Strategy: gateway.StrategyNDJSONStreaming}
		}
		return gateway.StrategyDecision{
			Strategy: gateway.StrategyNDJSONStreaming,
			Warning:  "client requested streaming but accepts neither SSE nor NDJSON; defaulting to NDJSON",
		}
	}

	// Auto mode.
	if client.IsInteractive {
		return gateway.StrategyDecision{Strategy: gateway.StrategySyncTesting}
	}

	underPressure := system.QueueSize > 0 || system.RunningQueries >= system.MaxConcurrent
	if underPressure {
		if analysis.IsWrite {
			return gateway.StrategyDecision{Strategy: gateway.StrategyTraditionalQueue}
		}
		if client.SupportsSSE && !client.PreferAsync {
			return gateway.StrategyDecision{Strategy: gateway.StrategySSEQueueStream}
		}
		return gateway.StrategyDecision{Strategy: gateway.StrategyTraditionalQueue}
	}

	// System has capacity.
	if analysis.IsWrite {
		return gateway.StrategyDecision{Strategy: gateway.StrategyJSONComplete}
	}

	switch analysis.EstimatedSize {
	case gateway.SizeSmall:
		return gateway.StrategyDecision{Strategy: gateway.StrategyJSONImmediate}
	case gateway.SizeMedium:
		if client.PreferStream {
			return streamByCapability(client)
		}
		return gateway.StrategyDecision{Strategy: gateway.StrategyJSONComplete}
	default: // Large
		if client.SupportsSSE || client.SupportsNDJSON {
			return streamByCapability(client)
		}
		if analysis.HasLimit && analysis.LimitValue != nil && *analysis.LimitValue <= 1000 {
			return gateway.StrategyDecision{Strategy: gateway.StrategyJSONComplete}
		}
		return gateway.StrategyDecision{
			Strategy: gateway.StrategyNDJSONStreaming,
			Warning:  "large result streamed as NDJSON to a client without declared streaming support",
		}
	}
}

func streamByCapability(client gateway.ClientCapabilities) gateway.StrategyDecision {
	if client.SupportsSSE {
		return gateway.StrategyDecision{Strategy: gateway.StrategySSEStreaming}
	}
	return gateway.StrategyDecision{Strategy: gateway.StrategyNDJSONStreaming}
}
