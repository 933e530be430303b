// Package circuitbreaker implements a per-(graph,operation) circuit breaker
// keyed on consecutive execution failures. It short-circuits queries against
// a graph/operation pair that is currently failing, instead of letting every
// caller pay the full execution timeout to discover the same thing.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all requests through.
	StateClosed State = iota
	// StateOpen rejects all requests.
	StateOpen
	// StateHalfOpen allows a bounded number of probe requests.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int           // consecutive failures to trip
	RecoveryTimeout  time.Duration // time in OPEN before transitioning to HALF_OPEN
	HalfOpenMaxCalls int           // concurrent probes allowed while HALF_OPEN
}

// DefaultConfig returns the defaults from the gateway's robustness layer.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// Breaker is a per-(graph,operation) circuit breaker state machine.
type Breaker struct {
	mu               sync.Mutex
	state            State
	consecutiveFails int
	openedAt         time.Time
	lastUsed         time.Time
	halfOpenInFlight int
	failureThreshold int
	recoveryTimeout  time.Duration
	halfOpenMaxCalls int
}

// NewBreaker creates a breaker with the given config.
func NewBreaker(cfg Config) *Breaker {
	return &Breaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		recoveryTimeout:  cfg.RecoveryTimeout,
		halfOpenMaxCalls: cfg.HalfOpenMaxCalls,
		lastUsed:         time.Now(),
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	s := b.state
	b.mu.Unlock()
	return s
}

// Allow checks whether a request should be allowed through. Returns true if
// the request may proceed, and in that case the caller must eventually call
// RecordSuccess or RecordFailure exactly once.
func (b *Breaker) Allow() bool {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) >= b.recoveryTimeout {
			b.state = StateHalfOpen
			b.halfOpenInFlight = 1
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenInFlight < b.halfOpenMaxCalls {
			b.halfOpenInFlight++
			return true
		}
		return false
	}
	return false
}

// RecordSuccess records a successful request outcome.
func (b *Breaker) RecordSuccess() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now
	b.consecutiveFails = 0

	switch b.state {
	case StateHalfOpen:
		// A single successful probe closes the circuit.
		b.state = StateClosed
		b.halfOpenInFlight = 0
	}
}

// RecordFailure records a failed request outcome.
func (b *Breaker) RecordFailure() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	switch b.state {
	case StateClosed:
		b.consecutiveFails++
		if b.consecutiveFails >= b.failureThreshold {
			b.state = StateOpen
			b.openedAt = now
		}
	case StateHalfOpen:
		// Any probe failure reopens immediately.
		b.state = StateOpen
		b.openedAt = now
		b.halfOpenInFlight = 0
		b.consecutiveFails = b.failureThreshold
	}
}

// LastUsed returns the time of last activity (for stale eviction).
func (b *Breaker) LastUsed() time.Time {
	b.mu.Lock()
	t := b.lastUsed
	b.mu.Unlock()
	return t
}

// ConsecutiveFailures reports the current run of failures (for status snapshots).
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	n := b.consecutiveFails
	b.mu.Unlock()
	return n
}

// RetryAfter reports how long a caller should wait before retrying a request
// rejected because the circuit is open: the remaining cool-down until
// recoveryTimeout has elapsed since the circuit opened, floored at 30s. For
// a closed or half-open breaker it returns 0.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	remaining := b.recoveryTimeout - time.Since(b.openedAt)
	if remaining < 30*time.Second {
		return 30 * time.Second
	}
	return remaining
}
