package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreaker_ClosedAllows(t *testing.T) {
	t.Parallel()

	b := NewBreaker(DefaultConfig())
	if !b.Allow() {
		t.Fatal("closed breaker should allow")
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensOnConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cfg := Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 3}
	b := NewBreaker(cfg)

	for range 4 {
		b.Allow()
		b.RecordFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v after 4 failures, want closed", b.State())
	}

	b.Allow()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %v after 5 failures, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker should reject")
	}
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	t.Parallel()

	cfg := Config{FailureThreshold: 3, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 3}
	b := NewBreaker(cfg)

	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordSuccess()
	if b.ConsecutiveFailures() != 0 {
		t.Fatalf("consecutive failures = %d, want 0 after success", b.ConsecutiveFailures())
	}

	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed (count should have reset)", b.State())
	}
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	t.Parallel()

	cfg := Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 3}
	b := NewBreaker(cfg)

	b.Allow()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(15 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("breaker past recovery timeout should allow a probe")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half_open", b.State())
	}
}

func TestBreaker_HalfOpenMaxCallsBoundsProbes(t *testing.T) {
	t.Parallel()

	cfg := Config{FailureThreshold: 1, RecoveryTimeout: time.Millisecond, HalfOpenMaxCalls: 2}
	b := NewBreaker(cfg)
	b.Allow()
	b.RecordFailure()
	time.Sleep(2 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("first probe should be allowed")
	}
	if !b.Allow() {
		t.Fatal("second probe should be allowed (within halfOpenMaxCalls)")
	}
	if b.Allow() {
		t.Fatal("third concurrent probe should be rejected")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cfg := Config{FailureThreshold: 1, RecoveryTimeout: time.Millisecond, HalfOpenMaxCalls: 3}
	b := NewBreaker(cfg)
	b.Allow()
	b.RecordFailure()
	time.Sleep(2 * time.Millisecond)

	b.Allow()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after probe failure", b.State())
	}
}

func TestBreaker_HalfOpenClosesAfterFirstProbeSucceeds(t *testing.T) {
	t.Parallel()

	cfg := Config{FailureThreshold: 1, RecoveryTimeout: time.Millisecond, HalfOpenMaxCalls: 2}
	b := NewBreaker(cfg)
	b.Allow()
	b.RecordFailure()
	time.Sleep(2 * time.Millisecond)

	b.Allow()
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after a single successful probe", b.State())
	}
}

func TestRegistry_GetOrCreate(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultConfig())
	k := Key("kg123", "query")
	b1 := r.GetOrCreate(k)
	b2 := r.GetOrCreate(k)
	if b1 != b2 {
		t.Fatal("GetOrCreate should return the same breaker for the same key")
	}
	if r.Get("missing") != nil {
		t.Fatal("Get on unknown key should return nil")
	}
}

func TestRegistry_EvictStale(t *testing.T) {
	t.Parallel()

	r := NewRegistry(DefaultConfig())
	r.GetOrCreate(Key("kg1", "query"))
	r.GetOrCreate(Key("kg2", "query"))

	evicted := r.EvictStale(time.Now().Add(time.Hour))
	if evicted != 2 {
		t.Fatalf("evicted = %d, want 2", evicted)
	}
	if r.Get(Key("kg1", "query")) != nil {
		t.Fatal("evicted breaker should be gone")
	}
}
