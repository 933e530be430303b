package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cyphergate/cyphergate/internal/testutil"
)

func TestCreditsSummary_OK(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodGet, "/v1/graphs/g1/credits/summary", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"graph_id":"g1"`) {
		t.Errorf("body missing graph_id, got: %s", rec.Body.String())
	}
}

func TestCreditsSummary_SharedRepoRejected(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodGet, "/v1/graphs/sec/credits/summary", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestCreditsSummary_NoPool(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodGet, "/v1/graphs/unknown-graph/credits/summary", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want %d; body = %s", rec.Code, http.StatusPaymentRequired, rec.Body.String())
	}
}

func TestCreditsTransactions_EmptyList(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodGet, "/v1/graphs/g1/credits/transactions", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"transactions":[]`) && !strings.Contains(rec.Body.String(), `"transactions":null`) {
		t.Errorf("expected empty transactions list, got: %s", rec.Body.String())
	}
}

func TestCreditsTransactions_LimitClampedToMax(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodGet, "/v1/graphs/g1/credits/transactions?limit=10000", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"limit":500`) {
		t.Errorf("expected clamped limit of 500, got: %s", rec.Body.String())
	}
}

func TestBalanceCheck_OK(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodGet, "/v1/graphs/g1/credits/balance/check", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"has_access":true`) {
		t.Errorf("expected has_access true, got: %s", rec.Body.String())
	}
}

func TestStorageLimits_OK(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodGet, "/v1/graphs/g1/credits/storage/limits", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"graph_id":"g1"`) {
		t.Errorf("body missing graph_id, got: %s", rec.Body.String())
	}
}
