package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/circuitbreaker"
	"github.com/cyphergate/cyphergate/internal/testutil"
)

func TestQuery_JSONImmediate(t *testing.T) {
	t.Parallel()
	repo := &testutil.FakeRepository{
		ExecuteFn: func(_ context.Context, _, _ string, _ map[string]any) (*gateway.QueryResult, error) {
			return &gateway.QueryResult{
				Columns:  []string{"n"},
				Rows:     []map[string]any{{"n": 1}},
				RowCount: 1,
			}, nil
		},
	}
	h := newTestHarness(t, testutil.FakeAuth{}, repo)

	body := `{"query":"MATCH (n) RETURN n LIMIT 10"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/graphs/g1/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"row_count":1`) {
		t.Errorf("body missing row_count, got: %s", rec.Body.String())
	}
}

func TestQuery_EmptyQueryRejected(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodPost, "/v1/graphs/g1/query", strings.NewReader(`{"query":""}`))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestQuery_WriteAgainstSharedRepoRejected(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	// "sec" is a real entry in gateway.SharedRepositories; any write query is
	// rejected by the analyzer before the shared-repo-specific check even
	// runs, so this still lands on 403 either way.
	body := `{"query":"CREATE (n:Foo) RETURN n"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/graphs/sec/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d; body = %s", rec.Code, http.StatusForbidden, rec.Body.String())
	}
}

func TestQuery_NoCreditPool(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	body := `{"query":"MATCH (n) RETURN n"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/graphs/unknown-graph/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want %d; body = %s", rec.Code, http.StatusPaymentRequired, rec.Body.String())
	}
}

func TestQuery_TraditionalQueueReturns202(t *testing.T) {
	t.Parallel()
	repo := &testutil.FakeRepository{
		ExecuteFn: func(_ context.Context, _, _ string, _ map[string]any) (*gateway.QueryResult, error) {
			return &gateway.QueryResult{Columns: []string{"n"}, Rows: []map[string]any{}, RowCount: 0}, nil
		},
	}
	h := newTestHarness(t, testutil.FakeAuth{}, repo)

	body := `{"query":"MATCH (n) RETURN n"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/graphs/g1/query?mode=async", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"queued"`) {
		t.Errorf("body missing queued status, got: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "/v1/operations/") {
		t.Errorf("body missing operation monitor link, got: %s", rec.Body.String())
	}
}

func TestQuery_CircuitOpenRejects(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	breaker := h.breakers.GetOrCreate(circuitbreaker.Key("g1", "cypher_query"))
	for i := 0; i < 5; i++ {
		breaker.RecordFailure()
	}

	body := `{"query":"MATCH (n) RETURN n"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/graphs/g1/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d; body = %s", rec.Code, http.StatusServiceUnavailable, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set when circuit is open")
	}
}
