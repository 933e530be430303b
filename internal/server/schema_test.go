package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/testutil"
)

func TestSchemaInfo_OK(t *testing.T) {
	t.Parallel()
	repo := &testutil.FakeRepository{
		SchemaFn: func(_ context.Context, _ string) (*gateway.SchemaInfo, error) {
			return &gateway.SchemaInfo{Labels: []string{"Person"}}, nil
		},
	}
	h := newTestHarness(t, testutil.FakeAuth{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/v1/graphs/g1/schema/info", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Person") {
		t.Errorf("body missing node label, got: %s", rec.Body.String())
	}
}

func TestSchemaValidate_AcceptsQueryField(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	body := `{"query":"MATCH (n:Person) RETURN n"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/graphs/g1/schema/validate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"valid":true`) {
		t.Errorf("expected valid:true, got: %s", rec.Body.String())
	}
}

func TestSchemaValidate_AcceptsCypherField(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	body := `{"cypher":"MATCH (n:Person) RETURN n"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/graphs/g1/schema/validate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestSchemaValidate_AcceptsNestedSchemaQueryField(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	body := `{"schema":{"query":"MATCH (n:Person) RETURN n"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/graphs/g1/schema/validate", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
}

func TestSchemaValidate_MissingQueryRejected(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodPost, "/v1/graphs/g1/schema/validate", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}

func TestSchemaValidate_MalformedBodyRejected(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodPost, "/v1/graphs/g1/schema/validate", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body = %s", rec.Code, http.StatusBadRequest, rec.Body.String())
	}
}
