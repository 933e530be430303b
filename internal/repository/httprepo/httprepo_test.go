package httprepo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExecuteQuery_OK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/query" {
			t.Errorf("path = %s, want /query", r.URL.Path)
		}
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.GraphID != "kg1" {
			t.Errorf("graph_id = %q, want kg1", req.GraphID)
		}
		json.NewEncoder(w).Encode(queryResponse{
			Columns:  []string{"n"},
			Rows:     []map[string]any{{"n": 1}},
			RowCount: 1,
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	res, err := c.ExecuteQuery(context.Background(), "kg1", "MATCH (n) RETURN n", nil)
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if res.RowCount != 1 {
		t.Errorf("row count = %d, want 1", res.RowCount)
	}
}

func TestExecuteQuery_UpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "boom")
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	if _, err := c.ExecuteQuery(context.Background(), "kg1", "MATCH (n) RETURN n", nil); err == nil {
		t.Fatal("expected error from upstream 500")
	}
}

func TestExecuteQueryStreaming_OK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query/stream" {
			t.Errorf("path = %s, want /query/stream", r.URL.Path)
		}
		w.Header().Set("X-Columns", "n,m")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"n":1}`+"\n"+`{"n":2}`+"\n")
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	rows := make(chan map[string]any, 10)
	res, err := c.ExecuteQueryStreaming(context.Background(), "kg1", "MATCH (n) RETURN n", nil, rows)
	if err != nil {
		t.Fatalf("ExecuteQueryStreaming: %v", err)
	}
	close(rows)
	var got []map[string]any
	for r := range rows {
		got = append(got, r)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if res.RowCount != 2 {
		t.Errorf("row count = %d, want 2", res.RowCount)
	}
	if len(res.Columns) != 2 {
		t.Errorf("columns = %v, want 2 entries", res.Columns)
	}
}

func TestGetSchemaInfo_OK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/schema/kg1" {
			t.Errorf("path = %s, want /schema/kg1", r.URL.Path)
		}
		json.NewEncoder(w).Encode(schemaResponse{Labels: []string{"Person"}})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	info, err := c.GetSchemaInfo(context.Background(), "kg1")
	if err != nil {
		t.Fatalf("GetSchemaInfo: %v", err)
	}
	if len(info.Labels) != 1 || info.Labels[0] != "Person" {
		t.Errorf("labels = %v, want [Person]", info.Labels)
	}
}

func TestUsageGB_OK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/usage/kg1" {
			t.Errorf("path = %s, want /usage/kg1", r.URL.Path)
		}
		json.NewEncoder(w).Encode(usageResponse{UsedGB: 12.5})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	gb, err := c.UsageGB(context.Background(), "kg1")
	if err != nil {
		t.Fatalf("UsageGB: %v", err)
	}
	if gb != 12.5 {
		t.Errorf("usage = %v, want 12.5", gb)
	}
}

func TestValidateSchema_OK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/schema/validate" {
			t.Errorf("path = %s, want /schema/validate", r.URL.Path)
		}
		json.NewEncoder(w).Encode(validateResponse{Valid: false, Errors: []string{"unknown label"}})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	v, err := c.ValidateSchema(context.Background(), "kg1", "MATCH (n:Nope) RETURN n")
	if err != nil {
		t.Fatalf("ValidateSchema: %v", err)
	}
	if v.Valid {
		t.Error("expected Valid = false")
	}
	if len(v.Errors) != 1 {
		t.Errorf("errors = %v, want 1 entry", v.Errors)
	}
}
