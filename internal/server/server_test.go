package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/admission"
	"github.com/cyphergate/cyphergate/internal/circuitbreaker"
	"github.com/cyphergate/cyphergate/internal/credit"
	"github.com/cyphergate/cyphergate/internal/creditcache"
	"github.com/cyphergate/cyphergate/internal/eventbus"
	"github.com/cyphergate/cyphergate/internal/operation"
	"github.com/cyphergate/cyphergate/internal/queue"
	"github.com/cyphergate/cyphergate/internal/testutil"
	"github.com/cyphergate/cyphergate/internal/timeout"
)

// testHarness bundles the live dependencies behind a test server so
// individual tests can reach into the fakes after making requests.
type testHarness struct {
	handler    http.Handler
	store      *testutil.FakeCreditStore
	repository *testutil.FakeRepository
	queue      *queue.Queue
	operations *operation.Registry
	eventBus   *eventbus.Bus
	credits    *credit.Service
	breakers   *circuitbreaker.Registry
}

func newTestHarness(t *testing.T, auth gateway.Authenticator, repo *testutil.FakeRepository) *testHarness {
	t.Helper()

	store := testutil.NewFakeCreditStore()
	if _, err := store.EnsurePool(context.Background(), "g1", gateway.TierStandard, gateway.CreditsFromFloat(1000), 10); err != nil {
		t.Fatalf("EnsurePool: %v", err)
	}

	cache, err := creditcache.New(testutil.NewFakeKVStore())
	if err != nil {
		t.Fatalf("creditcache.New: %v", err)
	}
	creditSvc := credit.New(store, cache, nil)

	q := queue.New(queue.DefaultConfig(), admission.NewController(admission.DefaultConfig()), func(ctx context.Context, cypher string, params map[string]any, graphID string) (*gateway.QueryResult, error) {
		return repo.ExecuteQuery(ctx, graphID, cypher, params)
	})

	bus := eventbus.New(testutil.NewFakeKVStore(), eventbus.DefaultConfig())
	ops := operation.NewRegistry(time.Hour)
	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())

	handler := New(Deps{
		Auth:                 auth,
		Repository:           repo,
		Queue:                q,
		Credits:              creditSvc,
		Store:                store,
		Breakers:             breakers,
		Timeouts:             timeout.NewCoordinator(),
		EventBus:             bus,
		Operations:           ops,
		QueueMaxSize:         queue.DefaultConfig().MaxQueueSize,
		MaxConcurrent:        queue.DefaultConfig().MaxConcurrent,
		DefaultPriority:      5,
		PriorityBoostPremium: 3,
		ServiceVersion:       "test",
	})

	return &testHarness{
		handler:    handler,
		store:      store,
		repository: repo,
		queue:      q,
		operations: ops,
		eventBus:   bus,
		credits:    creditSvc,
		breakers:   breakers,
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if want := `"status":"healthy"`; !strings.Contains(rec.Body.String(), want) {
		t.Errorf("body missing %q, got: %s", want, rec.Body.String())
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.FakeAuth{}, &testutil.FakeRepository{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id header should be set")
	}
}

func TestAuthenticationRequired(t *testing.T) {
	t.Parallel()
	h := newTestHarness(t, testutil.RejectAuth{}, &testutil.FakeRepository{})

	body := `{"query":"MATCH (n) RETURN n"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/graphs/g1/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestErrorStatus_AllBranches(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
	}{
		{gateway.ErrUnauthorized, http.StatusUnauthorized},
		{gateway.ErrForbidden, http.StatusForbidden},
		{gateway.ErrAccessDenied, http.StatusForbidden},
		{gateway.ErrNotFound, http.StatusNotFound},
		{gateway.ErrConflict, http.StatusConflict},
		{gateway.ErrBadRequest, http.StatusBadRequest},
		{gateway.ErrNoCreditPool, http.StatusPaymentRequired},
		{gateway.ErrCreditInsufficient, http.StatusPaymentRequired},
		{gateway.ErrTimeout, http.StatusRequestTimeout},
		{gateway.ErrQueueFull, http.StatusTooManyRequests},
		{gateway.ErrCircuitOpen, http.StatusServiceUnavailable},
		{gateway.ErrRepository, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			t.Parallel()
			if got := errorStatus(tt.err); got != tt.want {
				t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
