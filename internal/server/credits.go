package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/storage"
)

type creditSummaryResponse struct {
	GraphID           string  `json:"graph_id"`
	Tier              string  `json:"tier"`
	CurrentBalance    float64 `json:"current_balance"`
	MonthlyAllocation float64 `json:"monthly_allocation"`
	LastAllocationAt  time.Time `json:"last_allocation_at"`
}

// handleCreditsSummary serves GET /v1/graphs/{graph_id}/credits/summary,
// answering from the write-through cache when a fresh serialized payload is
// available.
func (s *server) handleCreditsSummary(w http.ResponseWriter, r *http.Request) {
	identity := gateway.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, gateway.ErrUnauthorized)
		return
	}
	if !identity.Can(gateway.PermViewOwnCredits) {
		writeError(w, gateway.ErrForbidden)
		return
	}

	gid := gateway.ParseGraphID(chi.URLParam(r, "graph_id"))
	if gid.IsSharedRepo {
		writeError(w, fmt.Errorf("%w: credits summary is not available for shared repositories", gateway.ErrBadRequest))
		return
	}
	if !identity.HasAccess(gid.Parent) {
		writeError(w, gateway.ErrAccessDenied)
		return
	}

	ctx := r.Context()
	cache := s.deps.Credits.Cache()
	if cached, ok := cache.GetSummary(ctx, gid.Parent); ok {
		w.Header()["Content-Type"] = jsonCT
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(cached))
		return
	}

	pool, err := s.deps.Store.GetPool(ctx, gid.Parent)
	if err != nil {
		if isNotFound(err) {
			writeError(w, gateway.ErrNoCreditPool)
			return
		}
		writeError(w, fmt.Errorf("%w: %v", gateway.ErrRepository, err))
		return
	}

	resp := creditSummaryResponse{
		GraphID:           gid.Parent,
		Tier:              string(pool.GraphTier),
		CurrentBalance:    pool.CurrentBalance.Float64(),
		MonthlyAllocation: pool.MonthlyAllocation.Float64(),
		LastAllocationAt:  pool.LastAllocationAt,
	}

	if payload, err := json.Marshal(resp); err == nil {
		cache.SetSummary(ctx, gid.Parent, string(payload))
	}

	writeJSON(w, http.StatusOK, resp)
}

type transactionsResponse struct {
	Transactions []*gateway.CreditTransaction `json:"transactions"`
	Offset       int                          `json:"offset"`
	Limit        int                          `json:"limit"`
}

const (
	defaultTransactionsLimit = 50
	maxTransactionsLimit     = 500
)

// handleCreditsTransactions serves the paginated, filterable transaction
// ledger listing.
func (s *server) handleCreditsTransactions(w http.ResponseWriter, r *http.Request) {
	identity := gateway.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, gateway.ErrUnauthorized)
		return
	}
	if !identity.Can(gateway.PermViewOwnCredits) {
		writeError(w, gateway.ErrForbidden)
		return
	}

	gid := gateway.ParseGraphID(chi.URLParam(r, "graph_id"))
	if !identity.HasAccess(gid.Parent) {
		writeError(w, gateway.ErrAccessDenied)
		return
	}

	q := r.URL.Query()
	filter := storage.TransactionFilter{
		Type:   gateway.TransactionType(q.Get("transaction_type")),
		OpType: gateway.OperationType(q.Get("operation_type")),
		Limit:  defaultTransactionsLimit,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if filter.Limit > maxTransactionsLimit {
		filter.Limit = maxTransactionsLimit
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := q.Get("start_date"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Start = &t
		}
	}
	if v := q.Get("end_date"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.End = &t
		}
	}

	txs, err := s.deps.Store.ListTransactions(r.Context(), gid.Parent, filter)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", gateway.ErrRepository, err))
		return
	}

	writeJSON(w, http.StatusOK, transactionsResponse{
		Transactions: txs,
		Offset:       filter.Offset,
		Limit:        filter.Limit,
	})
}

// handleBalanceCheck serves the pre-flight balance check used by clients
// deciding whether to attempt a costly operation.
func (s *server) handleBalanceCheck(w http.ResponseWriter, r *http.Request) {
	identity := gateway.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, gateway.ErrUnauthorized)
		return
	}

	gid := gateway.ParseGraphID(chi.URLParam(r, "graph_id"))
	q := r.URL.Query()
	opType := gateway.OperationType(q.Get("operation_type"))
	if opType == "" {
		opType = gateway.OpQuery
	}

	baseCost := s.deps.Credits.ResolveCost(r.Context(), opType)
	if v := q.Get("base_cost"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			baseCost = gateway.CreditsFromFloat(f)
		}
	}

	bc, err := s.deps.Credits.CheckBalance(r.Context(), gid, baseCost, identity.UserID, opType)
	if err != nil {
		if isNotFound(err) {
			writeError(w, gateway.ErrNoCreditPool)
			return
		}
		writeError(w, fmt.Errorf("%w: %v", gateway.ErrRepository, err))
		return
	}

	writeJSON(w, http.StatusOK, struct {
		HasAccess     bool    `json:"has_access"`
		HasSufficient bool    `json:"has_sufficient"`
		Required      float64 `json:"required"`
		Available     float64 `json:"available"`
		RepoType      string  `json:"repo_type,omitempty"`
	}{
		HasAccess:     bc.HasAccess,
		HasSufficient: bc.HasSufficient,
		Required:      bc.Required.Float64(),
		Available:     bc.Available.Float64(),
		RepoType:      bc.RepoType,
	})
}

type storageLimitsResponse struct {
	GraphID        string  `json:"graph_id"`
	StorageLimitGB float64 `json:"storage_limit_gb"`
	OverrideGB     *float64 `json:"storage_override_gb,omitempty"`
}

// handleStorageLimits reports the configured storage ceiling for a graph.
func (s *server) handleStorageLimits(w http.ResponseWriter, r *http.Request) {
	identity := gateway.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, gateway.ErrUnauthorized)
		return
	}

	gid := gateway.ParseGraphID(chi.URLParam(r, "graph_id"))
	if !identity.HasAccess(gid.Parent) {
		writeError(w, gateway.ErrAccessDenied)
		return
	}

	pool, err := s.deps.Store.GetPool(r.Context(), gid.Parent)
	if err != nil {
		if isNotFound(err) {
			writeError(w, gateway.ErrNoCreditPool)
			return
		}
		writeError(w, fmt.Errorf("%w: %v", gateway.ErrRepository, err))
		return
	}

	writeJSON(w, http.StatusOK, storageLimitsResponse{
		GraphID:        gid.Parent,
		StorageLimitGB: pool.StorageLimitGB,
		OverrideGB:     pool.StorageOverrideGB,
	})
}

func isNotFound(err error) bool {
	return errors.Is(err, gateway.ErrNotFound)
}
