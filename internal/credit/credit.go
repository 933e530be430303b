// Package credit implements the central credit accounting service: atomic
// balance checks and consumption against per-graph and per-repository
// pools, subgraph-to-parent routing, AI token pricing, and monthly
// allocation.
package credit

import (
	"context"
	"fmt"
	"math"
	"time"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/creditcache"
	"github.com/cyphergate/cyphergate/internal/storage"
)

// SharedRepoCostTable maps a shared repository name to its per-operation
// cost table. A cost of 0 means "included" (rate-limited only, not billed).
type SharedRepoCostTable map[string]map[gateway.OperationType]gateway.Credits

// BalanceCheck is the outcome of checkBalance.
type BalanceCheck struct {
	HasAccess    bool
	HasSufficient bool
	Required     gateway.Credits
	Available    gateway.Credits
	RepoType     string // "shared" or "" for user graphs
	Reason       string
}

// ConsumeResult is the outcome of consumeCredits.
type ConsumeResult struct {
	Success   bool
	Consumed  gateway.Credits
	Required  gateway.Credits
	Available gateway.Credits
	Transaction *gateway.CreditTransaction
}

// Service is the credit accounting service.
type Service struct {
	store    storage.Store
	cache    *creditcache.Cache
	repoCost SharedRepoCostTable
}

// New constructs a Service.
func New(store storage.Store, cache *creditcache.Cache, repoCost SharedRepoCostTable) *Service {
	if repoCost == nil {
		repoCost = SharedRepoCostTable{}
	}
	return &Service{store: store, cache: cache, repoCost: repoCost}
}

// Cache exposes the service's backing credit cache, for handlers that need
// to read or write pre-serialized summary payloads directly.
func (s *Service) Cache() *creditcache.Cache {
	return s.cache
}

// CheckBalance evaluates whether gid has enough credits for requiredCredits,
// resolving subgraphs to their parent pool and shared repositories to their
// per-user repository pool.
func (s *Service) CheckBalance(ctx context.Context, gid gateway.GraphID, requiredCredits gateway.Credits, userID string, opType gateway.OperationType) (BalanceCheck, error) {
	if gid.IsSharedRepo {
		return s.checkSharedRepoBalance(ctx, gid.Parent, userID, opType, requiredCredits)
	}
	return s.checkGraphBalance(ctx, gid.Parent, requiredCredits)
}

func (s *Service) checkGraphBalance(ctx context.Context, parentGraphID string, required gateway.Credits) (BalanceCheck, error) {
	balance, ok := s.cache.GetBalance(ctx, parentGraphID)
	if !ok {
		pool, err := s.store.GetPool(ctx, parentGraphID)
		if err != nil {
			return BalanceCheck{}, err
		}
		balance = pool.CurrentBalance
		s.cache.SetBalance(ctx, parentGraphID, balance)
	}
	return BalanceCheck{
		HasAccess:     true,
		HasSufficient: balance >= required,
		Required:      required,
		Available:     balance,
	}, nil
}

func (s *Service) checkSharedRepoBalance(ctx context.Context, repoName, userID string, opType gateway.OperationType, fallbackCost gateway.Credits) (BalanceCheck, error) {
	cost := s.sharedRepoCost(repoName, opType, fallbackCost)
	if cost == 0 {
		return BalanceCheck{HasAccess: true, HasSufficient: true, RepoType: "shared"}, nil
	}
	pool, err := s.store.GetRepoPool(ctx, userID, repoName)
	if err != nil {
		return BalanceCheck{}, err
	}
	return BalanceCheck{
		HasAccess:     true,
		HasSufficient: pool.CurrentBalance >= cost,
		Required:      cost,
		Available:     pool.CurrentBalance,
		RepoType:      "shared",
	}, nil
}

func (s *Service) sharedRepoCost(repoName string, opType gateway.OperationType, fallback gateway.Credits) gateway.Credits {
	if table, ok := s.repoCost[repoName]; ok {
		if cost, ok := table[opType]; ok {
			return cost
		}
	}
	return fallback
}

// ConsumeCredits performs the full consume-credits algorithm for gid.
func (s *Service) ConsumeCredits(ctx context.Context, gid gateway.GraphID, opType gateway.OperationType, baseCost gateway.Credits, metadata gateway.TransactionMetadata, cached bool, userID, idempotencyKey string) (ConsumeResult, error) {
	if cached {
		return ConsumeResult{Success: true, Consumed: 0}, nil
	}
	if gid.IsSharedRepo {
		return s.consumeSharedRepositoryCredits(ctx, gid.Parent, opType, baseCost, metadata, userID, idempotencyKey)
	}

	parentGraphID := gid.Parent

	if idempotencyKey != "" {
		if existing, err := s.store.GetTransactionByIdempotencyKey(ctx, idempotencyKey); err == nil {
			return ConsumeResult{Success: true, Consumed: -existing.Amount, Transaction: existing}, nil
		}
	}

	result, err := s.store.DecrementBalance(ctx, parentGraphID, baseCost)
	if err != nil {
		s.cache.InvalidateBalance(ctx, parentGraphID)
		return ConsumeResult{}, err
	}
	if !result.Applied {
		s.cache.InvalidateBalance(ctx, parentGraphID)
		return ConsumeResult{Success: false, Required: baseCost, Available: result.NewBalance}, nil
	}

	pool, err := s.store.GetPool(ctx, parentGraphID)
	if err != nil {
		return ConsumeResult{}, err
	}
	tx := &gateway.CreditTransaction{
		PoolID:         pool.ID,
		GraphID:        parentGraphID,
		UserID:         userID,
		Type:           gateway.TxConsumption,
		Amount:         -baseCost,
		Description:    fmt.Sprintf("consumption: %s", opType),
		Metadata:       metadata,
		IdempotencyKey: idempotencyKey,
	}
	inserted, isNew, err := s.store.InsertTransaction(ctx, tx)
	if err != nil {
		return ConsumeResult{}, err
	}
	if !isNew {
		// A concurrent call with the same idempotency key won the race and
		// already recorded its own decrement; ours was superfluous, refund it.
		refunded, err := s.store.AdjustBalance(ctx, parentGraphID, baseCost, 0)
		if err != nil {
			return ConsumeResult{}, err
		}
		s.cache.InvalidateBalance(ctx, parentGraphID)
		s.cache.UpdateBalanceAfterConsumption(ctx, parentGraphID, refunded.NewBalance)
		return ConsumeResult{Success: true, Consumed: -inserted.Amount, Transaction: inserted}, nil
	}
	s.cache.InvalidateBalance(ctx, parentGraphID)
	s.cache.UpdateBalanceAfterConsumption(ctx, parentGraphID, result.NewBalance)
	s.cache.InvalidateSummary(ctx, parentGraphID)

	return ConsumeResult{Success: true, Consumed: baseCost, Transaction: inserted}, nil
}

func (s *Service) consumeSharedRepositoryCredits(ctx context.Context, repoName string, opType gateway.OperationType, baseCost gateway.Credits, metadata gateway.TransactionMetadata, userID, idempotencyKey string) (ConsumeResult, error) {
	cost := s.sharedRepoCost(repoName, opType, baseCost)
	if cost == 0 {
		return ConsumeResult{Success: true, Consumed: 0}, nil
	}
	if idempotencyKey != "" {
		if existing, err := s.store.GetTransactionByIdempotencyKey(ctx, idempotencyKey); err == nil {
			return ConsumeResult{Success: true, Consumed: -existing.Amount, Transaction: existing}, nil
		}
	}

	result, err := s.store.DecrementRepoBalance(ctx, userID, repoName, cost)
	if err != nil {
		return ConsumeResult{}, err
	}
	if !result.Applied {
		return ConsumeResult{Success: false, Required: cost, Available: result.NewBalance}, nil
	}

	pool, err := s.store.GetRepoPool(ctx, userID, repoName)
	if err != nil {
		return ConsumeResult{}, err
	}
	if metadata == nil {
		metadata = gateway.TransactionMetadata{}
	}
	metadata["repository"] = repoName
	tx := &gateway.CreditTransaction{
		PoolID:         pool.ID,
		GraphID:        repoName,
		UserID:         userID,
		Type:           gateway.TxConsumption,
		Amount:         -cost,
		Description:    fmt.Sprintf("shared repository consumption: %s", opType),
		Metadata:       metadata,
		IdempotencyKey: idempotencyKey,
	}
	inserted, isNew, err := s.store.InsertTransaction(ctx, tx)
	if err != nil {
		return ConsumeResult{}, err
	}
	if !isNew {
		// A concurrent call with the same idempotency key won the race and
		// already recorded its own decrement; ours was superfluous, refund it.
		if _, err := s.store.AdjustRepoBalance(ctx, userID, repoName, cost); err != nil {
			return ConsumeResult{}, err
		}
		return ConsumeResult{Success: true, Consumed: -inserted.Amount, Transaction: inserted}, nil
	}
	return ConsumeResult{Success: true, Consumed: cost, Transaction: inserted}, nil
}

// AITokenPricing is the per-1000-token price configuration for a model.
type AITokenPricing struct {
	PriceInPer1k  float64
	PriceOutPer1k float64
	MinimumCost   gateway.Credits
}

// ConsumeAITokens computes AI token cost and consumes it as opType="ai_tokens".
func (s *Service) ConsumeAITokens(ctx context.Context, gid gateway.GraphID, inputTokens, outputTokens int, model string, pricing AITokenPricing, userID, idempotencyKey string) (ConsumeResult, error) {
	raw := (float64(inputTokens)/1000)*pricing.PriceInPer1k + (float64(outputTokens)/1000)*pricing.PriceOutPer1k
	cost := gateway.CreditsFromFloat(raw).CeilToMinimum(pricing.MinimumCost)

	metadata := gateway.TransactionMetadata{
		"model":         model,
		"input_tokens":  inputTokens,
		"output_tokens": outputTokens,
	}
	return s.ConsumeCredits(ctx, gid, gateway.OpAITokens, cost, metadata, false, userID, idempotencyKey)
}

// ConsumeStorage charges overage above the tier's included storage GB. It
// may drive the balance negative; storage overage is the one case where
// negative balances are allowed.
func (s *Service) ConsumeStorage(ctx context.Context, parentGraphID string, usedGB float64, pricePerGBDay gateway.Credits) (ConsumeResult, error) {
	pool, err := s.store.GetPool(ctx, parentGraphID)
	if err != nil {
		return ConsumeResult{}, err
	}
	limit := pool.StorageLimitGB
	if pool.StorageOverrideGB != nil {
		limit = *pool.StorageOverrideGB
	}
	overageGB := usedGB - limit
	if overageGB <= 0 {
		return ConsumeResult{Success: true, Consumed: 0}, nil
	}

	cost := gateway.Credits(math.Round(overageGB * float64(pricePerGBDay)))
	result, err := s.store.AdjustBalance(ctx, parentGraphID, -cost, 0)
	if err != nil {
		return ConsumeResult{}, err
	}

	tx := &gateway.CreditTransaction{
		PoolID:      pool.ID,
		GraphID:     parentGraphID,
		Type:        gateway.TxConsumption,
		Amount:      -cost,
		Description: "storage overage",
		Metadata:    gateway.TransactionMetadata{"allows_negative": true, "overage_gb": overageGB},
	}
	inserted, _, err := s.store.InsertTransaction(ctx, tx)
	if err != nil {
		return ConsumeResult{}, err
	}
	s.cache.InvalidateBalance(ctx, parentGraphID)
	s.cache.UpdateBalanceAfterConsumption(ctx, parentGraphID, result.NewBalance)

	return ConsumeResult{Success: true, Consumed: cost, Transaction: inserted}, nil
}

// AllocateMonthlyCredits is idempotent per (graphID, YYYY-MM). It adds the
// pool's monthly allocation to its balance, capped at gateway.MaxBalance.
func (s *Service) AllocateMonthlyCredits(ctx context.Context, graphID string, now time.Time) (ConsumeResult, error) {
	idempotencyKey := fmt.Sprintf("monthly_allocation_%s_%s", graphID, now.Format("2006-01"))
	if existing, err := s.store.GetTransactionByIdempotencyKey(ctx, idempotencyKey); err == nil {
		return ConsumeResult{Success: true, Transaction: existing}, nil
	}

	pool, err := s.store.GetPool(ctx, graphID)
	if err != nil {
		return ConsumeResult{}, err
	}

	result, err := s.store.AdjustBalance(ctx, graphID, pool.MonthlyAllocation, gateway.MaxBalance)
	if err != nil {
		return ConsumeResult{}, err
	}
	effectiveAmount := result.NewBalance - result.OldBalance

	tx := &gateway.CreditTransaction{
		PoolID:         pool.ID,
		GraphID:        graphID,
		Type:           gateway.TxAllocation,
		Amount:         effectiveAmount,
		Description:    "monthly allocation",
		IdempotencyKey: idempotencyKey,
	}
	inserted, _, err := s.store.InsertTransaction(ctx, tx)
	if err != nil {
		return ConsumeResult{}, err
	}
	s.cache.InvalidateBalance(ctx, graphID)
	s.cache.InvalidateSummary(ctx, graphID)

	return ConsumeResult{Success: true, Consumed: -effectiveAmount, Transaction: inserted}, nil
}

// ResolveCost returns the base cost for opType, preferring the cache, then
// falling back to the closed-set BaseOperationCosts table.
func (s *Service) ResolveCost(ctx context.Context, opType gateway.OperationType) gateway.Credits {
	if cost, ok := s.cache.GetCost(ctx, opType); ok {
		return cost
	}
	cost := gateway.BaseOperationCosts[opType]
	s.cache.SetCost(ctx, opType, cost)
	return cost
}
