package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/storage"
)

// FakeCreditStore is an in-memory storage.Store for testing, implementing
// the same atomic-decrement and idempotency-key semantics as the SQLite
// store but without touching a database.
type FakeCreditStore struct {
	mu    sync.Mutex
	pools map[string]*gateway.GraphCreditPool
	repos map[string]*gateway.RepositoryCreditPool
	txs   []*gateway.CreditTransaction
	byKey map[string]*gateway.CreditTransaction
}

// NewFakeCreditStore returns an empty FakeCreditStore.
func NewFakeCreditStore() *FakeCreditStore {
	return &FakeCreditStore{
		pools: make(map[string]*gateway.GraphCreditPool),
		repos: make(map[string]*gateway.RepositoryCreditPool),
		byKey: make(map[string]*gateway.CreditTransaction),
	}
}

func (f *FakeCreditStore) EnsurePool(_ context.Context, graphID string, tier gateway.GraphTier, monthlyAllocation gateway.Credits, storageLimitGB float64) (*gateway.GraphCreditPool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.pools[graphID]; ok {
		return p, nil
	}
	p := &gateway.GraphCreditPool{
		ID:                uuid.Must(uuid.NewV7()).String(),
		GraphID:           graphID,
		MonthlyAllocation: monthlyAllocation,
		CurrentBalance:    monthlyAllocation,
		GraphTier:         tier,
		StorageLimitGB:    storageLimitGB,
		LastAllocationAt:  time.Now().UTC(),
	}
	f.pools[graphID] = p
	return p, nil
}

func (f *FakeCreditStore) GetPool(_ context.Context, graphID string) (*gateway.GraphCreditPool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pools[graphID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *FakeCreditStore) DecrementBalance(_ context.Context, graphID string, cost gateway.Credits) (storage.DecrementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pools[graphID]
	if !ok {
		return storage.DecrementResult{}, gateway.ErrNotFound
	}
	old := p.CurrentBalance
	if p.CurrentBalance < cost {
		return storage.DecrementResult{Applied: false, OldBalance: old, NewBalance: old}, nil
	}
	p.CurrentBalance -= cost
	return storage.DecrementResult{Applied: true, OldBalance: old, NewBalance: p.CurrentBalance}, nil
}

func (f *FakeCreditStore) AdjustBalance(_ context.Context, graphID string, delta gateway.Credits, cap gateway.Credits) (storage.DecrementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pools[graphID]
	if !ok {
		return storage.DecrementResult{}, gateway.ErrNotFound
	}
	old := p.CurrentBalance
	newBalance := old + delta
	if cap > 0 && newBalance > cap {
		newBalance = cap
	}
	p.CurrentBalance = newBalance
	p.LastAllocationAt = time.Now().UTC()
	return storage.DecrementResult{Applied: true, OldBalance: old, NewBalance: newBalance}, nil
}

func (f *FakeCreditStore) EnsureRepoPool(_ context.Context, userID, repositoryName string) (*gateway.RepositoryCreditPool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := userID + "/" + repositoryName
	if p, ok := f.repos[key]; ok {
		return p, nil
	}
	p := &gateway.RepositoryCreditPool{
		ID:             uuid.Must(uuid.NewV7()).String(),
		UserID:         userID,
		RepositoryName: repositoryName,
	}
	f.repos[key] = p
	return p, nil
}

func (f *FakeCreditStore) GetRepoPool(_ context.Context, userID, repositoryName string) (*gateway.RepositoryCreditPool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.repos[userID+"/"+repositoryName]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *FakeCreditStore) DecrementRepoBalance(_ context.Context, userID, repositoryName string, cost gateway.Credits) (storage.DecrementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.repos[userID+"/"+repositoryName]
	if !ok {
		return storage.DecrementResult{}, gateway.ErrNotFound
	}
	old := p.CurrentBalance
	if old < cost {
		return storage.DecrementResult{Applied: false, OldBalance: old, NewBalance: old}, nil
	}
	p.CurrentBalance -= cost
	return storage.DecrementResult{Applied: true, OldBalance: old, NewBalance: p.CurrentBalance}, nil
}

func (f *FakeCreditStore) AdjustRepoBalance(_ context.Context, userID, repositoryName string, delta gateway.Credits) (storage.DecrementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.repos[userID+"/"+repositoryName]
	if !ok {
		return storage.DecrementResult{}, gateway.ErrNotFound
	}
	old := p.CurrentBalance
	p.CurrentBalance = old + delta
	return storage.DecrementResult{Applied: true, OldBalance: old, NewBalance: p.CurrentBalance}, nil
}

func (f *FakeCreditStore) InsertTransaction(_ context.Context, tx *gateway.CreditTransaction) (*gateway.CreditTransaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tx.IdempotencyKey != "" {
		if existing, ok := f.byKey[tx.IdempotencyKey]; ok {
			return existing, false, nil
		}
	}
	if tx.ID == "" {
		tx.ID = uuid.Must(uuid.NewV7()).String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	cp := *tx
	f.txs = append(f.txs, &cp)
	if tx.IdempotencyKey != "" {
		f.byKey[tx.IdempotencyKey] = &cp
	}
	return &cp, true, nil
}

func (f *FakeCreditStore) GetTransactionByIdempotencyKey(_ context.Context, key string) (*gateway.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.byKey[key]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return tx, nil
}

func (f *FakeCreditStore) ListTransactions(_ context.Context, graphID string, filter storage.TransactionFilter) ([]*gateway.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*gateway.CreditTransaction
	for i := len(f.txs) - 1; i >= 0; i-- {
		tx := f.txs[i]
		if tx.GraphID != graphID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (f *FakeCreditStore) Close() error { return nil }

var _ storage.Store = (*FakeCreditStore)(nil)
