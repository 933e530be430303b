// Package storage defines persistence interfaces for the gateway's credit
// accounting state. The graph/query data itself lives behind the
// gateway.Repository collaborator; this package only persists credit pools
// and their transaction ledger.
package storage

import (
	"context"
	"time"

	gateway "github.com/cyphergate/cyphergate/internal"
)

// DecrementResult is the outcome of an atomic conditional balance decrement.
type DecrementResult struct {
	Applied    bool
	OldBalance gateway.Credits
	NewBalance gateway.Credits
}

// GraphCreditStore persists GraphCreditPool rows.
type GraphCreditStore interface {
	// EnsurePool idempotently creates a pool for graphID if none exists,
	// returning the existing or newly created pool.
	EnsurePool(ctx context.Context, graphID string, tier gateway.GraphTier, monthlyAllocation gateway.Credits, storageLimitGB float64) (*gateway.GraphCreditPool, error)
	GetPool(ctx context.Context, graphID string) (*gateway.GraphCreditPool, error)
	// DecrementBalance performs `UPDATE ... SET balance = balance - cost WHERE
	// graph_id = ? AND balance >= cost`, the database's atomic
	// compare-and-decrement. Applied is false (zero rows affected) if the
	// balance was insufficient.
	DecrementBalance(ctx context.Context, graphID string, cost gateway.Credits) (DecrementResult, error)
	// AdjustBalance applies a signed delta unconditionally (used for refunds,
	// bonuses, storage overage, and monthly allocation).
	AdjustBalance(ctx context.Context, graphID string, delta gateway.Credits, cap gateway.Credits) (DecrementResult, error)
}

// RepositoryCreditStore persists RepositoryCreditPool rows, keyed by
// (userID, repositoryName).
type RepositoryCreditStore interface {
	EnsureRepoPool(ctx context.Context, userID, repositoryName string) (*gateway.RepositoryCreditPool, error)
	GetRepoPool(ctx context.Context, userID, repositoryName string) (*gateway.RepositoryCreditPool, error)
	DecrementRepoBalance(ctx context.Context, userID, repositoryName string, cost gateway.Credits) (DecrementResult, error)
	// AdjustRepoBalance applies a signed delta unconditionally (used for
	// refunding a decrement that lost an idempotency-key race).
	AdjustRepoBalance(ctx context.Context, userID, repositoryName string, delta gateway.Credits) (DecrementResult, error)
}

// TransactionStore persists the immutable CreditTransaction ledger.
type TransactionStore interface {
	// InsertTransaction inserts tx. If tx.IdempotencyKey collides with an
	// existing row, the existing row is returned instead of an error, per
	// the at-most-once delivery contract, and isNew is false so the caller
	// can tell its own balance adjustment lost the race and needs undoing.
	InsertTransaction(ctx context.Context, tx *gateway.CreditTransaction) (result *gateway.CreditTransaction, isNew bool, err error)
	GetTransactionByIdempotencyKey(ctx context.Context, key string) (*gateway.CreditTransaction, error)
	ListTransactions(ctx context.Context, graphID string, filter TransactionFilter) ([]*gateway.CreditTransaction, error)
}

// TransactionFilter narrows a transaction listing.
type TransactionFilter struct {
	Type      gateway.TransactionType // empty = any
	OpType    gateway.OperationType   // empty = any
	Start     *time.Time
	End       *time.Time
	Offset    int
	Limit     int
}

// Store combines all credit persistence interfaces.
type Store interface {
	GraphCreditStore
	RepositoryCreditStore
	TransactionStore
	Close() error
}
