package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/storage"
)

// EnsurePool idempotently creates a GraphCreditPool for graphID.
func (s *Store) EnsurePool(ctx context.Context, graphID string, tier gateway.GraphTier, monthlyAllocation gateway.Credits, storageLimitGB float64) (*gateway.GraphCreditPool, error) {
	if existing, err := s.GetPool(ctx, graphID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gateway.ErrNotFound) {
		return nil, err
	}

	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now().UTC()
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO graph_credit_pools
		 (id, graph_id, monthly_allocation, current_balance, graph_tier, storage_limit_gb, storage_override_gb, last_allocation_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)
		 ON CONFLICT (graph_id) DO NOTHING`,
		id, graphID, int64(monthlyAllocation), int64(monthlyAllocation), string(tier), storageLimitGB,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	return s.GetPool(ctx, graphID)
}

// GetPool retrieves the GraphCreditPool for graphID.
func (s *Store) GetPool(ctx context.Context, graphID string) (*gateway.GraphCreditPool, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, graph_id, monthly_allocation, current_balance, graph_tier,
		 storage_limit_gb, storage_override_gb, last_allocation_at
		 FROM graph_credit_pools WHERE graph_id = ?`, graphID)
	return scanGraphPool(row)
}

// DecrementBalance performs the atomic compare-and-decrement.
func (s *Store) DecrementBalance(ctx context.Context, graphID string, cost gateway.Credits) (storage.DecrementResult, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return storage.DecrementResult{}, err
	}
	defer tx.Rollback()

	var oldBalance int64
	err = tx.QueryRowContext(ctx, `SELECT current_balance FROM graph_credit_pools WHERE graph_id = ?`, graphID).Scan(&oldBalance)
	if err != nil {
		return storage.DecrementResult{}, notFoundErr(err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE graph_credit_pools SET current_balance = current_balance - ?
		 WHERE graph_id = ? AND current_balance >= ?`,
		int64(cost), graphID, int64(cost),
	)
	if err != nil {
		return storage.DecrementResult{}, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storage.DecrementResult{}, err
	}
	if n == 0 {
		return storage.DecrementResult{Applied: false, OldBalance: gateway.Credits(oldBalance), NewBalance: gateway.Credits(oldBalance)}, tx.Commit()
	}

	newBalance := oldBalance - int64(cost)
	if err := tx.Commit(); err != nil {
		return storage.DecrementResult{}, err
	}
	return storage.DecrementResult{Applied: true, OldBalance: gateway.Credits(oldBalance), NewBalance: gateway.Credits(newBalance)}, nil
}

// AdjustBalance applies a signed delta unconditionally, capped at cap.
func (s *Store) AdjustBalance(ctx context.Context, graphID string, delta gateway.Credits, cap gateway.Credits) (storage.DecrementResult, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return storage.DecrementResult{}, err
	}
	defer tx.Rollback()

	var oldBalance int64
	err = tx.QueryRowContext(ctx, `SELECT current_balance FROM graph_credit_pools WHERE graph_id = ?`, graphID).Scan(&oldBalance)
	if err != nil {
		return storage.DecrementResult{}, notFoundErr(err)
	}

	newBalance := oldBalance + int64(delta)
	if cap > 0 && gateway.Credits(newBalance) > cap {
		newBalance = int64(cap)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx,
		`UPDATE graph_credit_pools SET current_balance = ?, last_allocation_at = ? WHERE graph_id = ?`,
		newBalance, now, graphID,
	)
	if err != nil {
		return storage.DecrementResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.DecrementResult{}, err
	}
	return storage.DecrementResult{Applied: true, OldBalance: gateway.Credits(oldBalance), NewBalance: gateway.Credits(newBalance)}, nil
}

func scanGraphPool(row scanner) (*gateway.GraphCreditPool, error) {
	var p gateway.GraphCreditPool
	var tier string
	var storageOverride sql.NullFloat64
	var lastAllocation sql.NullString
	var monthlyAllocation, currentBalance int64

	err := row.Scan(&p.ID, &p.GraphID, &monthlyAllocation, &currentBalance, &tier,
		&p.StorageLimitGB, &storageOverride, &lastAllocation)
	if err != nil {
		return nil, notFoundErr(err)
	}
	p.MonthlyAllocation = gateway.Credits(monthlyAllocation)
	p.CurrentBalance = gateway.Credits(currentBalance)
	p.GraphTier = gateway.GraphTier(tier)
	if storageOverride.Valid {
		p.StorageOverrideGB = &storageOverride.Float64
	}
	if t := parseTime(lastAllocation); t != nil {
		p.LastAllocationAt = *t
	}
	return &p, nil
}
