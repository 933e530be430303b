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

// EnsureRepoPool idempotently creates a RepositoryCreditPool for (userID, repositoryName).
func (s *Store) EnsureRepoPool(ctx context.Context, userID, repositoryName string) (*gateway.RepositoryCreditPool, error) {
	if existing, err := s.GetRepoPool(ctx, userID, repositoryName); err == nil {
		return existing, nil
	} else if !errors.Is(err, gateway.ErrNotFound) {
		return nil, err
	}

	id := uuid.Must(uuid.NewV7()).String()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO repository_credit_pools (id, user_id, repository_name, current_balance, last_allocation_at, created_at)
		 VALUES (?, ?, ?, 0, ?, ?)
		 ON CONFLICT (user_id, repository_name) DO NOTHING`,
		id, userID, repositoryName, now, now,
	)
	if err != nil {
		return nil, err
	}
	return s.GetRepoPool(ctx, userID, repositoryName)
}

// GetRepoPool retrieves the RepositoryCreditPool for (userID, repositoryName).
func (s *Store) GetRepoPool(ctx context.Context, userID, repositoryName string) (*gateway.RepositoryCreditPool, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, repository_name, current_balance, last_allocation_at
		 FROM repository_credit_pools WHERE user_id = ? AND repository_name = ?`,
		userID, repositoryName)
	return scanRepoPool(row)
}

// DecrementRepoBalance performs the atomic compare-and-decrement for a repository pool.
func (s *Store) DecrementRepoBalance(ctx context.Context, userID, repositoryName string, cost gateway.Credits) (storage.DecrementResult, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return storage.DecrementResult{}, err
	}
	defer tx.Rollback()

	var oldBalance int64
	err = tx.QueryRowContext(ctx,
		`SELECT current_balance FROM repository_credit_pools WHERE user_id = ? AND repository_name = ?`,
		userID, repositoryName).Scan(&oldBalance)
	if err != nil {
		return storage.DecrementResult{}, notFoundErr(err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE repository_credit_pools SET current_balance = current_balance - ?
		 WHERE user_id = ? AND repository_name = ? AND current_balance >= ?`,
		int64(cost), userID, repositoryName, int64(cost),
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

// AdjustRepoBalance applies a signed delta to a repository pool unconditionally.
func (s *Store) AdjustRepoBalance(ctx context.Context, userID, repositoryName string, delta gateway.Credits) (storage.DecrementResult, error) {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return storage.DecrementResult{}, err
	}
	defer tx.Rollback()

	var oldBalance int64
	err = tx.QueryRowContext(ctx,
		`SELECT current_balance FROM repository_credit_pools WHERE user_id = ? AND repository_name = ?`,
		userID, repositoryName).Scan(&oldBalance)
	if err != nil {
		return storage.DecrementResult{}, notFoundErr(err)
	}

	newBalance := oldBalance + int64(delta)
	_, err = tx.ExecContext(ctx,
		`UPDATE repository_credit_pools SET current_balance = ? WHERE user_id = ? AND repository_name = ?`,
		newBalance, userID, repositoryName,
	)
	if err != nil {
		return storage.DecrementResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.DecrementResult{}, err
	}
	return storage.DecrementResult{Applied: true, OldBalance: gateway.Credits(oldBalance), NewBalance: gateway.Credits(newBalance)}, nil
}

func scanRepoPool(row scanner) (*gateway.RepositoryCreditPool, error) {
	var p gateway.RepositoryCreditPool
	var balance int64
	var lastAllocation sql.NullString
	err := row.Scan(&p.ID, &p.UserID, &p.RepositoryName, &balance, &lastAllocation)
	if err != nil {
		return nil, notFoundErr(err)
	}
	p.CurrentBalance = gateway.Credits(balance)
	if t := parseTime(lastAllocation); t != nil {
		p.LastAllocationAt = *t
	}
	return &p, nil
}
