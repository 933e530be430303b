package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/storage"
)

// InsertTransaction inserts tx. A unique-constraint violation on
// idempotency_key means a concurrent caller already applied this exact
// operation; the existing row is returned instead of an error, with isNew
// false so the caller can undo its own balance adjustment.
func (s *Store) InsertTransaction(ctx context.Context, tx *gateway.CreditTransaction) (*gateway.CreditTransaction, bool, error) {
	if tx.ID == "" {
		tx.ID = uuid.Must(uuid.NewV7()).String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	metadata, err := marshalMetadata(tx.Metadata)
	if err != nil {
		return nil, false, err
	}

	_, err = s.write.ExecContext(ctx,
		`INSERT INTO credit_transactions
		 (id, pool_id, graph_id, user_id, type, amount, description, metadata, idempotency_key, request_id, operation_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.PoolID, tx.GraphID, nullStr(tx.UserID), string(tx.Type), int64(tx.Amount),
		tx.Description, metadata, nullIdempotencyKey(tx.IdempotencyKey), nullStr(tx.RequestID),
		nullStr(tx.OperationID), tx.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) && tx.IdempotencyKey != "" {
			existing, getErr := s.GetTransactionByIdempotencyKey(ctx, tx.IdempotencyKey)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return tx, true, nil
}

// GetTransactionByIdempotencyKey looks up a transaction by its idempotency key.
func (s *Store) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*gateway.CreditTransaction, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, pool_id, graph_id, user_id, type, amount, description, metadata,
		 idempotency_key, request_id, operation_id, created_at
		 FROM credit_transactions WHERE idempotency_key = ?`, key)
	return scanTransaction(row)
}

// ListTransactions returns transactions for graphID matching filter.
func (s *Store) ListTransactions(ctx context.Context, graphID string, filter storage.TransactionFilter) ([]*gateway.CreditTransaction, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, pool_id, graph_id, user_id, type, amount, description, metadata,
		 idempotency_key, request_id, operation_id, created_at
		 FROM credit_transactions WHERE graph_id = ?`)
	args := []any{graphID}

	if filter.Type != "" {
		query.WriteString(" AND type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Start != nil {
		query.WriteString(" AND created_at >= ?")
		args = append(args, filter.Start.UTC().Format(time.RFC3339))
	}
	if filter.End != nil {
		query.WriteString(" AND created_at <= ?")
		args = append(args, filter.End.UTC().Format(time.RFC3339))
	}
	query.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, filter.Offset)

	rows, err := s.read.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*gateway.CreditTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		if filter.OpType != "" {
			if opType, _ := tx.Metadata["operation_type"].(string); opType != string(filter.OpType) {
				continue
			}
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row scanner) (*gateway.CreditTransaction, error) {
	var tx gateway.CreditTransaction
	var userID, idempotencyKey, requestID, operationID sql.NullString
	var metadata sql.NullString
	var txType string
	var amount int64
	var createdAt string

	err := row.Scan(&tx.ID, &tx.PoolID, &tx.GraphID, &userID, &txType, &amount, &tx.Description,
		&metadata, &idempotencyKey, &requestID, &operationID, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	tx.UserID = userID.String
	tx.Type = gateway.TransactionType(txType)
	tx.Amount = gateway.Credits(amount)
	tx.IdempotencyKey = idempotencyKey.String
	tx.RequestID = requestID.String
	tx.OperationID = operationID.String
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		tx.CreatedAt = t
	}
	m, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}
	tx.Metadata = m
	return &tx, nil
}

func nullIdempotencyKey(key string) sql.NullString {
	if key == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: key, Valid: true}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
