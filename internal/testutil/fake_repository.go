package testutil

import (
	"context"

	gateway "github.com/cyphergate/cyphergate/internal"
)

// FakeRepository is a configurable gateway.Repository for testing.
type FakeRepository struct {
	ExecuteFn  func(ctx context.Context, graphID, cypher string, params map[string]any) (*gateway.QueryResult, error)
	SchemaFn   func(ctx context.Context, graphID string) (*gateway.SchemaInfo, error)
	ValidateFn func(ctx context.Context, graphID, cypher string) (*gateway.SchemaValidation, error)
}

func (f *FakeRepository) ExecuteQuery(ctx context.Context, graphID, cypher string, params map[string]any) (*gateway.QueryResult, error) {
	if f.ExecuteFn != nil {
		return f.ExecuteFn(ctx, graphID, cypher, params)
	}
	return &gateway.QueryResult{Columns: []string{"n"}, Rows: []map[string]any{}, RowCount: 0}, nil
}

func (f *FakeRepository) GetSchemaInfo(ctx context.Context, graphID string) (*gateway.SchemaInfo, error) {
	if f.SchemaFn != nil {
		return f.SchemaFn(ctx, graphID)
	}
	return &gateway.SchemaInfo{}, nil
}

func (f *FakeRepository) ValidateSchema(ctx context.Context, graphID, cypher string) (*gateway.SchemaValidation, error) {
	if f.ValidateFn != nil {
		return f.ValidateFn(ctx, graphID, cypher)
	}
	return &gateway.SchemaValidation{Valid: true}, nil
}
