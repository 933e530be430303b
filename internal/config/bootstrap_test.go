package config

import (
	"context"
	"testing"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	path := t.TempDir() + "/test.db"
	s, err := sqlite.New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBootstrap(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cfg := &Config{
		Graphs: []GraphEntry{
			{GraphID: "kg1", Tier: "standard", MonthlyAllocation: 1000, StorageLimitGB: 10},
		},
	}

	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("bootstrap:", err)
	}

	pool, err := store.GetPool(ctx, "kg1")
	if err != nil {
		t.Fatal("get pool:", err)
	}
	if pool.GraphTier != gateway.TierStandard {
		t.Errorf("tier = %q, want %q", pool.GraphTier, gateway.TierStandard)
	}
	if pool.CurrentBalance != gateway.CreditsFromFloat(1000) {
		t.Errorf("balance = %v, want 1000", pool.CurrentBalance)
	}

	// Second call is idempotent: balance is untouched, not re-seeded.
	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("idempotent bootstrap:", err)
	}
	pool2, err := store.GetPool(ctx, "kg1")
	if err != nil {
		t.Fatal("get pool:", err)
	}
	if pool2.CurrentBalance != pool.CurrentBalance {
		t.Errorf("balance changed across idempotent bootstrap: %v -> %v", pool.CurrentBalance, pool2.CurrentBalance)
	}
}

func TestBootstrapDefaultsTier(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	cfg := &Config{
		Graphs: []GraphEntry{{GraphID: "kg2"}},
	}

	if err := Bootstrap(ctx, cfg, store); err != nil {
		t.Fatal("bootstrap:", err)
	}

	pool, err := store.GetPool(ctx, "kg2")
	if err != nil {
		t.Fatal("get pool:", err)
	}
	if pool.GraphTier != gateway.TierStandard {
		t.Errorf("tier = %q, want default %q", pool.GraphTier, gateway.TierStandard)
	}
}

func TestBuildSharedRepoCostTable(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		SharedRepositories: []SharedRepoEntry{
			{Name: "sec", Costs: map[string]float64{"direct_query": 2.5}},
		},
	}

	table := BuildSharedRepoCostTable(cfg)
	costs, ok := table["sec"]
	if !ok {
		t.Fatal("expected sec entry in cost table")
	}
	if costs[gateway.OperationType("direct_query")] != gateway.CreditsFromFloat(2.5) {
		t.Errorf("direct_query cost = %v, want 2.5", costs[gateway.OperationType("direct_query")])
	}
}
