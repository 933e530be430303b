package config

import (
	"context"
	"log/slog"

	gateway "github.com/cyphergate/cyphergate/internal"
	"github.com/cyphergate/cyphergate/internal/credit"
	"github.com/cyphergate/cyphergate/internal/storage"
)

// Bootstrap seeds a fresh database from the loaded configuration: a credit
// pool per configured graph, idempotently (EnsurePool is a no-op if the
// pool already exists).
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	for _, g := range cfg.Graphs {
		tier := gateway.GraphTier(g.Tier)
		if tier == "" {
			tier = gateway.TierStandard
		}
		pool, err := store.EnsurePool(ctx, g.GraphID, tier, gateway.CreditsFromFloat(g.MonthlyAllocation), g.StorageLimitGB)
		if err != nil {
			return err
		}
		slog.Info("bootstrapped graph credit pool",
			"graph_id", g.GraphID,
			"tier", pool.GraphTier,
			"monthly_allocation", g.MonthlyAllocation,
		)
	}
	return nil
}

// BuildSharedRepoCostTable converts the configured shared-repository cost
// overrides into the runtime table the credit service consults.
func BuildSharedRepoCostTable(cfg *Config) credit.SharedRepoCostTable {
	table := make(credit.SharedRepoCostTable, len(cfg.SharedRepositories))
	for _, repo := range cfg.SharedRepositories {
		costs := make(map[gateway.OperationType]gateway.Credits, len(repo.Costs))
		for opName, cost := range repo.Costs {
			costs[gateway.OperationType(opName)] = gateway.CreditsFromFloat(cost)
		}
		table[repo.Name] = costs
	}
	return table
}
