// Package creditcache implements the write-through cache of per-graph
// credit balances, per-operation costs, and credit summaries that sits in
// front of the external KV store. It layers an in-process otter cache as a
// hot-path L1 over the shared KV store, and tolerates the KV store being
// unavailable: every method degrades to "miss" or "no-op" rather than
// failing the caller.
package creditcache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/maypok86/otter/v2"

	gateway "github.com/cyphergate/cyphergate/internal"
)

const (
	balanceTTL = 10 * time.Second
	costTTL    = 10 * time.Minute
	summaryTTL = time.Minute

	l1Size = 10_000
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Cache is the write-through credit cache.
type Cache struct {
	kv gateway.KVStore
	l1 *otter.Cache[string, entry]
}

// New constructs a Cache over kv. kv may be nil, in which case the cache
// operates purely as an in-process L1 (used by tests and single-node
// deployments without a shared KV store).
func New(kv gateway.KVStore) (*Cache, error) {
	l1, err := otter.New[string, entry](&otter.Options[string, entry]{
		MaximumSize:      l1Size,
		ExpiryCalculator: otter.ExpiryWriting[string, entry](summaryTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create credit cache L1: %w", err)
	}
	return &Cache{kv: kv, l1: l1}, nil
}

func balanceKey(parentGraphID string) string { return "graph_credit:" + parentGraphID }
func summaryKey(parentGraphID string) string { return "credit_summary:" + parentGraphID }
func costKey(opType gateway.OperationType) string { return "op_cost:" + string(opType) }

// GetBalance returns the cached balance for a parent graph, or a miss.
func (c *Cache) GetBalance(ctx context.Context, parentGraphID string) (gateway.Credits, bool) {
	return c.getCredits(ctx, balanceKey(parentGraphID))
}

// SetBalance write-throughs a fresh balance value with the short TTL.
func (c *Cache) SetBalance(ctx context.Context, parentGraphID string, balance gateway.Credits) {
	c.set(ctx, balanceKey(parentGraphID), strconv.FormatInt(int64(balance), 10), balanceTTL)
}

// InvalidateBalance drops any cached balance for parentGraphID. Subgraphs
// must invalidate through their parent id so the same key is affected
// regardless of which graph id the caller used.
func (c *Cache) InvalidateBalance(ctx context.Context, parentGraphID string) {
	c.delete(ctx, balanceKey(parentGraphID))
}

// GetCost returns the cached base cost for an operation type, or a miss.
func (c *Cache) GetCost(ctx context.Context, opType gateway.OperationType) (gateway.Credits, bool) {
	return c.getCredits(ctx, costKey(opType))
}

// SetCost write-throughs an operation cost with the long TTL.
func (c *Cache) SetCost(ctx context.Context, opType gateway.OperationType, cost gateway.Credits) {
	c.set(ctx, costKey(opType), strconv.FormatInt(int64(cost), 10), costTTL)
}

// GetSummary returns a cached, pre-serialized credit summary payload.
func (c *Cache) GetSummary(ctx context.Context, parentGraphID string) (string, bool) {
	return c.get(ctx, summaryKey(parentGraphID))
}

// SetSummary write-throughs a serialized credit summary with the medium TTL.
func (c *Cache) SetSummary(ctx context.Context, parentGraphID, payload string) {
	c.set(ctx, summaryKey(parentGraphID), payload, summaryTTL)
}

// InvalidateSummary drops any cached summary for parentGraphID.
func (c *Cache) InvalidateSummary(ctx context.Context, parentGraphID string) {
	c.delete(ctx, summaryKey(parentGraphID))
}

// UpdateBalanceAfterConsumption is an optimization hint: it refreshes the
// cached balance to the post-mutation value if (and only if) a cached value
// already exists, avoiding a needless write for graphs nobody is reading.
func (c *Cache) UpdateBalanceAfterConsumption(ctx context.Context, parentGraphID string, newBalance gateway.Credits) {
	if _, ok := c.GetBalance(ctx, parentGraphID); !ok {
		return
	}
	c.SetBalance(ctx, parentGraphID, newBalance)
}

func (c *Cache) getCredits(ctx context.Context, key string) (gateway.Credits, bool) {
	s, ok := c.get(ctx, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return gateway.Credits(n), true
}

func (c *Cache) get(ctx context.Context, key string) (string, bool) {
	if e, ok := c.l1.GetIfPresent(key); ok {
		if time.Now().Before(e.expiresAt) {
			return e.value, true
		}
		c.l1.Invalidate(key)
	}
	if c.kv == nil {
		return "", false
	}
	v, ok, err := c.kv.Get(ctx, key)
	if err != nil || !ok {
		return "", false
	}
	return v, true
}

func (c *Cache) set(ctx context.Context, key, value string, ttl time.Duration) {
	c.l1.Set(key, entry{value: value, expiresAt: time.Now().Add(ttl)})
	if c.kv == nil {
		return
	}
	_ = c.kv.Set(ctx, key, value, ttl)
}

func (c *Cache) delete(ctx context.Context, key string) {
	c.l1.Invalidate(key)
	if c.kv == nil {
		return
	}
	_ = c.kv.Delete(ctx, key)
}
