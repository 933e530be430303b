package gateway

import (
	"fmt"
	"math"
	"time"
)

// Credits is a fixed-point decimal quantity of work units, stored as
// micro-credits (1e-6 credit) in an int64. Credit and money quantities are
// never represented as binary floats: all arithmetic on Credits is integer
// arithmetic, and the only floating-point conversion is a single
// round-to-nearest-micro-credit step at the boundary where a configured
// rate (itself a float64 read from YAML) is applied.
type Credits int64

// CreditScale is the number of Credits units per whole credit.
const CreditScale = 1_000_000

// MaxBalance is the maximum balance a GraphCreditPool may hold.
const MaxBalance Credits = 99_999_999_99 * (CreditScale / 100)

// CreditsFromFloat converts a decimal float (e.g. a YAML-configured price)
// into Credits, rounding to the nearest micro-credit.
func CreditsFromFloat(f float64) Credits {
	return Credits(math.Round(f * CreditScale))
}

// Float64 returns the decimal value as a float64, for display/JSON only.
func (c Credits) Float64() float64 {
	return float64(c) / CreditScale
}

// String renders Credits as a fixed 2-decimal-place string for logs and APIs.
func (c Credits) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / CreditScale
	cents := ((v % CreditScale) * 100) / CreditScale
	return fmt.Sprintf("%s%d.%02d", sign, whole, cents)
}

// CeilToMinimum rounds c up to min if c is smaller than min (used for AI
// token pricing floors).
func (c Credits) CeilToMinimum(min Credits) Credits {
	if c < min {
		return min
	}
	return c
}

// TransactionType is the closed set of CreditTransaction kinds.
type TransactionType string

const (
	TxAllocation  TransactionType = "allocation"
	TxConsumption TransactionType = "consumption"
	TxBonus       TransactionType = "bonus"
	TxRefund      TransactionType = "refund"
	TxExpiration  TransactionType = "expiration"
)

// GraphTier names a billing tier for a parent graph.
type GraphTier string

const (
	TierFree       GraphTier = "free"
	TierStandard   GraphTier = "standard"
	TierEnterprise GraphTier = "enterprise"
	TierPremium    GraphTier = "premium"
)

// GraphCreditPool is the per-parent-graph credit balance.
type GraphCreditPool struct {
	ID                string
	GraphID           string // always a parent id, never a subgraph
	MonthlyAllocation Credits
	CurrentBalance    Credits
	GraphTier         GraphTier
	StorageLimitGB    float64
	StorageOverrideGB *float64
	LastAllocationAt  time.Time
}

// RepositoryCreditPool is the per-(user, shared repository) credit balance.
type RepositoryCreditPool struct {
	ID             string
	UserID         string
	RepositoryName string
	CurrentBalance Credits
	LastAllocationAt time.Time
}

// TransactionMetadata is an open extension bag for CreditTransaction,
// carrying heterogeneous per-operation context (request id, query summary,
// tier at time of charge) without a rigid struct per operation type.
type TransactionMetadata map[string]any

// CreditTransaction is an immutable, append-only ledger entry.
type CreditTransaction struct {
	ID             string
	PoolID         string
	GraphID        string // the parent graph id the pool belongs to
	UserID         string
	Type           TransactionType
	Amount         Credits // signed; negative = consumption
	Description    string
	Metadata       TransactionMetadata
	IdempotencyKey string
	RequestID      string
	OperationID    string
	CreatedAt      time.Time
}

// OperationType is the closed set of billable operation kinds.
type OperationType string

const (
	OpAPICall        OperationType = "api_call"
	OpQuery          OperationType = "query"
	OpImport         OperationType = "import"
	OpBackup         OperationType = "backup"
	OpAnalytics      OperationType = "analytics"
	OpSync           OperationType = "sync"
	OpMCPCall        OperationType = "mcp_call"
	OpAgentCall      OperationType = "agent_call"
	OpAIAnalysis     OperationType = "ai_analysis"
	OpAITokens       OperationType = "ai_tokens" // dynamic priced
	OpStoragePerGBDay OperationType = "storage_per_gb_day"
)

// BaseOperationCosts are the closed-set base costs before any tier
// multiplier. ai_tokens is priced dynamically and is not in this table.
// mcp_call is left at 0 ("included") as the documented default; deployments
// that want to charge for it override the cost via configuration.
var BaseOperationCosts = map[OperationType]Credits{
	OpAPICall:         0,
	OpQuery:           0,
	OpImport:          0,
	OpBackup:          0,
	OpAnalytics:       0,
	OpSync:            0,
	OpMCPCall:         0,
	OpAgentCall:       CreditsFromFloat(100),
	OpAIAnalysis:      CreditsFromFloat(100),
	OpStoragePerGBDay: CreditsFromFloat(10),
}
