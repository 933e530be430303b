package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// --- Repository (the graph-database collaborator) ---

// Repository is the interface an execution backend must implement. Graph
// storage, Cypher execution, and schema introspection are external
// collaborators: this gateway never parses or executes Cypher itself.
type Repository interface {
	// ExecuteQuery runs cypher against graphID and returns the full result.
	ExecuteQuery(ctx context.Context, graphID, cypher string, params map[string]any) (*QueryResult, error)
	// GetSchemaInfo returns labels, relationship types, and property keys for graphID.
	GetSchemaInfo(ctx context.Context, graphID string) (*SchemaInfo, error)
	// ValidateSchema checks cypher against graphID's schema without executing it.
	ValidateSchema(ctx context.Context, graphID, cypher string) (*SchemaValidation, error)
}

// StreamingRepository is an optional capability a Repository may implement to
// stream rows incrementally instead of buffering the full result. It is kept
// separate from Repository so repositories that can't stream need no stub
// implementation. The server does not check for it: every query path calls
// Repository.ExecuteQuery.
type StreamingRepository interface {
	ExecuteQueryStreaming(ctx context.Context, graphID, cypher string, params map[string]any, rows chan<- map[string]any) (*QueryResult, error)
}

// SchemaInfo describes the labels, relationship types, and property keys
// available on a graph.
type SchemaInfo struct {
	Labels            []string            `json:"labels"`
	RelationshipTypes []string            `json:"relationship_types"`
	PropertyKeys      []string            `json:"property_keys"`
	NodeCount         int64               `json:"node_count,omitempty"`
	RelationshipCount int64               `json:"relationship_count,omitempty"`
	Constraints       map[string][]string `json:"constraints,omitempty"`
}

// SchemaValidation is the outcome of a dry-run schema check.
type SchemaValidation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// --- KVStore (the cache/eventbus backing collaborator) ---

// KVStore is the interface the write-through cache and operation bus use for
// shared state. A real deployment backs this with Redis or similar; tests use
// an in-process fake. Modeled on the shape a cache layer needs, not on any
// one backend's client API.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Append adds value to a capped list at key, trimming to maxLen entries.
	Append(ctx context.Context, key, value string, maxLen int) error
	// Range returns up to limit entries from the list at key, newest first.
	Range(ctx context.Context, key string, limit int) ([]string, error)
}

// --- Multi-tenant identity ---

// Identity is the authenticated caller context attached to request context.
type Identity struct {
	Subject    string     `json:"subject"`
	UserID     string     `json:"user_id"`
	OrgID      string     `json:"org_id"`
	Role       string     `json:"role"` // "admin", "member", "viewer", "service_account"
	Perms      Permission `json:"-"`
	AuthMethod string     `json:"auth_method"` // "jwt" or "apikey"
	// AccessibleGraphs is nil for admins (all graphs) or an explicit allow-list.
	AccessibleGraphs []string `json:"accessible_graphs,omitempty"`
}

// Permission is a bitmask representing authorization capabilities.
type Permission uint32

const (
	PermRunQuery        Permission = 1 << iota // submit queries against own graphs
	PermRunSharedQuery                         // submit queries against shared repositories
	PermViewOwnCredits                         // view own credit balance/transactions
	PermViewAllCredits                         // view any graph's credit balance/transactions
	PermManageCredits                          // allocate/adjust credit pools
	PermManageGraphs                           // create/configure graphs
	PermAdmin                                  // full administrative access
)

// Can reports whether the identity has the given permission.
func (id *Identity) Can(p Permission) bool { return id.Perms&p == p }

// RolePermissions maps role names to their permission bitmasks.
var RolePermissions = map[string]Permission{
	"admin":           PermRunQuery | PermRunSharedQuery | PermViewOwnCredits | PermViewAllCredits | PermManageCredits | PermManageGraphs | PermAdmin,
	"member":          PermRunQuery | PermRunSharedQuery | PermViewOwnCredits,
	"viewer":          PermViewOwnCredits,
	"service_account": PermRunQuery | PermRunSharedQuery | PermViewOwnCredits,
}

// HasAccess reports whether the identity may operate on the given parent
// graph id. Shared repositories are governed by PermRunSharedQuery instead.
func (id *Identity) HasAccess(parentGraphID string) bool {
	if id.AccessibleGraphs == nil {
		return true
	}
	for _, g := range id.AccessibleGraphs {
		if g == parentGraphID {
			return true
		}
	}
	return false
}

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// APIKeyPrefix identifies a cyphergate-issued API key on the wire, so a
// malformed or foreign bearer token is rejected before any hashing or
// lookup work.
const APIKeyPrefix = "cg_"

// HashKey returns the stored/comparison form of a raw API key. Keys are
// never persisted or logged in raw form.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if
// present, avoiding a new context.WithValue allocation.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.RequestID = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}
