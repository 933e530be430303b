// Package auth implements API key authentication for the cyphergate
// gateway. Credential issuance and rotation are external-collaborator
// concerns; this package only validates bearer tokens against a statically
// provisioned table built at startup from configuration.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	gateway "github.com/cyphergate/cyphergate/internal"
)

// KeyEntry is one statically provisioned API key, resolved to its identity.
type KeyEntry struct {
	Name             string
	Role             string
	OrgID            string
	AccessibleGraphs []string
}

// StaticAPIKeyAuth authenticates requests using API keys with the "cg_"
// prefix, validated against an in-memory table of hashed keys.
type StaticAPIKeyAuth struct {
	byHash map[string]KeyEntry
}

// NewStaticAPIKeyAuth builds a StaticAPIKeyAuth from raw (not yet hashed)
// keys mapped to their entries. Raw key material is hashed immediately and
// discarded.
func NewStaticAPIKeyAuth(keys map[string]KeyEntry) *StaticAPIKeyAuth {
	byHash := make(map[string]KeyEntry, len(keys))
	for raw, entry := range keys {
		byHash[gateway.HashKey(raw)] = entry
	}
	return &StaticAPIKeyAuth{byHash: byHash}
}

// Authenticate extracts a Bearer token from the Authorization header,
// validates its prefix and hash against the provisioned table, and returns
// the caller's Identity.
func (a *StaticAPIKeyAuth) Authenticate(_ context.Context, r *http.Request) (*gateway.Identity, error) {
	header := r.Header.Get("Authorization")
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" || raw == header {
		return nil, gateway.ErrUnauthorized
	}
	if !strings.HasPrefix(raw, gateway.APIKeyPrefix) {
		return nil, gateway.ErrUnauthorized
	}

	hash := gateway.HashKey(raw)
	entry, ok := a.byHash[hash]
	if !ok {
		return nil, gateway.ErrUnauthorized
	}
	// Belt-and-suspenders: the map lookup already matched on the hash, but
	// guard against any future change to hash equality semantics.
	if subtle.ConstantTimeCompare([]byte(gateway.HashKey(raw)), []byte(hash)) != 1 {
		return nil, gateway.ErrUnauthorized
	}
	return buildIdentity(entry), nil
}

func buildIdentity(entry KeyEntry) *gateway.Identity {
	role := entry.Role
	if role == "" {
		role = "member"
	}
	return &gateway.Identity{
		Subject:          entry.Name,
		UserID:           entry.Name,
		OrgID:            entry.OrgID,
		Role:             role,
		Perms:            gateway.RolePermissions[role],
		AuthMethod:       "apikey",
		AccessibleGraphs: entry.AccessibleGraphs,
	}
}
