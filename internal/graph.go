// Package gateway defines the domain types and collaborator interfaces for
// the CypherGate multi-tenant graph-database query gateway. This package has
// no project imports -- it is the dependency root all other packages build
// on.
package gateway

import "strings"

// SharedRepositories is the closed set of multi-tenant shared datasets.
// Only ids in this set are treated as shared repositories; ParseGraphID
// treats any other id as a parent graph or subgraph and never rejects it.
var SharedRepositories = map[string]bool{
	"sec":        true,
	"industry":   true,
	"economic":   true,
	"market":     true,
	"esg":        true,
	"regulatory": true,
}

// GraphID is an opaque graph identifier. It may name a parent graph
// ("kg<ulid>"), a subgraph ("<parent>_<suffix>"), or a shared repository
// from SharedRepositories.
type GraphID struct {
	Raw             string
	Parent          string
	SubgraphSuffix  string // empty if Raw is a parent or shared repository
	IsSharedRepo    bool
}

// ParseGraphID classifies and decomposes a raw graph identifier. Subgraphs
// route all credit/cache operations to Parent.
func ParseGraphID(raw string) GraphID {
	if SharedRepositories[raw] {
		return GraphID{Raw: raw, Parent: raw, IsSharedRepo: true}
	}
	if strings.HasPrefix(raw, "kg") && !strings.Contains(raw, "_") {
		return GraphID{Raw: raw, Parent: raw}
	}
	if idx := strings.IndexByte(raw, '_'); idx > 0 {
		parent := raw[:idx]
		suffix := raw[idx+1:]
		return GraphID{Raw: raw, Parent: parent, SubgraphSuffix: suffix}
	}
	// No recognizable separator: treat the whole id as its own parent.
	return GraphID{Raw: raw, Parent: raw}
}

// IsSubgraph reports whether this id names a child of a parent graph.
func (g GraphID) IsSubgraph() bool { return g.SubgraphSuffix != "" }
