package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	gateway "github.com/cyphergate/cyphergate/internal"
)

// handleSchemaInfo serves GET /v1/graphs/{graph_id}/schema/info: runtime
// introspection of node labels, relationship types, and sampled properties.
func (s *server) handleSchemaInfo(w http.ResponseWriter, r *http.Request) {
	identity := gateway.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, gateway.ErrUnauthorized)
		return
	}

	gid := gateway.ParseGraphID(chi.URLParam(r, "graph_id"))
	if gid.IsSharedRepo {
		if !identity.Can(gateway.PermRunSharedQuery) {
			writeError(w, gateway.ErrAccessDenied)
			return
		}
	} else if !identity.HasAccess(gid.Parent) {
		writeError(w, gateway.ErrAccessDenied)
		return
	}

	info, err := s.deps.Repository.GetSchemaInfo(r.Context(), gid.Raw)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", gateway.ErrRepository, err))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// extractValidateQuery parses the request with gjson instead of encoding/json: callers
// send either {"query": "..."} or {"cypher": "..."}, and some send the
// query under a nested "schema" object depending on client generation —
// gjson lets us accept the loosely-typed shapes without a strict struct.
func extractValidateQuery(body []byte) (string, bool) {
	for _, path := range []string{"query", "cypher", "schema.query"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String(), true
		}
	}
	return "", false
}

// handleSchemaValidate serves POST /v1/graphs/{graph_id}/schema/validate: a
// dry-run check of a query's structure, types, and references against the
// graph's live schema, without executing it.
func (s *server) handleSchemaValidate(w http.ResponseWriter, r *http.Request) {
	identity := gateway.IdentityFromContext(r.Context())
	if identity == nil {
		writeError(w, gateway.ErrUnauthorized)
		return
	}

	gid := gateway.ParseGraphID(chi.URLParam(r, "graph_id"))
	if gid.IsSharedRepo {
		if !identity.Can(gateway.PermRunSharedQuery) {
			writeError(w, gateway.ErrAccessDenied)
			return
		}
	} else if !identity.HasAccess(gid.Parent) {
		writeError(w, gateway.ErrAccessDenied)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if !gjson.ValidBytes(body) {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	query, ok := extractValidateQuery(body)
	if !ok || query == "" {
		writeError(w, fmt.Errorf("%w: query is required", gateway.ErrBadRequest))
		return
	}

	result, err := s.deps.Repository.ValidateSchema(r.Context(), gid.Raw, query)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", gateway.ErrRepository, err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}
