package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
)

// bodyPool reuses buffers for request body reads, avoiding per-request
// allocations from json.NewDecoder (which cannot be pooled/reset).
var bodyPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// maxRequestBody is the maximum allowed request body size (4 MB).
const maxRequestBody = 4 << 20

// decodeRequestBody reads the request body via bodyPool, unmarshals JSON
// into v, and returns false (writing a 400) on error. Parse errors are
// logged server-side; clients receive a static message to avoid leaking
// internals.
func decodeRequestBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	if _, err := buf.ReadFrom(r.Body); err != nil {
		bodyPool.Put(buf)
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	if err := json.Unmarshal(buf.Bytes(), v); err != nil {
		bodyPool.Put(buf)
		slog.LogAttrs(r.Context(), slog.LevelWarn, "request decode error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	bodyPool.Put(buf)
	return true
}
