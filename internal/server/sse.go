package server

import "net/http"

// Pre-allocated header value slices for streaming responses. Direct map
// assignment avoids the []string{v} alloc that Header.Set creates.
var (
	sseContentType  = []string{"text/event-stream"}
	sseCacheControl = []string{"no-cache"}
	sseConnection   = []string{"keep-alive"}
	sseAccelBuf     = []string{"no"}

	ndjsonContentType = []string{"application/x-ndjson"}
)

// writeSSEHeaders sets the response headers for an SSE stream and flushes
// the status line so the client sees the connection open immediately.
func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h["Content-Type"] = sseContentType
	h["Cache-Control"] = sseCacheControl
	h["Connection"] = sseConnection
	h["X-Accel-Buffering"] = sseAccelBuf
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// writeNDJSONHeaders sets the response headers for an NDJSON stream.
func writeNDJSONHeaders(w http.ResponseWriter) {
	w.Header()["Content-Type"] = ndjsonContentType
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// flusherFunc adapts an http.ResponseWriter's optional Flush method into the
// streaming.SSEWriter's flush callback shape.
func flusherFunc(w http.ResponseWriter) func() {
	f, ok := w.(http.Flusher)
	if !ok {
		return func() {}
	}
	return f.Flush
}
