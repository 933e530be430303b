// Package clientdetect parses HTTP request headers into the capability and
// preference flags the StrategySelector consumes.
package clientdetect

import (
	"net/http"
	"strconv"
	"strings"

	gateway "github.com/cyphergate/cyphergate/internal"
)

var testingToolTokens = []string{"postman", "insomnia", "swagger", "openapi", "curl", "httpie"}
var browserTokens = []string{"mozilla", "chrome", "safari", "firefox", "edge"}

// Detect derives ClientCapabilities from an incoming request's headers.
func Detect(h http.Header) gateway.ClientCapabilities {
	accept := strings.ToLower(h.Get("Accept"))
	ua := strings.ToLower(h.Get("User-Agent"))
	referer := strings.ToLower(h.Get("Referer"))
	prefer := strings.ToLower(h.Get("Prefer"))

	c := gateway.ClientCapabilities{
		SupportsSSE:    strings.Contains(accept, "text/event-stream"),
		SupportsNDJSON: strings.Contains(accept, "application/x-ndjson") || strings.Contains(accept, "application/stream+json"),
		IsTestingTool:  containsAny(ua, testingToolTokens),
		IsBrowser:      containsAny(ua, browserTokens),
	}
	c.IsInteractive = c.IsTestingTool || (c.IsBrowser && strings.Contains(referer, "swagger"))

	if prefer != "" {
		c.PreferStream = strings.Contains(prefer, "stream")
		c.PreferAsync = strings.Contains(prefer, "respond-async")
		if idx := strings.Index(prefer, "wait="); idx >= 0 {
			rest := prefer[idx+len("wait="):]
			end := strings.IndexAny(rest, "; ,")
			if end < 0 {
				end = len(rest)
			}
			if n, err := strconv.Atoi(strings.TrimSpace(rest[:end])); err == nil {
				c.PreferWaitSeconds = &n
			}
		}
	}
	return c
}

func containsAny(haystack string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}
