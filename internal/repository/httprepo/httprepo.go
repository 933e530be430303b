// Package httprepo implements a gateway.Repository adapter that delegates
// query execution, schema introspection, and schema validation to a remote
// graph-database HTTP service. It is the optional wiring used when no
// in-process graph engine is embedded: the gateway proxies to whatever
// service actually owns the graph data, the same way a provider adapter
// proxies to an upstream LLM API.
package httprepo

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"

	gateway "github.com/cyphergate/cyphergate/internal"
)

// Client is an HTTP-backed gateway.Repository. It also implements
// gateway.StreamingRepository by reading the upstream response body as
// newline-delimited JSON rows.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client pointed at baseURL. If resolver is non-nil, outbound
// connections use cached DNS lookups instead of resolving on every dial.
func New(baseURL string, resolver *dnscache.Resolver) *Client {
	baseURL = strings.TrimRight(baseURL, "/")

	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}

	return &Client{baseURL: baseURL, http: &http.Client{Transport: t}}
}

type queryRequest struct {
	GraphID    string         `json:"graph_id"`
	Cypher     string         `json:"cypher"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

type queryResponse struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// ExecuteQuery POSTs cypher to the upstream /query endpoint and returns the
// buffered result.
func (c *Client) ExecuteQuery(ctx context.Context, graphID, cypher string, params map[string]any) (*gateway.QueryResult, error) {
	body, err := json.Marshal(queryRequest{GraphID: graphID, Cypher: cypher, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("httprepo: marshal request: %w", err)
	}

	start := time.Now()
	resp, err := c.post(ctx, "/query", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", gateway.ErrRepository, err)
	}
	return &gateway.QueryResult{
		Columns:       qr.Columns,
		Rows:          qr.Rows,
		RowCount:      qr.RowCount,
		ExecutionTime: time.Since(start),
	}, nil
}

// ExecuteQueryStreaming POSTs cypher to the upstream /query/stream endpoint and
// decodes the response body as newline-delimited JSON rows, forwarding each
// row to rows as it arrives instead of buffering the full result set.
func (c *Client) ExecuteQueryStreaming(ctx context.Context, graphID, cypher string, params map[string]any, rows chan<- map[string]any) (*gateway.QueryResult, error) {
	body, err := json.Marshal(queryRequest{GraphID: graphID, Cypher: cypher, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("httprepo: marshal request: %w", err)
	}

	start := time.Now()
	resp, err := c.post(ctx, "/query/stream", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var columns []string
	if hdr := resp.Header.Get("X-Columns"); hdr != "" {
		columns = strings.Split(hdr, ",")
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	rowCount := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(line, &row); err != nil {
			return nil, fmt.Errorf("%w: decode streamed row: %v", gateway.ErrRepository, err)
		}
		select {
		case rows <- row:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		rowCount++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: read stream: %v", gateway.ErrRepository, err)
	}

	return &gateway.QueryResult{Columns: columns, RowCount: rowCount, ExecutionTime: time.Since(start)}, nil
}

type schemaResponse struct {
	Labels            []string            `json:"labels"`
	RelationshipTypes []string            `json:"relationship_types"`
	PropertyKeys      []string            `json:"property_keys"`
	NodeCount         int64               `json:"node_count"`
	RelationshipCount int64               `json:"relationship_count"`
	Constraints       map[string][]string `json:"constraints,omitempty"`
}

// GetSchemaInfo GETs /schema/{graphID} from the upstream service.
func (c *Client) GetSchemaInfo(ctx context.Context, graphID string) (*gateway.SchemaInfo, error) {
	resp, err := c.get(ctx, "/schema/"+graphID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sr schemaResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: decode schema: %v", gateway.ErrRepository, err)
	}
	return &gateway.SchemaInfo{
		Labels:            sr.Labels,
		RelationshipTypes: sr.RelationshipTypes,
		PropertyKeys:      sr.PropertyKeys,
		NodeCount:         sr.NodeCount,
		RelationshipCount: sr.RelationshipCount,
		Constraints:       sr.Constraints,
	}, nil
}

type validateRequest struct {
	GraphID string `json:"graph_id"`
	Cypher  string `json:"cypher"`
}

type validateResponse struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidateSchema POSTs cypher to the upstream /schema/validate endpoint
// without executing it.
func (c *Client) ValidateSchema(ctx context.Context, graphID, cypher string) (*gateway.SchemaValidation, error) {
	body, err := json.Marshal(validateRequest{GraphID: graphID, Cypher: cypher})
	if err != nil {
		return nil, fmt.Errorf("httprepo: marshal request: %w", err)
	}

	resp, err := c.post(ctx, "/schema/validate", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var vr validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("%w: decode validation: %v", gateway.ErrRepository, err)
	}
	return &gateway.SchemaValidation{Valid: vr.Valid, Errors: vr.Errors, Warnings: vr.Warnings}, nil
}

type usageResponse struct {
	UsedGB float64 `json:"used_gb"`
}

// UsageGB GETs /usage/{graphID} from the upstream service, satisfying
// worker.UsageProvider so storage-overage billing can run against a graph
// served by this adapter without a separate metering integration.
func (c *Client) UsageGB(ctx context.Context, graphID string) (float64, error) {
	resp, err := c.get(ctx, "/usage/"+graphID)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var ur usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return 0, fmt.Errorf("%w: decode usage: %v", gateway.ErrRepository, err)
	}
	return ur.UsedGB, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httprepo: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("httprepo: create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", gateway.ErrRepository, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return nil, fmt.Errorf("%w: upstream status %d: %s", gateway.ErrRepository, resp.StatusCode, buf.String())
	}
	return resp, nil
}
