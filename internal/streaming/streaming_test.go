package streaming

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	gateway "github.com/cyphergate/cyphergate/internal"
)

func TestChunkSizeForTier(t *testing.T) {
	t.Parallel()
	cases := []struct {
		tier gateway.GraphTier
		want int
	}{
		{gateway.TierFree, 1000},
		{gateway.TierStandard, 1000},
		{gateway.TierEnterprise, 2000},
		{gateway.TierPremium, 5000},
	}
	for _, c := range cases {
		if got := ChunkSizeForTier(c.tier); got != c.want {
			t.Errorf("ChunkSizeForTier(%s) = %d, want %d", c.tier, got, c.want)
		}
	}
}

func TestClamp(t *testing.T) {
	t.Parallel()
	if got := Clamp(1); got != minChunkSize {
		t.Errorf("Clamp(1) = %d, want %d", got, minChunkSize)
	}
	if got := Clamp(999999); got != maxChunkSize {
		t.Errorf("Clamp(999999) = %d, want %d", got, maxChunkSize)
	}
	if got := Clamp(500); got != 500 {
		t.Errorf("Clamp(500) = %d, want 500", got)
	}
}

func TestWriteNDJSON_ColumnsOnlyOnFirstChunk(t *testing.T) {
	t.Parallel()
	result := &gateway.QueryResult{
		Columns:  []string{"id", "name"},
		Rows:     makeRows(25),
		RowCount: 25,
	}
	var buf bytes.Buffer
	if err := WriteNDJSON(&buf, result, "kg01", 10); err != nil {
		t.Fatalf("WriteNDJSON: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	// 3 data chunks (10, 10, 5) + 1 completion sentinel.
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %v", len(lines), lines)
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal chunk 0: %v", err)
	}
	if _, ok := first["columns"]; !ok {
		t.Fatalf("expected columns in chunk 0")
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("unmarshal chunk 1: %v", err)
	}
	if _, ok := second["columns"]; ok {
		t.Fatalf("expected no columns in chunk 1")
	}

	var sentinel map[string]any
	if err := json.Unmarshal([]byte(lines[3]), &sentinel); err != nil {
		t.Fatalf("unmarshal sentinel: %v", err)
	}
	if complete, _ := sentinel["complete"].(bool); !complete {
		t.Fatalf("expected final line to be the completion sentinel, got %v", sentinel)
	}
}

func TestWriteNDJSON_EmptyResultStillEmitsSentinel(t *testing.T) {
	t.Parallel()
	result := &gateway.QueryResult{Columns: []string{"id"}, Rows: nil, RowCount: 0}
	var buf bytes.Buffer
	if err := WriteNDJSON(&buf, result, "kg01", 10); err != nil {
		t.Fatalf("WriteNDJSON: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected a single empty chunk plus sentinel, got %d lines", len(lines))
	}
}

func TestStreamSSE_EmitsProgressEveryTenChunks(t *testing.T) {
	t.Parallel()
	result := &gateway.QueryResult{
		Columns:  []string{"id"},
		Rows:     makeRows(105),
		RowCount: 105,
	}
	var buf bytes.Buffer
	sse := NewSSEWriter(&buf, nil)
	if err := StreamSSE(sse, result, "kg01", 10); err != nil {
		t.Fatalf("StreamSSE: %v", err)
	}

	out := buf.String()
	progressCount := strings.Count(out, "event: progress")
	// 11 chunks of 10 -> progress fires after chunk 10 (rowsSinceProgress reset).
	if progressCount < 1 {
		t.Fatalf("expected at least one progress event, got %d in: %s", progressCount, out)
	}
	if !strings.Contains(out, "event: started") || !strings.Contains(out, "event: complete") {
		t.Fatalf("expected started and complete events in output: %s", out)
	}
}

func TestSSEWriter_FlushesAfterEachSend(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	flushed := 0
	sse := NewSSEWriter(&buf, func() { flushed++ })

	if err := sse.Send(SSEEvent{Name: "started", Data: map[string]any{}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := sse.Keepalive(); err != nil {
		t.Fatalf("Keepalive: %v", err)
	}
	if flushed != 2 {
		t.Fatalf("expected 2 flushes, got %d", flushed)
	}
}

func TestWriteNDJSONError_IsATerminatingLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteNDJSONError(&buf, "kg01", "execution_error", errBoom{}); err != nil {
		t.Fatalf("WriteNDJSONError: %v", err)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if line["errorType"] != "execution_error" {
		t.Fatalf("expected errorType execution_error, got %v", line["errorType"])
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func makeRows(n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{"id": i}
	}
	return rows
}
