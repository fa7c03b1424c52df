package mcpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/hylla/turf/internal/adapters/server/common"
	"github.com/hylla/turf/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
)

// stubConquestService provides deterministic conquest responses for MCP tool tests.
type stubConquestService struct {
	conquer     common.ConquerResponse
	territory   common.Territory
	territories []common.Territory
	invasions   []common.Invasion
	err         error

	lastConquer   common.ConquerRequest
	lastID        string
	lastList      common.ListTerritoriesRequest
	lastInvasions common.ListInvasionsRequest
}

// Conquer records the latest request and returns one fixture result.
func (s *stubConquestService) Conquer(_ context.Context, req common.ConquerRequest) (common.ConquerResponse, error) {
	s.lastConquer = req
	if s.err != nil {
		return common.ConquerResponse{}, s.err
	}
	return s.conquer, nil
}

// GetTerritory records the latest id and returns one fixture territory.
func (s *stubConquestService) GetTerritory(_ context.Context, id string) (common.Territory, error) {
	s.lastID = id
	if s.err != nil {
		return common.Territory{}, s.err
	}
	return s.territory, nil
}

// ListTerritories returns deterministic territory rows.
func (s *stubConquestService) ListTerritories(_ context.Context, req common.ListTerritoriesRequest) ([]common.Territory, error) {
	s.lastList = req
	if s.err != nil {
		return nil, s.err
	}
	return append([]common.Territory(nil), s.territories...), nil
}

// ListInvasions returns deterministic invasion rows.
func (s *stubConquestService) ListInvasions(_ context.Context, req common.ListInvasionsRequest) ([]common.Invasion, error) {
	s.lastInvasions = req
	if s.err != nil {
		return nil, s.err
	}
	return append([]common.Invasion(nil), s.invasions...), nil
}

// jsonRPCResponse models minimal JSON-RPC response fields used in MCP adapter tests.
type jsonRPCResponse struct {
	ID     float64        `json:"id"`
	Result map[string]any `json:"result"`
}

// callToolRequest constructs one deterministic tools/call JSON-RPC request payload.
func callToolRequest(id int, toolName string, arguments map[string]any) map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}
}

// toolResultText decodes the first text entry from one tool-call result payload.
func toolResultText(t *testing.T, result map[string]any) string {
	t.Helper()

	contentRaw, ok := result["content"].([]any)
	if !ok || len(contentRaw) == 0 {
		t.Fatalf("content missing in tool result: %#v", result)
	}
	first, ok := contentRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("first content entry has unexpected type: %#v", contentRaw[0])
	}
	text, ok := first["text"].(string)
	if !ok {
		t.Fatalf("content text missing in tool result: %#v", first)
	}
	return text
}

// toolResultStructured decodes structuredContent as one map for stable assertions.
func toolResultStructured(t *testing.T, result map[string]any) map[string]any {
	t.Helper()
	structured, ok := result["structuredContent"].(map[string]any)
	if !ok {
		t.Fatalf("structuredContent missing in tool result: %#v", result)
	}
	return structured
}

// postJSONRPC sends one JSON-RPC payload and decodes the response body.
func postJSONRPC(t *testing.T, client *http.Client, url string, payload any) (*http.Response, jsonRPCResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	var decoded jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if err := resp.Body.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return resp, decoded
}

// initializeRequest builds a deterministic MCP initialize request payload.
func initializeRequest() map[string]any {
	return map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": mcp.LATEST_PROTOCOL_VERSION,
			"clientInfo": map[string]any{
				"name":    "turf-test",
				"version": "1.0.0",
			},
		},
	}
}

// callToolResultText decodes the first textual content block from a CallToolResult.
func callToolResultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatalf("result = nil, want non-nil")
	}
	if len(result.Content) == 0 {
		t.Fatalf("result content is empty")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] has unexpected type %T", result.Content[0])
	}
	return text.Text
}

// newTestServer starts one httptest server around a conquest MCP handler.
func newTestServer(t *testing.T, service common.ConquestService) *httptest.Server {
	t.Helper()
	handler, err := NewHandler(Config{}, service)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	_, _ = postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	return server
}

// TestHandlerUsesStatelessTransport verifies MCP transport does not issue session ids.
func TestHandlerUsesStatelessTransport(t *testing.T) {
	handler, err := NewHandler(Config{}, &stubConquestService{})
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}

	server := httptest.NewServer(handler)
	defer server.Close()

	resp, decoded := postJSONRPC(t, server.Client(), server.URL, initializeRequest())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if decoded.ID != 1 {
		t.Fatalf("id = %v, want 1", decoded.ID)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got != "" {
		t.Fatalf("Mcp-Session-Id header = %q, want empty (stateless transport)", got)
	}
}

// TestHandlerRegistersConquestTools verifies MCP tool discovery.
func TestHandlerRegistersConquestTools(t *testing.T) {
	server := newTestServer(t, &stubConquestService{})
	_, toolsResp := postJSONRPC(t, server.Client(), server.URL, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})

	toolsRaw, ok := toolsResp.Result["tools"].([]any)
	if !ok {
		t.Fatalf("tools list payload missing tools: %#v", toolsResp.Result)
	}
	toolNames := make([]string, 0, len(toolsRaw))
	for _, toolRaw := range toolsRaw {
		toolMap, ok := toolRaw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		toolNames = append(toolNames, name)
	}
	for _, want := range []string{"turf.conquer", "turf.get_territory", "turf.list_territories", "turf.list_invasions"} {
		if !slices.Contains(toolNames, want) {
			t.Fatalf("tool list missing %s: %#v", want, toolNames)
		}
	}
}

// TestNewHandlerRequiresService verifies construction fails without a service.
func TestNewHandlerRequiresService(t *testing.T) {
	if _, err := NewHandler(Config{}, nil); err == nil {
		t.Fatal("NewHandler() error = nil, want error")
	}
}

// TestHandlerConquerToolCall verifies loop points bind into the service request.
func TestHandlerConquerToolCall(t *testing.T) {
	svc := &stubConquestService{
		conquer: common.ConquerResponse{
			NewTerritory:        common.Territory{ID: "t-new", OwnerID: "alice"},
			DeletedTerritoryIDs: []string{"t-old"},
			TotalConqueredArea:  1500,
			ConflictResolution:  true,
		},
	}
	server := newTestServer(t, svc)

	_, callResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(2, "turf.conquer", map[string]any{
		"owner_id":    "alice",
		"activity_id": "run-7",
		"points": []any{
			map[string]any{"lat": 52.5, "lng": 13.4, "captured_at": "2026-05-01T07:00:00Z", "speed": 3.2},
			map[string]any{"lat": 52.51, "lng": 13.4, "captured_at": "2026-05-01T07:01:00Z"},
		},
	}))
	if isError, _ := callResp.Result["isError"].(bool); isError {
		t.Fatalf("unexpected tool error: %s", toolResultText(t, callResp.Result))
	}
	structured := toolResultStructured(t, callResp.Result)
	if got, _ := structured["total_conquered_area"].(float64); got != 1500 {
		t.Fatalf("total_conquered_area = %v, want 1500", structured["total_conquered_area"])
	}
	if svc.lastConquer.OwnerID != "alice" || svc.lastConquer.ActivityID != "run-7" || len(svc.lastConquer.Points) != 2 {
		t.Fatalf("unexpected conquer request %#v", svc.lastConquer)
	}
	first := svc.lastConquer.Points[0]
	if first.Speed == nil || *first.Speed != 3.2 || first.Accuracy != nil {
		t.Fatalf("unexpected optional fields %#v", first)
	}
	if !first.CapturedAt.Equal(time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)) {
		t.Fatalf("captured_at = %s", first.CapturedAt)
	}
}

// TestHandlerReadToolCalls verifies read tools pass arguments through.
func TestHandlerReadToolCalls(t *testing.T) {
	svc := &stubConquestService{
		territory:   common.Territory{ID: "t-1", OwnerID: "bob", Version: 2},
		territories: []common.Territory{{ID: "t-1"}},
		invasions:   []common.Invasion{{ID: "inv-1", InvaderID: "alice"}},
	}
	server := newTestServer(t, svc)

	_, getResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(2, "turf.get_territory", map[string]any{"id": "t-1"}))
	if got, _ := toolResultStructured(t, getResp.Result)["owner_id"].(string); got != "bob" || svc.lastID != "t-1" {
		t.Fatalf("get_territory owner = %q id = %q", got, svc.lastID)
	}

	_, listResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "turf.list_territories", map[string]any{"bbox": "13,52,14,53"}))
	rows, _ := toolResultStructured(t, listResp.Result)["territories"].([]any)
	if len(rows) != 1 || svc.lastList.BBox != "13,52,14,53" {
		t.Fatalf("list_territories rows = %#v bbox = %q", rows, svc.lastList.BBox)
	}

	_, invResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(4, "turf.list_invasions", map[string]any{"owner_id": "bob", "limit": 10}))
	invRows, _ := toolResultStructured(t, invResp.Result)["invasions"].([]any)
	if len(invRows) != 1 {
		t.Fatalf("list_invasions rows = %#v", invRows)
	}
	if svc.lastInvasions.OwnerID != "bob" || svc.lastInvasions.Limit != 10 {
		t.Fatalf("unexpected invasions request %#v", svc.lastInvasions)
	}
}

// TestHandlerToolCallErrorPaths verifies required-arg and mapped-service errors.
func TestHandlerToolCallErrorPaths(t *testing.T) {
	svc := &stubConquestService{
		err: errors.Join(common.ErrInvalidRequest, domain.Reject(domain.RejectTooSmall, "area 12m2")),
	}
	server := newTestServer(t, svc)

	_, missingArgResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(2, "turf.get_territory", map[string]any{}))
	if isError, _ := missingArgResp.Result["isError"].(bool); !isError {
		t.Fatalf("isError = %v, want true", missingArgResp.Result["isError"])
	}
	if got := toolResultText(t, missingArgResp.Result); !strings.Contains(got, `required argument "id" not found`) {
		t.Fatalf("error text = %q, want required id message", got)
	}

	_, missingOwnerResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(3, "turf.conquer", map[string]any{
		"activity_id": "run-1",
		"points":      []any{},
	}))
	if got := toolResultText(t, missingOwnerResp.Result); !strings.HasPrefix(got, "invalid_request:") {
		t.Fatalf("error text = %q, want prefix invalid_request:", got)
	}

	_, mappedErrResp := postJSONRPC(t, server.Client(), server.URL, callToolRequest(4, "turf.conquer", map[string]any{
		"owner_id":    "alice",
		"activity_id": "run-1",
		"points":      []any{},
	}))
	if isError, _ := mappedErrResp.Result["isError"].(bool); !isError {
		t.Fatalf("isError = %v, want true", mappedErrResp.Result["isError"])
	}
	if got := toolResultText(t, mappedErrResp.Result); !strings.HasPrefix(got, "invalid_request[too_small]:") {
		t.Fatalf("error text = %q, want prefix invalid_request[too_small]:", got)
	}
}

func TestNormalizeConfig(t *testing.T) {
	cases := []struct {
		name string
		in   Config
		want Config
	}{
		{
			name: "defaults",
			in:   Config{},
			want: Config{ServerName: "turf", ServerVersion: "dev", EndpointPath: "/mcp"},
		},
		{
			name: "trimmed values and slash prefix",
			in:   Config{ServerName: " turf-server ", ServerVersion: " v1.2.3 ", EndpointPath: "custom/path"},
			want: Config{ServerName: "turf-server", ServerVersion: "v1.2.3", EndpointPath: "/custom/path"},
		},
		{
			name: "endpoint trim of repeated slashes",
			in:   Config{ServerName: "turf", ServerVersion: "dev", EndpointPath: "///mcp///"},
			want: Config{ServerName: "turf", ServerVersion: "dev", EndpointPath: "/mcp"},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeConfig(tt.in); got != tt.want {
				t.Fatalf("normalizeConfig() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

// TestHandlerServeHTTPUnavailable verifies nil handler paths fail closed with 503.
func TestHandlerServeHTTPUnavailable(t *testing.T) {
	for _, handler := range []*Handler{nil, {}} {
		req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{}`))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
		if !strings.Contains(rec.Body.String(), "mcp handler unavailable") {
			t.Fatalf("body = %q, want mcp handler unavailable", rec.Body.String())
		}
	}
}

// TestToolResultFromErrorMapping verifies deterministic error-to-tool-result mapping.
func TestToolResultFromErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantPrefix string
	}{
		{name: "nil error", err: nil, wantPrefix: "unknown error"},
		{name: "invalid request", err: errors.Join(common.ErrInvalidRequest, errors.New("bad bbox")), wantPrefix: "invalid_request:"},
		{name: "rejected loop", err: errors.Join(common.ErrInvalidRequest, domain.Reject(domain.RejectNotClosed, "gap")), wantPrefix: "invalid_request[not_closed]:"},
		{name: "not found", err: errors.Join(common.ErrNotFound, errors.New("missing")), wantPrefix: "not_found:"},
		{name: "conflict", err: errors.Join(common.ErrConflict, errors.New("retries exhausted")), wantPrefix: "conflict:"},
		{name: "unavailable", err: errors.Join(common.ErrUnavailable, errors.New("redis down")), wantPrefix: "service_unavailable:"},
		{name: "internal", err: errors.New("boom"), wantPrefix: "internal_error:"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			result := toolResultFromError(tt.err)
			if !result.IsError {
				t.Fatalf("IsError = false, want true")
			}
			if got := callToolResultText(t, result); !strings.HasPrefix(got, tt.wantPrefix) {
				t.Fatalf("text = %q, want prefix %q", got, tt.wantPrefix)
			}
		})
	}
}
