package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proxyscope/proxyscope/proxyscope/capture"
	"github.com/proxyscope/proxyscope/proxyscope/protocol"
	"github.com/proxyscope/proxyscope/proxyscope/service/store"
	"github.com/proxyscope/proxyscope/proxyscope/service/testutil"
)

// setupServer starts a capture server in a temp dir and returns it with a
// connected in-process MCP client.
func setupServer(t *testing.T) (*Server, *client.Client) {
	t.Helper()

	dir := t.TempDir()
	srv := NewServer(ServeFlags{
		ConfigPath: filepath.Join(dir, "config.json"),
		DBPath:     filepath.Join(dir, "traffic.db"),
		MCPPort:    findAvailablePort(t),
	})

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Run(t.Context()) }()
	srv.WaitTillStarted()

	require.NotNil(t, srv.mcpServer, "MCP server should be started")

	mcpClient, err := client.NewInProcessClient(srv.mcpServer.server)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	_, err = mcpClient.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ClientInfo: mcp.Implementation{
				Name:    "proxyscope-test",
				Version: "1.0.0",
			},
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		},
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = mcpClient.Close()
		srv.RequestShutdown()
		<-serverErr
	})

	return srv, mcpClient
}

// findAvailablePort finds an available TCP port by briefly binding to port 0.
func findAvailablePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port
}

// captureFlow pushes one request/response pair through the ingestor.
func captureFlow(t *testing.T, srv *Server, handle, method, url string, status int, respBody []byte) int64 {
	t.Helper()

	require.NoError(t, srv.Ingestor().OnRequest(capture.RequestEvent{
		Handle: handle,
		Method: method,
		URL:    url,
		Headers: store.Headers{
			{Name: "Accept", Value: "*/*"},
			{Name: "User-Agent", Value: "proxyscope-test"},
		},
		Body: []byte(`{"req":true}`),
	}))
	id, err := srv.Ingestor().OnResponse(capture.ResponseEvent{
		Handle:     handle,
		StatusCode: status,
		Headers: store.Headers{
			{Name: "Content-Type", Value: "application/json"},
		},
		Body:       respBody,
		DurationMs: 10,
	})
	require.NoError(t, err)
	return id
}

func unmarshalResult[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal([]byte(testutil.ExtractText(t, result)), &v))
	return v
}

func TestMCP_ListTools(t *testing.T) {
	t.Parallel()

	_, mcpClient := setupServer(t)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)

	expectedTools := []string{
		"traffic_status",
		"traffic_list",
		"traffic_get_detail",
		"traffic_search",
		"traffic_read_body",
		"traffic_clear",
	}

	toolNames := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		toolNames[i] = tool.Name
	}
	for _, expected := range expectedTools {
		assert.Contains(t, toolNames, expected, "tool %s should be registered", expected)
	}
}

func TestMCP_TrafficStatus(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	captureFlow(t, srv, "h1", "GET", "https://example.com/", 200, []byte("ok"))

	result := testutil.CallTool(t, mcpClient, "traffic_status", nil)
	require.False(t, result.IsError)

	resp := unmarshalResult[protocol.StatusResponse](t, result)
	assert.True(t, resp.Running)
	assert.Equal(t, 1, resp.Flows)
	assert.Zero(t, resp.Pending)
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.DBPath)
}

func TestMCP_TrafficList(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	captureFlow(t, srv, "h1", "GET", "https://api.example.com/users", 200, []byte(`[]`))
	captureFlow(t, srv, "h2", "POST", "https://api.example.com/users", 201, []byte(`{}`))
	captureFlow(t, srv, "h3", "GET", "https://cdn.other.net/app.js", 404, []byte("missing"))

	result := testutil.CallTool(t, mcpClient, "traffic_list", nil)
	require.False(t, result.IsError)

	resp := unmarshalResult[protocol.ListResponse](t, result)
	assert.Len(t, resp.Flows, 3)
	assert.Equal(t, 3, resp.Returned)
	assert.Equal(t, 3, resp.Total)
	assert.False(t, resp.HasMore)
	assert.Equal(t, int64(1), resp.Flows[0].ID)
	assert.Equal(t, "api.example.com", resp.Flows[0].Host)
	require.NotNil(t, resp.Flows[0].Status)
	assert.Equal(t, 200, *resp.Flows[0].Status)
}

func TestMCP_TrafficListFiltered(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	captureFlow(t, srv, "h1", "GET", "https://api.example.com/a", 200, nil)
	captureFlow(t, srv, "h2", "GET", "https://api.example.com/b", 500, nil)
	captureFlow(t, srv, "h3", "GET", "https://cdn.other.net/c", 200, nil)

	result := testutil.CallTool(t, mcpClient, "traffic_list", map[string]interface{}{
		"host":   "example.com",
		"status": "2xx",
	})
	require.False(t, result.IsError)

	resp := unmarshalResult[protocol.ListResponse](t, result)
	require.Len(t, resp.Flows, 1)
	assert.Equal(t, "https://api.example.com/a", resp.Flows[0].URL)
	// store_size reports the unfiltered store, not the match count
	assert.Equal(t, 3, resp.Total)
}

func TestMCP_TrafficListPagination(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	for i := 0; i < 5; i++ {
		captureFlow(t, srv, fmt.Sprintf("h%d", i), "GET", "https://example.com/page", 200, nil)
	}

	result := testutil.CallTool(t, mcpClient, "traffic_list", map[string]interface{}{
		"limit":  2,
		"offset": 2,
	})
	require.False(t, result.IsError)

	resp := unmarshalResult[protocol.ListResponse](t, result)
	require.Len(t, resp.Flows, 2)
	assert.Equal(t, int64(3), resp.Flows[0].ID)
	assert.Equal(t, int64(4), resp.Flows[1].ID)
	assert.Equal(t, 2, resp.Offset)
	assert.True(t, resp.HasMore)
}

func TestMCP_TrafficListDescending(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	captureFlow(t, srv, "h1", "GET", "https://example.com/1", 200, nil)
	captureFlow(t, srv, "h2", "GET", "https://example.com/2", 200, nil)

	result := testutil.CallTool(t, mcpClient, "traffic_list", map[string]interface{}{
		"order": "desc",
	})
	require.False(t, result.IsError)

	resp := unmarshalResult[protocol.ListResponse](t, result)
	require.Len(t, resp.Flows, 2)
	assert.Equal(t, int64(2), resp.Flows[0].ID)
}

func TestMCP_TrafficListInvalidArguments(t *testing.T) {
	t.Parallel()

	_, mcpClient := setupServer(t)

	result := testutil.CallTool(t, mcpClient, "traffic_list", map[string]interface{}{
		"status": "not-a-status",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, testutil.ExtractText(t, result), protocol.ErrCodeInvalidArgument)

	result = testutil.CallTool(t, mcpClient, "traffic_list", map[string]interface{}{
		"since": "yesterday",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, testutil.ExtractText(t, result), protocol.ErrCodeInvalidArgument)

	result = testutil.CallTool(t, mcpClient, "traffic_list", map[string]interface{}{
		"order": "sideways",
	})
	assert.True(t, result.IsError)
}

func TestMCP_TrafficGetDetail(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	id := captureFlow(t, srv, "h1", "GET", "https://api.example.com/users?page=1", 200, []byte(`{"users":[]}`))

	result := testutil.CallTool(t, mcpClient, "traffic_get_detail", map[string]interface{}{
		"id": id,
	})
	require.False(t, result.IsError)

	resp := unmarshalResult[protocol.FlowDetail](t, result)
	assert.Equal(t, id, resp.ID)
	assert.Equal(t, "/users?page=1", resp.Path)
	require.NotEmpty(t, resp.RequestHeaders)
	assert.Equal(t, "Accept", resp.RequestHeaders[0].Name)
	require.NotEmpty(t, resp.ResponseHeaders)
	assert.Equal(t, "Content-Type", resp.ResponseHeaders[0].Name)
	// Detail never inlines bodies, only sizes
	assert.Equal(t, int64(len(`{"users":[]}`)), resp.ResponseSize)
	assert.NotContains(t, testutil.ExtractText(t, result), `"users":[]`)
}

func TestMCP_TrafficGetDetailPartialFlow(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	require.NoError(t, srv.Ingestor().OnRequest(capture.RequestEvent{
		Handle: "h1",
		Method: "GET",
		URL:    "https://example.com/hung",
	}))
	id, err := srv.Ingestor().Abandon("h1")
	require.NoError(t, err)

	result := testutil.CallTool(t, mcpClient, "traffic_get_detail", map[string]interface{}{
		"id": id,
	})
	require.False(t, result.IsError)

	resp := unmarshalResult[protocol.FlowDetail](t, result)
	assert.Nil(t, resp.Status)
}

func TestMCP_TrafficGetDetailNotFound(t *testing.T) {
	t.Parallel()

	_, mcpClient := setupServer(t)

	result := testutil.CallTool(t, mcpClient, "traffic_get_detail", map[string]interface{}{
		"id": 12345,
	})
	assert.True(t, result.IsError)
	assert.Contains(t, testutil.ExtractText(t, result), protocol.ErrCodeNotFound)

	result = testutil.CallTool(t, mcpClient, "traffic_get_detail", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, testutil.ExtractText(t, result), protocol.ErrCodeInvalidArgument)
}

func TestMCP_TrafficSearch(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	captureFlow(t, srv, "h1", "GET", "https://api.example.com/users", 200,
		[]byte(`{"token":"sk-live-12345","users":[]}`))
	captureFlow(t, srv, "h2", "GET", "https://api.example.com/health", 200, []byte("ok"))

	result := testutil.CallTool(t, mcpClient, "traffic_search", map[string]interface{}{
		"term": "SK-LIVE",
	})
	require.False(t, result.IsError)

	resp := unmarshalResult[protocol.SearchResponse](t, result)
	assert.Equal(t, "SK-LIVE", resp.Term)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, int64(1), resp.Matches[0].FlowID)
	assert.Equal(t, "response_body", resp.Matches[0].Field)
	assert.Contains(t, resp.Matches[0].Context, "sk-live-12345")
	assert.False(t, resp.Truncated)
}

func TestMCP_TrafficSearchFields(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	captureFlow(t, srv, "h1", "GET", "https://example.com/findme", 200, []byte("findme too"))

	result := testutil.CallTool(t, mcpClient, "traffic_search", map[string]interface{}{
		"term":   "findme",
		"fields": "url",
	})
	require.False(t, result.IsError)

	resp := unmarshalResult[protocol.SearchResponse](t, result)
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "url", resp.Matches[0].Field)
}

func TestMCP_TrafficSearchInvalidArguments(t *testing.T) {
	t.Parallel()

	_, mcpClient := setupServer(t)

	result := testutil.CallTool(t, mcpClient, "traffic_search", nil)
	assert.True(t, result.IsError)
	assert.Contains(t, testutil.ExtractText(t, result), protocol.ErrCodeInvalidArgument)

	result = testutil.CallTool(t, mcpClient, "traffic_search", map[string]interface{}{
		"term":   "x",
		"fields": "bogus_field",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, testutil.ExtractText(t, result), protocol.ErrCodeInvalidArgument)
}

func TestMCP_TrafficReadBodyChunkWalk(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	id := captureFlow(t, srv, "h1", "GET", "https://example.com/big", 200,
		[]byte(strings.Repeat("a", 10000)))

	// First chunk
	result := testutil.CallTool(t, mcpClient, "traffic_read_body", map[string]interface{}{
		"id": id,
	})
	require.False(t, result.IsError)

	resp := unmarshalResult[protocol.BodyChunkResponse](t, result)
	assert.Equal(t, "response", resp.Which)
	assert.Equal(t, 4000, resp.Length)
	assert.Equal(t, "utf-8", resp.Encoding)
	assert.Equal(t, int64(10000), resp.TotalSize)
	require.NotNil(t, resp.NextOffset)
	assert.Equal(t, int64(4000), *resp.NextOffset)

	// Walk to the end
	var total int
	offset := int64(0)
	for {
		result = testutil.CallTool(t, mcpClient, "traffic_read_body", map[string]interface{}{
			"id":     id,
			"offset": offset,
		})
		require.False(t, result.IsError)
		resp = unmarshalResult[protocol.BodyChunkResponse](t, result)
		total += resp.Length
		if resp.NextOffset == nil {
			break
		}
		offset = *resp.NextOffset
	}
	assert.Equal(t, 10000, total)
}

func TestMCP_TrafficReadBodyBinary(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	id := captureFlow(t, srv, "h1", "GET", "https://example.com/bin", 200,
		[]byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0xff})

	result := testutil.CallTool(t, mcpClient, "traffic_read_body", map[string]interface{}{
		"id": id,
	})
	require.False(t, result.IsError)

	resp := unmarshalResult[protocol.BodyChunkResponse](t, result)
	assert.Equal(t, "base64", resp.Encoding)
	assert.Equal(t, "iVBORwD/", resp.Content)
	assert.Equal(t, 6, resp.Length)
}

func TestMCP_TrafficReadBodyRequestSide(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	id := captureFlow(t, srv, "h1", "POST", "https://example.com/submit", 200, nil)

	result := testutil.CallTool(t, mcpClient, "traffic_read_body", map[string]interface{}{
		"id":    id,
		"which": "request",
	})
	require.False(t, result.IsError)

	resp := unmarshalResult[protocol.BodyChunkResponse](t, result)
	assert.Equal(t, "request", resp.Which)
	assert.Equal(t, `{"req":true}`, resp.Content)
}

func TestMCP_TrafficReadBodyErrors(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	id := captureFlow(t, srv, "h1", "GET", "https://example.com/", 200, []byte("short"))

	result := testutil.CallTool(t, mcpClient, "traffic_read_body", map[string]interface{}{
		"id": 999,
	})
	assert.True(t, result.IsError)
	assert.Contains(t, testutil.ExtractText(t, result), protocol.ErrCodeNotFound)

	result = testutil.CallTool(t, mcpClient, "traffic_read_body", map[string]interface{}{
		"id":     id,
		"offset": 100,
	})
	assert.True(t, result.IsError)
	assert.Contains(t, testutil.ExtractText(t, result), protocol.ErrCodeInvalidArgument)

	result = testutil.CallTool(t, mcpClient, "traffic_read_body", map[string]interface{}{
		"id":    id,
		"which": "neither",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, testutil.ExtractText(t, result), protocol.ErrCodeInvalidArgument)
}

func TestMCP_TrafficClear(t *testing.T) {
	t.Parallel()

	srv, mcpClient := setupServer(t)
	captureFlow(t, srv, "h1", "GET", "https://example.com/1", 200, nil)
	captureFlow(t, srv, "h2", "GET", "https://example.com/2", 200, nil)

	statusBefore := unmarshalResult[protocol.StatusResponse](t,
		testutil.CallTool(t, mcpClient, "traffic_status", nil))

	result := testutil.CallTool(t, mcpClient, "traffic_clear", nil)
	require.False(t, result.IsError)

	resp := unmarshalResult[protocol.ClearResponse](t, result)
	assert.Equal(t, 2, resp.Cleared)
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEqual(t, statusBefore.SessionID, resp.SessionID)

	// Ids restart at 1 in the new session
	id := captureFlow(t, srv, "h3", "GET", "https://example.com/fresh", 200, nil)
	assert.Equal(t, int64(1), id)

	statusAfter := unmarshalResult[protocol.StatusResponse](t,
		testutil.CallTool(t, mcpClient, "traffic_status", nil))
	assert.Equal(t, 1, statusAfter.Flows)
	assert.Equal(t, resp.SessionID, statusAfter.SessionID)
}

func TestMCP_ServerLifecycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	srv := NewServer(ServeFlags{
		ConfigPath: filepath.Join(dir, "config.json"),
		DBPath:     filepath.Join(dir, "traffic.db"),
		MCPPort:    findAvailablePort(t),
	})

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Run(t.Context()) }()
	srv.WaitTillStarted()

	assert.NotEmpty(t, srv.mcpServer.Addr())
	assert.NotNil(t, srv.Ingestor())

	srv.RequestShutdown()
	require.NoError(t, <-serverErr)
}
