package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/proxyscope/proxyscope/proxyscope/config"
	"github.com/proxyscope/proxyscope/proxyscope/protocol"
	"github.com/proxyscope/proxyscope/proxyscope/service/store"
)

func (m *mcpServer) trafficStatusTool() mcp.Tool {
	return mcp.NewTool("traffic_status",
		mcp.WithDescription("Report capture engine liveness: stored flow count, pending exchanges, session id, and store path."),
	)
}

func (m *mcpServer) trafficListTool() mcp.Tool {
	return mcp.NewTool("traffic_list",
		mcp.WithDescription(`List captured flows (summaries only, no headers or bodies).

Filters are optional and combine with AND:
- host: case-insensitive suffix match (api.example.com matches www.api.example.com)
- status: exact code (404), class (2xx), or range (200-299); comma-separated values OR together
- resource_type: document, stylesheet, script, image, media, font, xhr, websocket, other
- since/until: RFC3339 timestamp bounds (inclusive)

Ordering is by id ascending (set order=desc to reverse). Paginate with limit/offset;
repeated calls with increasing offsets never skip or duplicate a flow unless
traffic_clear runs in between. Use traffic_get_detail for headers and
traffic_read_body for body content.`),
		mcp.WithString("host", mcp.Description("Filter by host suffix (case-insensitive)")),
		mcp.WithString("status", mcp.Description("Filter by status: exact code, class like '2xx', or range like '200-299'")),
		mcp.WithString("resource_type", mcp.Description("Filter by resource classification")),
		mcp.WithString("since", mcp.Description("Only flows captured at or after this RFC3339 timestamp")),
		mcp.WithString("until", mcp.Description("Only flows captured at or before this RFC3339 timestamp")),
		mcp.WithString("order", mcp.Description("Sort order by id: 'asc' (default) or 'desc'")),
		mcp.WithNumber("limit", mcp.Description("Max flows to return (default 50, capped at 200)")),
		mcp.WithNumber("offset", mcp.Description("Skip the first N matching flows for pagination")),
	)
}

func (m *mcpServer) trafficGetDetailTool() mcp.Tool {
	return mcp.NewTool("traffic_get_detail",
		mcp.WithDescription(`Get full metadata and headers for one flow by id.

Returns all request and response headers (order, duplicates, and casing
preserved) plus sizes and timing. Never returns body content: use
traffic_read_body to page through bodies of any size. A flow whose response
never arrived is returned with status null.`),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Flow id from traffic_list or traffic_search")),
	)
}

func (m *mcpServer) trafficSearchTool() mcp.Tool {
	return mcp.NewTool("traffic_search",
		mcp.WithDescription(`Search captured traffic for a literal substring (case-insensitive).

Fields (comma-separated, default all): url, request_headers, request_body,
response_headers, response_body. Body search runs over the full stored
content; each match returns a bounded context window, never a whole body.
Header matches return the specific "Name: value" pair. Combine with the same
host/status/resource_type filters as traffic_list. Results are ordered by
flow id ascending; 'truncated' reports whether more matches exist past limit.`),
		mcp.WithString("term", mcp.Required(), mcp.Description("Substring to search for (must be non-empty)")),
		mcp.WithString("fields", mcp.Description("Comma-separated fields to search (default: all)")),
		mcp.WithString("host", mcp.Description("Filter by host suffix (case-insensitive)")),
		mcp.WithString("status", mcp.Description("Filter by status code, class, or range")),
		mcp.WithString("resource_type", mcp.Description("Filter by resource classification")),
		mcp.WithNumber("limit", mcp.Description("Max matches to return (default 10, capped at 100)")),
		mcp.WithNumber("context_chars", mcp.Description("Context bytes around each body match (default 80, capped at 500)")),
	)
}

func (m *mcpServer) trafficReadBodyTool() mcp.Tool {
	return mcp.NewTool("traffic_read_body",
		mcp.WithDescription(`Read a stored request or response body in bounded chunks.

Chunked access is the only way to body content, and works for bodies of any
size: call repeatedly, passing next_offset from each response, until
next_offset is null. offset==total_size is valid and returns an empty final
chunk. Chunks are returned as UTF-8 text when valid, base64 otherwise (see
'encoding'). max_bytes is capped server-side at 8000.`),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Flow id")),
		mcp.WithString("which", mcp.Description("Body to read: 'request' or 'response' (default)")),
		mcp.WithNumber("offset", mcp.Description("Byte offset to start at (default 0)")),
		mcp.WithNumber("max_bytes", mcp.Description("Max bytes to return (default 4000, capped at 8000)")),
	)
}

func (m *mcpServer) trafficClearTool() mcp.Tool {
	return mcp.NewTool("traffic_clear",
		mcp.WithDescription(`Delete every captured flow and start a fresh capture session.

Flow ids restart at 1 and all previously returned ids and pagination offsets
become invalid. The response carries the new session id.`),
	)
}

func (m *mcpServer) handleTrafficStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	count, err := m.service.store.Count(ctx)
	if err != nil {
		return storeErrorResult("count flows", err), nil
	}

	return jsonResult(&protocol.StatusResponse{
		Running:   true,
		Flows:     count,
		Pending:   m.service.ingestor.PendingCount(),
		SessionID: m.service.store.SessionID(ctx),
		DBPath:    m.service.store.Path(),
		Version:   config.Version,
	})
}

func (m *mcpServer) handleTrafficList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter, errResult := parseListFilter(req)
	if errResult != nil {
		return errResult, nil
	}

	order := req.GetString("order", "asc")
	switch order {
	case "asc", "desc":
	default:
		return errorResult(protocol.ErrCodeInvalidArgument, "order must be 'asc' or 'desc'"), nil
	}

	limit := clamp(req.GetInt("limit", config.DefaultListLimit), 1, config.MaxListLimit)
	offset := req.GetInt("offset", 0)
	if offset < 0 {
		return errorResult(protocol.ErrCodeInvalidArgument, "offset must be non-negative"), nil
	}

	flows, hasMore, err := m.service.store.List(ctx, store.ListQuery{
		Filter:     filter,
		Descending: order == "desc",
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		if isFilterError(err) {
			return errorResult(protocol.ErrCodeInvalidArgument, err.Error()), nil
		}
		return storeErrorResult("list flows", err), nil
	}

	total, err := m.service.store.Count(ctx)
	if err != nil {
		return storeErrorResult("count flows", err), nil
	}

	summaries := make([]protocol.FlowSummary, 0, len(flows))
	for i := range flows {
		summaries = append(summaries, flowSummary(&flows[i]))
	}

	log.Printf("traffic/list: %d flows (host=%q status=%q type=%q offset=%d)", len(summaries), filter.Host, filter.Status, filter.ResourceType, offset)
	return jsonResult(&protocol.ListResponse{
		Flows:    summaries,
		Returned: len(summaries),
		Offset:   offset,
		Total:    total,
		HasMore:  hasMore,
	})
}

func (m *mcpServer) handleTrafficGetDetail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetInt("id", 0)
	if id <= 0 {
		return errorResult(protocol.ErrCodeInvalidArgument, "id must be a positive flow id"), nil
	}

	meta, err := m.service.store.GetMeta(ctx, int64(id))
	if errors.Is(err, store.ErrNotFound) {
		return errorResult(protocol.ErrCodeNotFound, fmt.Sprintf("flow %d not found", id)), nil
	} else if err != nil {
		return storeErrorResult("get flow", err), nil
	}

	detail := &protocol.FlowDetail{
		FlowSummary:     flowSummary(meta),
		Path:            meta.Path,
		RequestHeaders:  headerPairs(meta.RequestHeaders),
		ResponseHeaders: headerPairs(meta.ResponseHeaders),
		Hint:            "use traffic_read_body to read request or response body content",
	}

	log.Printf("traffic/get_detail: flow=%d %s %s", meta.ID, meta.Method, meta.URL)
	return jsonResult(detail)
}

func (m *mcpServer) handleTrafficSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	term := req.GetString("term", "")
	if term == "" {
		return errorResult(protocol.ErrCodeInvalidArgument, "term is required and must be non-empty"), nil
	}

	fields, err := store.ParseSearchFields(splitComma(req.GetString("fields", "")))
	if err != nil {
		return errorResult(protocol.ErrCodeInvalidArgument, err.Error()), nil
	}

	filter, errResult := parseListFilter(req)
	if errResult != nil {
		return errResult, nil
	}

	limit := clamp(req.GetInt("limit", config.DefaultSearchLimit), 1, config.MaxSearchLimit)
	contextBytes := clamp(req.GetInt("context_chars", config.DefaultContextBytes), 1, config.MaxContextBytes)

	matches, truncated, err := m.service.store.Search(ctx, store.SearchQuery{
		Term:         term,
		Fields:       fields,
		Filter:       filter,
		Limit:        limit,
		ContextBytes: contextBytes,
	})
	if err != nil {
		if isFilterError(err) {
			return errorResult(protocol.ErrCodeInvalidArgument, err.Error()), nil
		}
		return storeErrorResult("search flows", err), nil
	}

	out := make([]protocol.SearchMatch, 0, len(matches))
	for _, match := range matches {
		out = append(out, protocol.SearchMatch{
			FlowID:      match.FlowID,
			URL:         match.URL,
			Method:      match.Method,
			Field:       match.Field,
			Context:     match.Context,
			MatchOffset: match.MatchOffset,
		})
	}

	log.Printf("traffic/search: %d matches term=%q truncated=%v", len(out), term, truncated)
	return jsonResult(&protocol.SearchResponse{
		Term:      term,
		Matches:   out,
		Truncated: truncated,
	})
}

func (m *mcpServer) handleTrafficReadBody(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetInt("id", 0)
	if id <= 0 {
		return errorResult(protocol.ErrCodeInvalidArgument, "id must be a positive flow id"), nil
	}

	which := req.GetString("which", store.BodyResponse)
	if which != store.BodyRequest && which != store.BodyResponse {
		return errorResult(protocol.ErrCodeInvalidArgument, "which must be 'request' or 'response'"), nil
	}

	offset := req.GetInt("offset", 0)
	if offset < 0 {
		return errorResult(protocol.ErrCodeInvalidArgument, "offset must be non-negative"), nil
	}
	maxBytes := clamp(req.GetInt("max_bytes", m.service.cfg.TruncateAt), 1, config.MaxReadBytes)

	chunk, err := m.service.store.ReadBody(ctx, int64(id), which, int64(offset), maxBytes)
	if errors.Is(err, store.ErrNotFound) {
		return errorResult(protocol.ErrCodeNotFound, fmt.Sprintf("flow %d not found", id)), nil
	} else if errors.Is(err, store.ErrOutOfRange) {
		return errorResult(protocol.ErrCodeInvalidArgument, err.Error()), nil
	} else if err != nil {
		return storeErrorResult("read body", err), nil
	}

	resp := &protocol.BodyChunkResponse{
		FlowID:     int64(id),
		Which:      which,
		Offset:     chunk.Offset,
		Length:     len(chunk.Data),
		NextOffset: chunk.NextOffset,
		TotalSize:  chunk.TotalSize,
	}
	if utf8.Valid(chunk.Data) {
		resp.Content = string(chunk.Data)
		resp.Encoding = "utf-8"
	} else {
		resp.Content = base64.StdEncoding.EncodeToString(chunk.Data)
		resp.Encoding = "base64"
	}

	log.Printf("traffic/read_body: flow=%d which=%s offset=%d len=%d total=%d", id, which, offset, len(chunk.Data), chunk.TotalSize)
	return jsonResult(resp)
}

func (m *mcpServer) handleTrafficClear(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cleared, err := m.service.store.Clear(ctx)
	if err != nil {
		return storeErrorResult("clear store", err), nil
	}
	m.service.ingestor.Reset()

	sessionID := m.service.store.SessionID(ctx)
	log.Printf("traffic/clear: removed %d flows, new session %s", cleared, sessionID)
	return jsonResult(&protocol.ClearResponse{
		Cleared:   cleared,
		SessionID: sessionID,
	})
}

// parseListFilter extracts the shared host/status/resource_type/time filters.
func parseListFilter(req mcp.CallToolRequest) (store.ListFilter, *mcp.CallToolResult) {
	filter := store.ListFilter{
		Host:         req.GetString("host", ""),
		Status:       req.GetString("status", ""),
		ResourceType: req.GetString("resource_type", ""),
	}

	if since := req.GetString("since", ""); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return filter, errorResult(protocol.ErrCodeInvalidArgument, "since must be an RFC3339 timestamp: "+err.Error())
		}
		filter.Since = t
	}
	if until := req.GetString("until", ""); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return filter, errorResult(protocol.ErrCodeInvalidArgument, "until must be an RFC3339 timestamp: "+err.Error())
		}
		filter.Until = t
	}

	return filter, nil
}

// storeErrorResult surfaces a store failure; lock conflicts get the
// store_unavailable taxonomy, anything else too since the store is the only
// dependency that can fail here.
func storeErrorResult(op string, err error) *mcp.CallToolResult {
	return errorResult(protocol.ErrCodeStoreUnavailable, op+": "+err.Error())
}

// isFilterError distinguishes bad filter values (caller mistakes) from
// store failures.
func isFilterError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid status") || strings.Contains(msg, "empty status")
}

func flowSummary(meta *store.FlowMeta) protocol.FlowSummary {
	return protocol.FlowSummary{
		ID:           meta.ID,
		Timestamp:    meta.Timestamp.UTC().Format(time.RFC3339Nano),
		Method:       meta.Method,
		URL:          meta.URL,
		Host:         meta.Host,
		Status:       meta.Status,
		ResourceType: meta.ResourceType,
		ContentType:  meta.ContentType,
		DurationMs:   meta.DurationMs,
		RequestSize:  meta.RequestSize,
		ResponseSize: meta.ResponseSize,
	}
}

func headerPairs(headers store.Headers) []protocol.HeaderPair {
	pairs := make([]protocol.HeaderPair, 0, len(headers))
	for _, h := range headers {
		pairs = append(pairs, protocol.HeaderPair{Name: h.Name, Value: h.Value})
	}
	return pairs
}

// splitComma splits a comma-separated argument into trimmed non-empty parts.
func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
