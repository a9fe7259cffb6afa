// Package protocol defines the structured request/result types exposed at the
// tool-invocation boundary. All types serialize to JSON.
package protocol

// Error taxonomy codes returned in tool error messages.
const (
	ErrCodeNotFound         = "not_found"
	ErrCodeInvalidArgument  = "invalid_argument"
	ErrCodeStoreUnavailable = "store_unavailable"

	// ErrCodeCaptureConflict covers ingestion conflicts (duplicate response,
	// unknown handle). Today those surface only to the event source via the
	// capture package's sentinel errors; the code is reserved so an
	// event-submission tool can report them under the same taxonomy.
	ErrCodeCaptureConflict = "capture_conflict"
)

// HeaderPair is a single HTTP header preserving original casing and duplicates.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FlowSummary is the listing representation of a captured flow. Bodies are
// never included; header detail requires traffic_get_detail.
type FlowSummary struct {
	ID           int64  `json:"id"`
	Timestamp    string `json:"timestamp"`
	Method       string `json:"method"`
	URL          string `json:"url"`
	Host         string `json:"host"`
	Status       *int   `json:"status"` // nil when the response never arrived
	ResourceType string `json:"resource_type"`
	ContentType  string `json:"content_type,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	RequestSize  int64  `json:"request_body_size"`
	ResponseSize int64  `json:"response_body_size"`
}

// ListResponse is returned by traffic_list.
type ListResponse struct {
	Flows    []FlowSummary `json:"flows"`
	Returned int           `json:"returned"`
	Offset   int           `json:"offset"`
	Total    int           `json:"store_size"`
	HasMore  bool          `json:"has_more"`
}

// FlowDetail is returned by traffic_get_detail. Full headers and metadata,
// never bodies: body content is only reachable through traffic_read_body.
type FlowDetail struct {
	FlowSummary
	Path            string       `json:"path"`
	RequestHeaders  []HeaderPair `json:"request_headers"`
	ResponseHeaders []HeaderPair `json:"response_headers"`
	Hint            string       `json:"hint,omitempty"`
}

// SearchMatch is one search hit: the flow, the field that matched, and a
// bounded context window around the match.
type SearchMatch struct {
	FlowID      int64  `json:"flow_id"`
	URL         string `json:"url"`
	Method      string `json:"method"`
	Field       string `json:"field"`
	Context     string `json:"context"`
	MatchOffset int64  `json:"match_offset"`
}

// SearchResponse is returned by traffic_search.
type SearchResponse struct {
	Term      string        `json:"term"`
	Matches   []SearchMatch `json:"matches"`
	Truncated bool          `json:"truncated"`
}

// BodyChunkResponse is returned by traffic_read_body. Content is UTF-8 text
// when the chunk is valid UTF-8, base64 otherwise (see Encoding).
type BodyChunkResponse struct {
	FlowID     int64  `json:"flow_id"`
	Which      string `json:"which"`
	Content    string `json:"content"`
	Encoding   string `json:"encoding"` // "utf-8" or "base64"
	Offset     int64  `json:"offset"`
	Length     int    `json:"length"`
	NextOffset *int64 `json:"next_offset"` // null at end of stream
	TotalSize  int64  `json:"total_size"`
}

// StatusResponse is returned by traffic_status.
type StatusResponse struct {
	Running   bool   `json:"running"`
	Flows     int    `json:"flows"`
	Pending   int    `json:"pending_exchanges"`
	SessionID string `json:"session_id"`
	DBPath    string `json:"db_path"`
	Version   string `json:"version"`
}

// ClearResponse is returned by traffic_clear.
type ClearResponse struct {
	Cleared   int    `json:"cleared_count"`
	SessionID string `json:"session_id"` // new session after the clear
}
