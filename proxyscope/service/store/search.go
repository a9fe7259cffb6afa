package store

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Searchable field names.
const (
	FieldURL             = "url"
	FieldRequestHeaders  = "request_headers"
	FieldRequestBody     = "request_body"
	FieldResponseHeaders = "response_headers"
	FieldResponseBody    = "response_body"
)

// searchFieldOrder is the canonical field evaluation order for results.
var searchFieldOrder = []string{
	FieldURL,
	FieldRequestHeaders,
	FieldRequestBody,
	FieldResponseHeaders,
	FieldResponseBody,
}

// ParseSearchFields validates a field list. Empty expands to all fields.
// Order and duplicates are normalized to the canonical evaluation order.
func ParseSearchFields(fields []string) (map[string]bool, error) {
	if len(fields) == 0 {
		return map[string]bool{
			FieldURL: true, FieldRequestHeaders: true, FieldRequestBody: true,
			FieldResponseHeaders: true, FieldResponseBody: true,
		}, nil
	}

	result := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		switch f {
		case FieldURL, FieldRequestHeaders, FieldRequestBody, FieldResponseHeaders, FieldResponseBody:
			result[f] = true
		case "all":
			return ParseSearchFields(nil)
		default:
			return nil, fmt.Errorf("invalid search field %q: valid values are url, request_headers, request_body, response_headers, response_body, all", f)
		}
	}
	return result, nil
}

// SearchQuery is one substring search request.
type SearchQuery struct {
	Term         string          // non-empty; matched case-insensitively
	Fields       map[string]bool // from ParseSearchFields
	Filter       ListFilter
	Limit        int // max results; >0
	ContextBytes int // body context radius around the match
}

// SearchMatch is one hit: which flow, which field, and a bounded context
// window around the first occurrence in that field.
type SearchMatch struct {
	FlowID      int64
	Method      string
	URL         string
	Field       string
	Context     string
	MatchOffset int64
}

// Search scans flows in id order and reports fields containing term as a
// case-insensitive substring. Matching runs against the full stored content;
// returned context is always a bounded window, never a whole body. The
// second return reports whether matches beyond Limit exist.
func (s *Store) Search(ctx context.Context, q SearchQuery) ([]SearchMatch, bool, error) {
	if q.Term == "" {
		return nil, false, fmt.Errorf("empty search term")
	}
	if len(q.Fields) == 0 {
		return nil, false, fmt.Errorf("no search fields selected")
	}
	if q.Limit <= 0 {
		return nil, false, fmt.Errorf("search limit must be positive")
	}

	where, args, err := q.Filter.whereClause()
	if err != nil {
		return nil, false, err
	}

	// Select only the columns the requested fields need; body BLOBs are the
	// expensive part and stay out of the row when not searched.
	cols := []string{"id", "method", "url"}
	colFor := map[string]string{
		FieldRequestHeaders:  "req_headers_text",
		FieldResponseHeaders: "resp_headers_text",
		FieldRequestBody:     "req_body",
		FieldResponseBody:    "resp_body",
	}
	var fieldCols []string
	for _, field := range searchFieldOrder {
		if q.Fields[field] && colFor[field] != "" {
			fieldCols = append(fieldCols, colFor[field])
		}
	}
	cols = append(cols, fieldCols...)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(cols, ", ")+` FROM flows`+where+` ORDER BY id ASC`,
		args...)
	if err != nil {
		return nil, false, fmt.Errorf("search flows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	term := strings.ToLower(q.Term)
	var matches []SearchMatch
	truncated := false

	for rows.Next() {
		var id int64
		var method, url string
		blobs := make([][]byte, len(fieldCols))
		dest := []any{&id, &method, &url}
		for i := range blobs {
			dest = append(dest, &blobs[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, false, fmt.Errorf("scan search row: %w", err)
		}

		blobIdx := 0
		blobFor := make(map[string][]byte, len(fieldCols))
		for _, field := range searchFieldOrder {
			if q.Fields[field] && colFor[field] != "" {
				blobFor[field] = blobs[blobIdx]
				blobIdx++
			}
		}

		for _, m := range matchRow(q, term, id, method, url, blobFor) {
			if len(matches) >= q.Limit {
				// One extra hit is enough to report truncation
				truncated = true
				break
			}
			matches = append(matches, m)
		}
		if truncated {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("search flows: %w", err)
	}

	return matches, truncated, nil
}

// matchRow evaluates every requested field of one flow against term.
func matchRow(q SearchQuery, term string, id int64, method, url string, blobFor map[string][]byte) []SearchMatch {
	var out []SearchMatch
	add := func(field, context string, offset int) {
		out = append(out, SearchMatch{
			FlowID:      id,
			Method:      method,
			URL:         url,
			Field:       field,
			Context:     context,
			MatchOffset: int64(offset),
		})
	}

	for _, field := range searchFieldOrder {
		if !q.Fields[field] {
			continue
		}
		switch field {
		case FieldURL:
			if idx := strings.Index(strings.ToLower(url), term); idx >= 0 {
				add(field, bodyContext([]byte(url), idx, len(term), q.ContextBytes), idx)
			}
		case FieldRequestHeaders, FieldResponseHeaders:
			if line, idx, ok := matchHeaderLine(blobFor[field], term); ok {
				add(field, line, idx)
			}
		case FieldRequestBody, FieldResponseBody:
			body := blobFor[field]
			if idx := indexFold(body, term); idx >= 0 {
				add(field, bodyContext(body, idx, len(term), q.ContextBytes), idx)
			}
		}
	}
	return out
}

// matchHeaderLine scans the flattened "Name: value" header text column for
// the first line containing term case-insensitively, returning that line and
// the match offset inside it.
func matchHeaderLine(text []byte, term string) (string, int, bool) {
	for len(text) > 0 {
		line := text
		if i := bytes.IndexByte(text, '\n'); i >= 0 {
			line, text = text[:i], text[i+1:]
		} else {
			text = nil
		}
		if idx := indexFold(line, term); idx >= 0 {
			return string(line), idx, true
		}
	}
	return "", 0, false
}

// indexFold finds the first ASCII-case-insensitive occurrence of term
// (already lowercased) in data without copying the full buffer.
func indexFold(data []byte, term string) int {
	if term == "" || len(data) < len(term) {
		return -1
	}
	first := term[0]
	firstUpper := first
	if first >= 'a' && first <= 'z' {
		firstUpper = first - 'a' + 'A'
	}
	for i := 0; i+len(term) <= len(data); i++ {
		if data[i] != first && data[i] != firstUpper {
			continue
		}
		if equalFoldASCII(data[i:i+len(term)], term) {
			return i
		}
	}
	return -1
}

// equalFoldASCII compares data to an already-lowercased term, folding ASCII
// upper case only. Substring search stays byte-oriented so it works on
// arbitrary binary bodies.
func equalFoldASCII(data []byte, lowerTerm string) bool {
	for i := 0; i < len(lowerTerm); i++ {
		c := data[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != lowerTerm[i] {
			return false
		}
	}
	return true
}

// bodyContext extracts a bounded window around a match, snapped to UTF-8
// rune boundaries, with ellipses marking omitted content. Invalid byte
// sequences are replaced so the result is always valid UTF-8.
func bodyContext(data []byte, matchStart, matchLen, radius int) string {
	if radius <= 0 {
		radius = 80
	}

	start := matchStart - radius
	if start < 0 {
		start = 0
	}
	end := matchStart + matchLen + radius
	if end > len(data) {
		end = len(data)
	}
	// Snap to rune boundaries to avoid splitting multi-byte characters
	for start > 0 && !utf8.RuneStart(data[start]) {
		start--
	}
	for end < len(data) && !utf8.RuneStart(data[end]) {
		end++
	}

	var b bytes.Buffer
	if start > 0 {
		b.WriteString("...")
	}
	b.Write(data[start:end])
	if end < len(data) {
		b.WriteString("...")
	}
	return strings.ToValidUTF8(b.String(), "�")
}
