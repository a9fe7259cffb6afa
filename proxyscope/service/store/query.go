package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-analyze/bulk"
)

// ListFilter holds the optional, conjunctive flow filters.
type ListFilter struct {
	// Host matches case-insensitively on suffix: "api.example.com" matches
	// both "api.example.com" and "www.api.example.com".
	Host string

	// Status accepts comma-separated terms: an exact code ("404"), a class
	// ("2xx"), or an inclusive range ("200-299"). Terms combine with OR.
	Status string

	// ResourceType matches the classification value exactly (case-insensitive).
	ResourceType string

	// Since/Until bound the capture timestamp (inclusive). Zero means unbounded.
	Since time.Time
	Until time.Time
}

// ListQuery is one listing request against the id-ordered flow sequence.
type ListQuery struct {
	Filter     ListFilter
	Descending bool
	Limit      int // caller-clamped; <=0 means no LIMIT
	Offset     int
}

// whereClause builds the SQL conditions and args for the filter.
func (f ListFilter) whereClause() (string, []any, error) {
	var conds []string
	var args []any

	if f.Host != "" {
		conds = append(conds, `host LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(NormalizeHost(f.Host)))
	}
	if f.Status != "" {
		cond, statusArgs, err := statusCondition(f.Status)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, cond)
		args = append(args, statusArgs...)
	}
	if f.ResourceType != "" {
		conds = append(conds, `resource_type = ?`)
		args = append(args, strings.ToLower(f.ResourceType))
	}
	if !f.Since.IsZero() {
		conds = append(conds, `ts >= ?`)
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		conds = append(conds, `ts <= ?`)
		args = append(args, f.Until.UnixMilli())
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// statusCondition parses a status filter into a SQL condition. Each
// comma-separated term is an exact code, an "Nxx" class, or an "N-M" range;
// terms OR together. Unparseable terms fail rather than silently matching.
func statusCondition(filter string) (string, []any, error) {
	terms := bulk.SliceFilterInPlace(func(s string) bool { return s != "" },
		strings.Split(strings.ReplaceAll(filter, " ", ""), ","))
	if len(terms) == 0 {
		return "", nil, fmt.Errorf("empty status filter")
	}

	var conds []string
	var args []any
	for _, term := range terms {
		lower := strings.ToLower(term)
		switch {
		case len(lower) == 3 && strings.HasSuffix(lower, "xx"):
			class := int(lower[0] - '0')
			if class < 1 || class > 5 {
				return "", nil, fmt.Errorf("invalid status class %q", term)
			}
			conds = append(conds, `status BETWEEN ? AND ?`)
			args = append(args, class*100, class*100+99)
		case strings.Contains(lower, "-"):
			lo, hi, ok := strings.Cut(lower, "-")
			loCode, loErr := strconv.Atoi(lo)
			hiCode, hiErr := strconv.Atoi(hi)
			if !ok || loErr != nil || hiErr != nil || loCode > hiCode {
				return "", nil, fmt.Errorf("invalid status range %q", term)
			}
			conds = append(conds, `status BETWEEN ? AND ?`)
			args = append(args, loCode, hiCode)
		default:
			code, err := strconv.Atoi(lower)
			if err != nil {
				return "", nil, fmt.Errorf("invalid status filter %q", term)
			}
			conds = append(conds, `status = ?`)
			args = append(args, code)
		}
	}

	if len(conds) == 1 {
		return conds[0], args, nil
	}
	return "(" + strings.Join(conds, " OR ") + ")", args, nil
}

// escapeLike escapes LIKE metacharacters in a literal match fragment.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}

// List returns flow metadata matching the filter in id order, plus whether
// further rows exist past offset+limit. Paging over the stable id order never
// skips or duplicates a flow unless a Clear intervenes.
func (s *Store) List(ctx context.Context, q ListQuery) ([]FlowMeta, bool, error) {
	where, args, err := q.Filter.whereClause()
	if err != nil {
		return nil, false, err
	}

	order := " ORDER BY id ASC"
	if q.Descending {
		order = " ORDER BY id DESC"
	}

	query := `SELECT id, ts, method, url, host, path, status, content_type,
			resource_type, duration_ms, req_headers, resp_headers,
			req_size, resp_size
		 FROM flows` + where + order
	if q.Limit > 0 {
		// Fetch one extra row to report has_more without a second COUNT query
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.Limit+1, q.Offset)
	} else if q.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list flows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var flows []FlowMeta
	for rows.Next() {
		meta, err := scanFlowMeta(rows.Scan)
		if err != nil {
			return nil, false, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, *meta)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("list flows: %w", err)
	}

	hasMore := false
	if q.Limit > 0 && len(flows) > q.Limit {
		hasMore = true
		flows = flows[:q.Limit]
	}
	return flows, hasMore, nil
}
