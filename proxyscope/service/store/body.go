package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Body selector values for ReadBody.
const (
	BodyRequest  = "request"
	BodyResponse = "response"
)

// BodyChunk is one bounded window of a stored body.
type BodyChunk struct {
	Data       []byte
	Offset     int64
	NextOffset *int64 // nil at end of stream
	TotalSize  int64
}

// ReadBody returns up to maxBytes of the selected body starting at offset.
// The window is extracted inside SQLite (substr on the BLOB), so the full
// body never materializes in the process regardless of its size.
//
// offset must be in [0, total]; offset == total returns an empty chunk with
// a nil NextOffset, offset > total returns ErrOutOfRange. Reads are pure
// functions of the immutable row: any offset order, any number of times.
func (s *Store) ReadBody(ctx context.Context, id int64, which string, offset int64, maxBytes int) (*BodyChunk, error) {
	var column string
	switch which {
	case BodyRequest:
		column = "req_body"
	case BodyResponse:
		column = "resp_body"
	default:
		return nil, fmt.Errorf("invalid body selector %q: must be %q or %q", which, BodyRequest, BodyResponse)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", ErrOutOfRange, offset)
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max_bytes must be positive, got %d", maxBytes)
	}

	// substr is 1-indexed; coalesce treats an absent body as empty
	row := s.db.QueryRowContext(ctx,
		`SELECT length(coalesce(`+column+`, x'')),
			substr(coalesce(`+column+`, x''), ?, ?)
		 FROM flows WHERE id = ?`,
		offset+1, maxBytes, id)

	chunk := &BodyChunk{Offset: offset}
	err := row.Scan(&chunk.TotalSize, &chunk.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("read %s body of flow %d: %w", which, id, err)
	}

	if offset > chunk.TotalSize {
		return nil, fmt.Errorf("%w: offset %d beyond body size %d", ErrOutOfRange, offset, chunk.TotalSize)
	}

	if next := offset + int64(len(chunk.Data)); next < chunk.TotalSize {
		chunk.NextOffset = &next
	}
	return chunk, nil
}
