// Package capture receives intercepted request/response events from a MITM
// source, merges them into flow records, and commits them to the store.
package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/proxyscope/proxyscope/proxyscope/service/store"
)

var (
	// ErrUnknownHandle indicates a response event for a handle with no
	// pending request.
	ErrUnknownHandle = errors.New("unknown exchange handle")

	// ErrDuplicateResponse indicates a second response for an exchange
	// that already committed. The committed flow is never overwritten.
	ErrDuplicateResponse = errors.New("duplicate response for committed exchange")
)

// RequestEvent is the request-seen event from the interception source.
// Handle is the source's own identity for the in-flight exchange; the store
// id is only assigned at commit.
type RequestEvent struct {
	Handle    string
	Method    string
	URL       string
	Host      string // optional; derived from URL when empty
	Path      string // optional; derived from URL when empty
	Headers   store.Headers
	Body      []byte
	Timestamp time.Time
}

// ResponseEvent is the response-completed event from the interception source.
type ResponseEvent struct {
	Handle     string
	StatusCode int
	Headers    store.Headers
	Body       []byte
	DurationMs int64
}

// validate checks event fields at the boundary, before the state machine.
func (e *RequestEvent) validate() error {
	if e.Handle == "" {
		return fmt.Errorf("request event missing handle")
	}
	if e.Method == "" {
		return fmt.Errorf("request event missing method (handle=%s)", e.Handle)
	}
	if e.URL == "" {
		return fmt.Errorf("request event missing url (handle=%s)", e.Handle)
	}
	return nil
}

func (e *ResponseEvent) validate() error {
	if e.Handle == "" {
		return fmt.Errorf("response event missing handle")
	}
	if e.StatusCode < 100 || e.StatusCode > 599 {
		return fmt.Errorf("response event has invalid status %d (handle=%s)", e.StatusCode, e.Handle)
	}
	return nil
}
