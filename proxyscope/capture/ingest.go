package capture

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/proxyscope/proxyscope/proxyscope/service/store"
)

// Ingestor merges request/response events into flow records and commits them.
//
// Per-exchange state machine: a request event buffers a pending exchange
// keyed by the source handle; the matching response event (or Abandon)
// commits it to the store as one immutable row. A malformed or conflicting
// event affects only its own exchange, never the ingestion stream.
type Ingestor struct {
	store *store.Store

	mu      sync.Mutex
	pending map[string]*RequestEvent
	// committed maps handles of finished exchanges to their store id so a
	// late duplicate response is detected instead of silently dropped.
	committed map[string]int64
}

// NewIngestor creates an ingestor committing to st.
func NewIngestor(st *store.Store) *Ingestor {
	return &Ingestor{
		store:     st,
		pending:   make(map[string]*RequestEvent),
		committed: make(map[string]int64),
	}
}

// OnRequest buffers a request-seen event. The exchange stays pending until
// OnResponse or Abandon resolves it. Invalid events are rejected with an
// error and leave no state behind.
func (i *Ingestor) OnRequest(ev RequestEvent) error {
	if err := ev.validate(); err != nil {
		log.Printf("capture: dropping request event: %v", err)
		return err
	}

	if ev.Host == "" || ev.Path == "" {
		host, path := store.SplitURL(ev.URL)
		if ev.Host == "" {
			ev.Host = host
		}
		if ev.Path == "" {
			ev.Path = path
		}
	}
	ev.Host = store.NormalizeHost(ev.Host)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Body, _ = decodeBody(ev.Body, ev.Headers.Get("Content-Encoding"))

	i.mu.Lock()
	defer i.mu.Unlock()

	if prev, ok := i.pending[ev.Handle]; ok {
		// Source reused a handle without resolving the previous exchange;
		// commit the old one as partial so no captured request is lost.
		log.Printf("capture: handle %s reused before response, committing previous request as partial", ev.Handle)
		i.commitLocked(prev, nil)
	}
	i.pending[ev.Handle] = &ev
	return nil
}

// OnResponse merges a response-completed event with its pending request and
// commits the flow. Returns the assigned store id.
//
// A response for an already-committed handle is rejected with
// ErrDuplicateResponse: committed flows are immutable.
func (i *Ingestor) OnResponse(ev ResponseEvent) (int64, error) {
	if err := ev.validate(); err != nil {
		log.Printf("capture: dropping response event: %v", err)
		return 0, err
	}

	ev.Body, _ = decodeBody(ev.Body, ev.Headers.Get("Content-Encoding"))

	i.mu.Lock()
	defer i.mu.Unlock()

	req, ok := i.pending[ev.Handle]
	if !ok {
		if id, committed := i.committed[ev.Handle]; committed {
			log.Printf("capture: rejecting duplicate response for handle %s (flow %d already committed)", ev.Handle, id)
			return 0, fmt.Errorf("%w: handle %s already committed as flow %d", ErrDuplicateResponse, ev.Handle, id)
		}
		log.Printf("capture: dropping response for unknown handle %s", ev.Handle)
		return 0, fmt.Errorf("%w: %s", ErrUnknownHandle, ev.Handle)
	}
	delete(i.pending, ev.Handle)

	id, err := i.commitLocked(req, &ev)
	if err != nil {
		return 0, err
	}
	i.committed[ev.Handle] = id
	return id, nil
}

// Abandon commits a pending exchange as a partial flow (status absent),
// used when the connection drops before a response arrives.
func (i *Ingestor) Abandon(handle string) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	req, ok := i.pending[handle]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	delete(i.pending, handle)

	id, err := i.commitLocked(req, nil)
	if err != nil {
		return 0, err
	}
	i.committed[handle] = id
	return id, nil
}

// commitLocked builds the flow record and inserts it. resp is nil for
// partial commits. Caller holds i.mu.
func (i *Ingestor) commitLocked(req *RequestEvent, resp *ResponseEvent) (int64, error) {
	flow := &store.Flow{
		Timestamp:      req.Timestamp,
		Method:         req.Method,
		URL:            req.URL,
		Host:           req.Host,
		Path:           req.Path,
		RequestHeaders: req.Headers,
		RequestBody:    req.Body,
		ResourceType:   ResourceOther,
	}

	if resp != nil {
		status := resp.StatusCode
		flow.Status = &status
		flow.ResponseHeaders = resp.Headers
		flow.ResponseBody = resp.Body
		flow.DurationMs = resp.DurationMs
		flow.ContentType = cleanMIME(resp.Headers.Get("Content-Type"))
		flow.ResourceType = ClassifyResource(resp.Headers.Get("Content-Type"), req.Path, req.Headers)
	} else {
		flow.ResourceType = ClassifyResource("", req.Path, req.Headers)
	}

	id, err := i.store.Insert(context.Background(), flow)
	if err != nil {
		log.Printf("capture: failed to commit flow for %s %s: %v", req.Method, req.URL, err)
		return 0, err
	}

	if resp != nil {
		log.Printf("capture: committed flow %d %s %s status=%d type=%s", id, req.Method, req.URL, resp.StatusCode, flow.ResourceType)
	} else {
		log.Printf("capture: committed partial flow %d %s %s (no response)", id, req.Method, req.URL)
	}
	return id, nil
}

// PendingCount returns the number of unresolved exchanges.
func (i *Ingestor) PendingCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return len(i.pending)
}

// Reset drops pending and committed-handle state. Called after the store is
// cleared so stale handles from the old session cannot collide.
func (i *Ingestor) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending = make(map[string]*RequestEvent)
	i.committed = make(map[string]int64)
}
