// Package store persists captured HTTP flows in a single SQLite file and
// serves filtered listing, substring search, and chunked body reads over it.
//
// The file is opened in WAL journal mode so one writer process (live capture)
// and any number of reader processes (query tools) can share it: readers see
// snapshot state and never block on an in-progress commit. A flow row is
// immutable once inserted; the only destructive operation is Clear, which
// empties the whole store and starts a fresh capture session.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates the requested flow id does not exist.
	ErrNotFound = errors.New("flow not found")

	// ErrOutOfRange indicates a body read offset beyond the stored size.
	ErrOutOfRange = errors.New("offset out of range")

	// ErrLocked indicates another writer process holds the store.
	ErrLocked = errors.New("store is locked by another writer")
)

const (
	busyTimeoutMs = 5000

	// writeRetries is the brief retry budget for transient lock contention
	// beyond the driver-level busy timeout.
	writeRetries    = 3
	writeRetryDelay = 50 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS flows (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	ts                INTEGER NOT NULL,
	method            TEXT NOT NULL,
	url               TEXT NOT NULL,
	host              TEXT NOT NULL,
	path              TEXT NOT NULL,
	status            INTEGER,
	content_type      TEXT NOT NULL DEFAULT '',
	resource_type     TEXT NOT NULL DEFAULT 'other',
	duration_ms       INTEGER NOT NULL DEFAULT 0,
	req_headers       BLOB,
	resp_headers      BLOB,
	req_headers_text  TEXT NOT NULL DEFAULT '',
	resp_headers_text TEXT NOT NULL DEFAULT '',
	req_body          BLOB,
	resp_body         BLOB,
	req_size          INTEGER NOT NULL DEFAULT 0,
	resp_size         INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_flows_host ON flows(host);
CREATE INDEX IF NOT EXISTS idx_flows_status ON flows(status);
CREATE INDEX IF NOT EXISTS idx_flows_resource_type ON flows(resource_type);
CREATE INDEX IF NOT EXISTS idx_flows_ts ON flows(ts);
CREATE TABLE IF NOT EXISTS meta (
	k TEXT PRIMARY KEY,
	v TEXT NOT NULL
);
`

// Flow is one captured HTTP/HTTPS exchange as stored.
type Flow struct {
	ID           int64
	Timestamp    time.Time
	Method       string
	URL          string
	Host         string // lowercased
	Path         string
	Status       *int // nil when the response never arrived
	ContentType  string
	ResourceType string
	DurationMs   int64

	RequestHeaders  Headers
	ResponseHeaders Headers
	RequestBody     []byte
	ResponseBody    []byte
	RequestSize     int64
	ResponseSize    int64
}

// FlowMeta is Flow without body bytes, for listing and detail views.
type FlowMeta struct {
	ID           int64
	Timestamp    time.Time
	Method       string
	URL          string
	Host         string
	Path         string
	Status       *int
	ContentType  string
	ResourceType string
	DurationMs   int64

	RequestHeaders  Headers
	ResponseHeaders Headers
	RequestSize     int64
	ResponseSize    int64
}

// Options controls how the store file is opened.
type Options struct {
	// ReadOnly opens the file without write access and skips the writer lock.
	ReadOnly bool
}

// Store is a handle to one capture session's SQLite file.
type Store struct {
	db   *sql.DB
	path string
	lock *writerLock // nil when opened read-only
}

// Open opens (creating if needed) the store file at path. Writer opens take
// an exclusive flock on <path>.lock; a second writer fails with ErrLocked.
func Open(path string, opts Options) (*Store, error) {
	dsn := "file:" + path +
		"?_pragma=busy_timeout(" + fmt.Sprint(busyTimeoutMs) + ")" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)"
	if opts.ReadOnly {
		dsn += "&mode=ro"
	}

	var lock *writerLock
	if !opts.ReadOnly {
		var err error
		if lock, err = acquireWriterLock(path + ".lock"); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		lock.release()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	s := &Store{db: db, path: path, lock: lock}
	if !opts.ReadOnly {
		if _, err := db.Exec(schema); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("init store schema: %w", err)
		}
		if err := s.ensureSession(); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	return s, nil
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database and releases the writer lock if held.
func (s *Store) Close() error {
	err := s.db.Close()
	s.lock.release()
	return err
}

// ensureSession assigns a session id if the meta table has none yet.
func (s *Store) ensureSession() error {
	_, err := s.db.Exec(
		`INSERT INTO meta (k, v) VALUES ('session_id', ?), ('created_at', ?)
		 ON CONFLICT(k) DO NOTHING`,
		uuid.NewString(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("init session: %w", err)
	}
	return nil
}

// SessionID returns the current capture session id. Empty if the writer has
// not initialized the store yet.
func (s *Store) SessionID(ctx context.Context) string {
	var id string
	_ = s.db.QueryRowContext(ctx, `SELECT v FROM meta WHERE k = 'session_id'`).Scan(&id)
	return id
}

// Insert commits a flow and returns the assigned id. The flow becomes durably
// visible to concurrent readers the moment this returns.
func (s *Store) Insert(ctx context.Context, f *Flow) (int64, error) {
	reqHdr, err := encodeHeaders(f.RequestHeaders)
	if err != nil {
		return 0, fmt.Errorf("encode request headers: %w", err)
	}
	respHdr, err := encodeHeaders(f.ResponseHeaders)
	if err != nil {
		return 0, fmt.Errorf("encode response headers: %w", err)
	}

	var status any
	if f.Status != nil {
		status = *f.Status
	}

	var id int64
	err = s.withWriteRetry(func() error {
		res, execErr := s.db.ExecContext(ctx,
			`INSERT INTO flows (ts, method, url, host, path, status, content_type,
				resource_type, duration_ms, req_headers, resp_headers,
				req_headers_text, resp_headers_text, req_body, resp_body,
				req_size, resp_size)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.Timestamp.UnixMilli(), f.Method, f.URL, strings.ToLower(f.Host), f.Path,
			status, f.ContentType, f.ResourceType, f.DurationMs,
			reqHdr, respHdr,
			flattenHeaders(f.RequestHeaders), flattenHeaders(f.ResponseHeaders),
			f.RequestBody, f.ResponseBody,
			int64(len(f.RequestBody)), int64(len(f.ResponseBody)))
		if execErr != nil {
			return execErr
		}
		id, execErr = res.LastInsertId()
		return execErr
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the full flow (including bodies) for id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Flow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ts, method, url, host, path, status, content_type,
			resource_type, duration_ms, req_headers, resp_headers,
			req_body, resp_body, req_size, resp_size
		 FROM flows WHERE id = ?`, id)

	var f Flow
	var ts int64
	var status sql.NullInt64
	var reqHdr, respHdr []byte
	err := row.Scan(&f.ID, &ts, &f.Method, &f.URL, &f.Host, &f.Path, &status,
		&f.ContentType, &f.ResourceType, &f.DurationMs, &reqHdr, &respHdr,
		&f.RequestBody, &f.ResponseBody, &f.RequestSize, &f.ResponseSize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get flow %d: %w", id, err)
	}

	f.Timestamp = time.UnixMilli(ts).UTC()
	if status.Valid {
		code := int(status.Int64)
		f.Status = &code
	}
	if f.RequestHeaders, err = decodeHeaders(reqHdr); err != nil {
		return nil, fmt.Errorf("decode request headers for flow %d: %w", id, err)
	}
	if f.ResponseHeaders, err = decodeHeaders(respHdr); err != nil {
		return nil, fmt.Errorf("decode response headers for flow %d: %w", id, err)
	}

	return &f, nil
}

// GetMeta returns flow metadata (headers included, bodies excluded) for id,
// or ErrNotFound. A flow whose response never arrived is still found; its
// Status is nil.
func (s *Store) GetMeta(ctx context.Context, id int64) (*FlowMeta, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, ts, method, url, host, path, status, content_type,
			resource_type, duration_ms, req_headers, resp_headers,
			req_size, resp_size
		 FROM flows WHERE id = ?`, id)

	meta, err := scanFlowMeta(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get flow meta %d: %w", id, err)
	}
	return meta, nil
}

// scanFlowMeta scans the canonical meta column set shared by GetMeta and List.
func scanFlowMeta(scan func(...any) error) (*FlowMeta, error) {
	var m FlowMeta
	var ts int64
	var status sql.NullInt64
	var reqHdr, respHdr []byte
	err := scan(&m.ID, &ts, &m.Method, &m.URL, &m.Host, &m.Path, &status,
		&m.ContentType, &m.ResourceType, &m.DurationMs, &reqHdr, &respHdr,
		&m.RequestSize, &m.ResponseSize)
	if err != nil {
		return nil, err
	}

	m.Timestamp = time.UnixMilli(ts).UTC()
	if status.Valid {
		code := int(status.Int64)
		m.Status = &code
	}
	if m.RequestHeaders, err = decodeHeaders(reqHdr); err != nil {
		return nil, err
	}
	if m.ResponseHeaders, err = decodeHeaders(respHdr); err != nil {
		return nil, err
	}
	return &m, nil
}

// Count returns the number of stored flows.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flows`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count flows: %w", err)
	}
	return n, nil
}

// Clear deletes every flow and starts a new capture session. Id allocation
// restarts at 1: outstanding ids and pagination cursors from the previous
// session are invalid afterwards (the rotated session id makes that
// detectable). Returns the number of deleted flows.
func (s *Store) Clear(ctx context.Context) (int, error) {
	var deleted int
	err := s.withWriteRetry(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM flows`).Scan(&deleted); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM flows`); err != nil {
			return err
		}
		// Reset AUTOINCREMENT so the next session allocates from 1 again
		if _, err := tx.ExecContext(ctx, `DELETE FROM sqlite_sequence WHERE name = 'flows'`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta (k, v) VALUES ('session_id', ?)
			 ON CONFLICT(k) DO UPDATE SET v = excluded.v`, uuid.NewString()); err != nil {
			return err
		}

		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("clear store: %w", err)
	}
	return deleted, nil
}

// withWriteRetry runs fn, retrying briefly on transient lock contention
// before surfacing the error.
func (s *Store) withWriteRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt <= writeRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(writeRetryDelay)
		}
		if err = fn(); err == nil || !isBusyError(err) {
			return err
		}
	}
	return fmt.Errorf("store busy after %d retries: %w", writeRetries, err)
}

// isBusyError reports whether err is SQLite lock contention (SQLITE_BUSY /
// SQLITE_LOCKED), which is safe to retry.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// NormalizeHost lowercases a host and strips any port suffix. Stored host
// values and host filters both pass through here so suffix matching is
// consistent.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	// Strip :port, but leave IPv6 literals like [::1] intact
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		if !strings.Contains(host[:i], ":") || strings.HasSuffix(host[:i], "]") {
			host = host[:i]
		}
	}
	return strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
}

// SplitURL derives host and path from a full URL. Falls back to treating the
// whole string as a path when parsing fails.
func SplitURL(rawURL string) (host, path string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", rawURL
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return NormalizeHost(u.Host), path
}
