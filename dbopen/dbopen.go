// Package dbopen opens the leadfinder SQLite database on modernc.org/sqlite.
//
// Pragmas travel in the DSN as _pragma parameters so every pooled connection
// gets them, not only the first one. The scan task and the operator command
// loop write through separate connections, which is where busy_timeout
// matters.
//
// Usage:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("data/leads.db", dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
//
// In tests:
//
//	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

const memoryPath = ":memory:"

type options struct {
	busyTimeout int
	mkdirAll    bool
	schemas     []string
}

// Option customises Open.
type Option func(*options)

// WithBusyTimeout sets busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyTimeout = ms } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdirAll = true } }

// WithSchema queues SQL to execute once the database is reachable.
func WithSchema(s string) Option { return func(o *options) { o.schemas = append(o.schemas, s) } }

// DSN returns the modernc.org/sqlite data source name for path with the
// connection pragmas attached.
func DSN(path string, busyTimeout int) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout("+strconv.Itoa(busyTimeout)+")")
	if path != memoryPath {
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "synchronous(NORMAL)")
	}
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the database at path. The caller blank-imports modernc.org/sqlite.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{busyTimeout: 10_000}
	for _, opt := range opts {
		opt(&o)
	}

	if o.mkdirAll && path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir %s: %w", filepath.Dir(path), err)
		}
	}

	db, err := sql.Open("sqlite", DSN(path, o.busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping %s: %w", path, err)
	}
	for i, s := range o.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: schema #%d: %w", i+1, err)
		}
	}
	return db, nil
}

// OpenMemory opens a private in-memory database for a test and closes it on
// cleanup. The pool is pinned to one connection: each ":memory:" connection
// is a database of its own.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memoryPath, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
