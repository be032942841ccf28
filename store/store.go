// Package store persists leads, per-source scan statistics and the scan
// cycle log in SQLite.
//
// The store does not open its database: main opens one *sql.DB with
// dbopen and hands it to New, and the scan task, the command loop and the
// admin surface share that handle.
package store

import (
	"database/sql"
	"time"
)

// Store wraps the leadfinder database.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// New creates a Store from an already-opened database.
func New(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}

// WithClock overrides the clock used for created_at / updated_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}
