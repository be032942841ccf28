package store

import (
	"database/sql"
	"fmt"
)

// Schema creates the leads, sources and scan_cycles tables. Timestamps are
// unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS leads (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id      TEXT NOT NULL UNIQUE,
	source_name      TEXT NOT NULL DEFAULT '',
	source_url       TEXT NOT NULL,
	author           TEXT NOT NULL DEFAULT 'unknown',
	text             TEXT NOT NULL,
	permalink        TEXT NOT NULL,
	fingerprint      TEXT NOT NULL DEFAULT '',
	matched_keywords TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'new'
		CHECK (status IN ('new','saved','contacted','not_relevant','archived')),
	notes            TEXT NOT NULL DEFAULT '',
	posted_at        INTEGER NOT NULL,
	discovered_at    INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_discovered_at ON leads(discovered_at);
CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);

CREATE TABLE IF NOT EXISTS sources (
	url               TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	total_posts_found INTEGER NOT NULL DEFAULT 0,
	is_active         INTEGER NOT NULL DEFAULT 1,
	last_checked_at   INTEGER NOT NULL,
	created_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS scan_cycles (
	id               TEXT PRIMARY KEY,
	started_at       INTEGER NOT NULL,
	finished_at      INTEGER NOT NULL,
	outcome          TEXT NOT NULL,
	sources_visited  INTEGER NOT NULL DEFAULT 0,
	items_seen       INTEGER NOT NULL DEFAULT 0,
	skipped_existing INTEGER NOT NULL DEFAULT 0,
	irrelevant       INTEGER NOT NULL DEFAULT 0,
	new_leads        INTEGER NOT NULL DEFAULT 0,
	notify_failures  INTEGER NOT NULL DEFAULT 0,
	persist_failures INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_scan_cycles_started ON scan_cycles(started_at);
`

// ApplySchema executes Schema on db. It is idempotent.
func ApplySchema(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	return nil
}
