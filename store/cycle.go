package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/leadfinder/dbopen"
)

// RecordCycle appends c to the scan cycle log.
func (s *Store) RecordCycle(ctx context.Context, c *Cycle) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO scan_cycles (id, started_at, finished_at, outcome, sources_visited,
		items_seen, skipped_existing, irrelevant, new_leads, notify_failures, persist_failures, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, toMillis(c.StartedAt), toMillis(c.FinishedAt), c.Outcome, c.SourcesVisited,
		c.ItemsSeen, c.SkippedExisting, c.Irrelevant, c.NewLeads, c.NotifyFailures,
		c.PersistFailures, c.Error)
	if err != nil {
		return fmt.Errorf("store: record cycle %s: %w", c.ID, err)
	}
	return nil
}

// LastCycle returns the most recently started cycle or ErrNotFound.
func (s *Store) LastCycle(ctx context.Context) (*Cycle, error) {
	var (
		c                 Cycle
		started, finished int64
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, outcome, sources_visited, items_seen,
		skipped_existing, irrelevant, new_leads, notify_failures, persist_failures, error
		FROM scan_cycles ORDER BY started_at DESC, id DESC LIMIT 1`).
		Scan(&c.ID, &started, &finished, &c.Outcome, &c.SourcesVisited, &c.ItemsSeen,
			&c.SkippedExisting, &c.Irrelevant, &c.NewLeads, &c.NotifyFailures,
			&c.PersistFailures, &c.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: last cycle: %w", err)
	}
	c.StartedAt = fromMillis(started)
	c.FinishedAt = fromMillis(finished)
	return &c, nil
}
