package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/leadfinder/dbopen"
)

// UpsertSourceStats records a finished source scan: the display name and
// check time are replaced, found is added to the running total. An empty
// name keeps the stored one.
func (s *Store) UpsertSourceStats(ctx context.Context, url, name string, found int, checkedAt time.Time) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO sources (url, name, total_posts_found, is_active, last_checked_at, created_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			name = CASE WHEN excluded.name = '' THEN sources.name ELSE excluded.name END,
			last_checked_at = excluded.last_checked_at,
			total_posts_found = sources.total_posts_found + excluded.total_posts_found`,
		url, name, found, toMillis(checkedAt), toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("store: upsert source %s: %w", url, err)
	}
	return nil
}

// ListSources returns every source that has been scanned at least once.
func (s *Store) ListSources(ctx context.Context) ([]*SourceStats, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT url, name, total_posts_found, is_active, last_checked_at, created_at
		FROM sources ORDER BY last_checked_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list sources: %w", err)
	}
	defer rows.Close()

	var out []*SourceStats
	for rows.Next() {
		var (
			src              SourceStats
			checked, created int64
		)
		if err := rows.Scan(&src.URL, &src.Name, &src.TotalPostsFound, &src.Active, &checked, &created); err != nil {
			return nil, fmt.Errorf("store: list sources: %w", err)
		}
		src.LastCheckedAt = fromMillis(checked)
		src.CreatedAt = fromMillis(created)
		out = append(out, &src)
	}
	return out, rows.Err()
}
