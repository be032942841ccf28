package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/leadfinder/dbopen"
)

const leadColumns = `id, external_id, source_name, source_url, author, text, permalink,
	fingerprint, matched_keywords, status, notes, posted_at, discovered_at, created_at, updated_at`

// InsertLead stores l with status "new" unless a lead with the same
// external id already exists. inserted reports whether a row was written.
// Uniqueness is enforced by the database, so concurrent or repeated inserts
// of one external id leave exactly one row.
func (s *Store) InsertLead(ctx context.Context, l *Lead) (inserted bool, err error) {
	if l.ExternalID == "" {
		return false, fmt.Errorf("store: insert lead: empty external id")
	}
	now := s.now().UTC()
	l.Status = StatusNew
	l.CreatedAt, l.UpdatedAt = now, now
	if l.DiscoveredAt.IsZero() {
		l.DiscoveredAt = now
	}
	if l.PostedAt.IsZero() {
		l.PostedAt = l.DiscoveredAt
	}
	if l.Author == "" {
		l.Author = "unknown"
	}

	res, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO leads (external_id, source_name, source_url, author, text, permalink,
		fingerprint, matched_keywords, status, notes, posted_at, discovered_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO NOTHING`,
		l.ExternalID, l.SourceName, l.SourceURL, l.Author, l.Text, l.Permalink,
		l.Fingerprint, strings.Join(l.MatchedKeywords, ","), string(l.Status), l.Notes,
		toMillis(l.PostedAt), toMillis(l.DiscoveredAt), toMillis(l.CreatedAt), toMillis(l.UpdatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("store: insert lead %s: %w", l.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: insert lead %s: %w", l.ExternalID, err)
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		l.ID = id
	}
	return true, nil
}

// LeadExists reports whether a lead with externalID is stored.
func (s *Store) LeadExists(ctx context.Context, externalID string) (bool, error) {
	var one int
	err := s.DB.QueryRowContext(ctx,
		`SELECT 1 FROM leads WHERE external_id = ? LIMIT 1`, externalID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: lead exists %s: %w", externalID, err)
	}
	return true, nil
}

// GetLead returns the lead with externalID or ErrNotFound.
func (s *Store) GetLead(ctx context.Context, externalID string) (*Lead, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE external_id = ?`, externalID)
	l, err := scanLead(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// UpdateStatus moves a lead to status. It returns ErrNotFound when no lead
// has externalID.
func (s *Store) UpdateStatus(ctx context.Context, externalID string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE leads SET status = ?, updated_at = ? WHERE external_id = ?`,
		string(status), toMillis(s.now()), externalID)
	if err != nil {
		return fmt.Errorf("store: update status %s: %w", externalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNotes replaces a lead's operator notes.
func (s *Store) SetNotes(ctx context.Context, externalID, notes string) error {
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE leads SET notes = ?, updated_at = ? WHERE external_id = ?`,
		notes, toMillis(s.now()), externalID)
	if err != nil {
		return fmt.Errorf("store: set notes %s: %w", externalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByStatus returns the number of leads per status. Every status is
// present in the map, zero when no lead has it.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	counts := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		counts[st] = 0
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("store: count by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("store: count by status: %w", err)
		}
		counts[Status(st)] = n
	}
	return counts, rows.Err()
}

// RecentLeads returns up to limit leads, newest discovery first. An empty
// status selects every status.
func (s *Store) RecentLeads(ctx context.Context, limit int, status Status) ([]*Lead, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT `+leadColumns+` FROM leads ORDER BY discovered_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.DB.QueryContext(ctx,
			`SELECT `+leadColumns+` FROM leads WHERE status = ? ORDER BY discovered_at DESC, id DESC LIMIT ?`,
			string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("store: recent leads: %w", err)
	}
	defer rows.Close()

	var out []*Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("store: recent leads: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLead(row scanner) (*Lead, error) {
	var (
		l                                      Lead
		status, keywords                       string
		postedAt, discovered, created, updated int64
	)
	err := row.Scan(&l.ID, &l.ExternalID, &l.SourceName, &l.SourceURL, &l.Author, &l.Text,
		&l.Permalink, &l.Fingerprint, &keywords, &status, &l.Notes,
		&postedAt, &discovered, &created, &updated)
	if err != nil {
		return nil, err
	}
	l.Status = Status(status)
	if keywords != "" {
		l.MatchedKeywords = strings.Split(keywords, ",")
	}
	l.PostedAt = fromMillis(postedAt)
	l.DiscoveredAt = fromMillis(discovered)
	l.CreatedAt = fromMillis(created)
	l.UpdatedAt = fromMillis(updated)
	return &l, nil
}
