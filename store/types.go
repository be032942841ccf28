package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a lead or cycle does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrInvalidStatus is returned for a status outside the lead lifecycle.
	ErrInvalidStatus = errors.New("store: invalid status")
)

// Status is a lead's lifecycle state. Leads are created as StatusNew and
// only move through operator action.
type Status string

const (
	StatusNew         Status = "new"
	StatusSaved       Status = "saved"
	StatusContacted   Status = "contacted"
	StatusNotRelevant Status = "not_relevant"
	StatusArchived    Status = "archived"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusNew, StatusSaved, StatusContacted, StatusNotRelevant, StatusArchived}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Lead is a persisted relevant post.
type Lead struct {
	ID              int64     `json:"id"`
	ExternalID      string    `json:"external_id"`
	SourceName      string    `json:"source_name"`
	SourceURL       string    `json:"source_url"`
	Author          string    `json:"author"`
	Text            string    `json:"text"`
	Permalink       string    `json:"permalink"`
	Fingerprint     string    `json:"fingerprint,omitempty"`
	MatchedKeywords []string  `json:"matched_keywords,omitempty"`
	Status          Status    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	PostedAt        time.Time `json:"posted_at"`
	DiscoveredAt    time.Time `json:"discovered_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SourceStats is per-source scan telemetry.
type SourceStats struct {
	URL             string    `json:"url"`
	Name            string    `json:"name"`
	TotalPostsFound int64     `json:"total_posts_found"`
	Active          bool      `json:"active"`
	LastCheckedAt   time.Time `json:"last_checked_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// Cycle is the log record of one scan cycle.
type Cycle struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Outcome         string    `json:"outcome"`
	SourcesVisited  int       `json:"sources_visited"`
	ItemsSeen       int       `json:"items_seen"`
	SkippedExisting int       `json:"skipped_existing"`
	Irrelevant      int       `json:"irrelevant"`
	NewLeads        int       `json:"new_leads"`
	NotifyFailures  int       `json:"notify_failures"`
	PersistFailures int       `json:"persist_failures"`
	Error           string    `json:"error,omitempty"`
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
