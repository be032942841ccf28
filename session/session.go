// Package session owns the single browsing session of a scan cycle: it
// acquires a page from an Opener (Chrome in production), logs in with
// ordered fallback strategies, verifies the page is past the auth wall, and
// releases everything exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/leadfinder/driver"
	"github.com/hazyhaar/leadfinder/pace"
)

var (
	ErrNoLoginForm      = errors.New("session: no login form found")
	ErrNoSubmit         = errors.New("session: no submit strategy succeeded")
	ErrNotAuthenticated = errors.New("session: not authenticated after login")
)

// Error is a session-level failure. It ends the scan cycle early; the
// session is still released.
type Error struct {
	Op    string
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("session: %s: %v", e.Op, e.Cause) }

func (e *Error) Unwrap() error { return e.Cause }

// Credentials for the browsing account.
type Credentials struct {
	Email    string
	Password string
}

// Opener creates a page and the function that tears it down.
type Opener interface {
	Open(ctx context.Context) (driver.Page, func() error, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (driver.Page, func() error, error)

func (f OpenerFunc) Open(ctx context.Context) (driver.Page, func() error, error) { return f(ctx) }

// Session is one acquired browsing session.
type Session struct {
	Page driver.Page

	teardown func() error
	once     sync.Once
	released bool
	mu       sync.Mutex
}

// Released reports whether Release has run.
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// Config configures a Manager.
type Config struct {
	Opener   Opener
	Pacer    *pace.Pacer
	Logger   *slog.Logger
	LoginURL string

	SettleMin, SettleMax       time.Duration
	KeystrokeMin, KeystrokeMax time.Duration
	// MinPageText is the body length above which a page without a login
	// prompt counts as authenticated. Default 200 runes.
	MinPageText int
}

func (c *Config) defaults() {
	if c.Pacer == nil {
		c.Pacer = pace.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.LoginURL == "" {
		c.LoginURL = "https://www.facebook.com/login"
	}
	if c.MinPageText <= 0 {
		c.MinPageText = 200
	}
}

// Manager implements the session lifecycle.
type Manager struct {
	cfg Config
	log *slog.Logger
}

// NewManager returns a Manager. cfg.Opener is required.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg, log: cfg.Logger}
}

// Acquire opens a new session.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	if m.cfg.Opener == nil {
		return nil, &Error{Op: "acquire", Cause: errors.New("no opener configured")}
	}
	page, teardown, err := m.cfg.Opener.Open(ctx)
	if err != nil {
		return nil, &Error{Op: "acquire", Cause: err}
	}
	m.log.Info("session: acquired")
	return &Session{Page: page, teardown: teardown}, nil
}

// Release closes the page and tears the browser down. It is safe to call
// more than once and on a nil session.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.Page != nil {
			if err := s.Page.Close(); err != nil {
				m.log.Debug("session: close page", "error", err)
			}
		}
		if s.teardown != nil {
			if err := s.teardown(); err != nil {
				m.log.Warn("session: teardown", "error", err)
			}
		}
		s.mu.Lock()
		s.released = true
		s.mu.Unlock()
		m.log.Info("session: released")
	})
}
