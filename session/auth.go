package session

import (
	"context"
	"fmt"

	"github.com/hazyhaar/leadfinder/driver"
)

// fieldStrategy locates the login fields one way.
type fieldStrategy struct {
	name     string
	email    string
	password string
}

var fieldStrategies = []fieldStrategy{
	{"id", "#email", "#pass"},
	{"name", `input[name="email"]`, `input[name="pass"]`},
	{"type", `input[type="email"]`, `input[type="password"]`},
	{"mobile", "#m_login_email", "#m_login_password"},
}

var submitQueries = []string{
	`button[name="login"]`,
	`[data-testid="royal_login_button"]`,
	`button[type="submit"]`,
	`input[type="submit"]`,
}

// Authenticate logs in on the session page. Field location and submission
// each try their strategies in order; it fails only when every strategy of
// a step fails, or when the resulting page does not verify.
func (m *Manager) Authenticate(ctx context.Context, s *Session, creds Credentials) error {
	p := s.Page
	if err := p.Navigate(ctx, m.cfg.LoginURL); err != nil {
		return &Error{Op: "authenticate", Cause: err}
	}
	if err := m.cfg.Pacer.Between(ctx, m.cfg.SettleMin, m.cfg.SettleMax); err != nil {
		return &Error{Op: "authenticate", Cause: err}
	}

	// An existing profile may already be logged in.
	if m.VerifyAuthenticated(ctx, s) {
		m.log.Info("session: already authenticated")
		return nil
	}

	email, pass, strategy := m.locateFields(ctx, p)
	if email == nil {
		return &Error{Op: "authenticate", Cause: ErrNoLoginForm}
	}
	m.log.Debug("session: login fields located", "strategy", strategy)

	if err := m.typeHuman(ctx, email, creds.Email); err != nil {
		return &Error{Op: "type email", Cause: err}
	}
	if err := m.cfg.Pacer.Between(ctx, m.cfg.KeystrokeMin*3, m.cfg.KeystrokeMax*3); err != nil {
		return &Error{Op: "authenticate", Cause: err}
	}
	if err := m.typeHuman(ctx, pass, creds.Password); err != nil {
		return &Error{Op: "type password", Cause: err}
	}

	if err := m.submit(ctx, p, pass); err != nil {
		return &Error{Op: "submit", Cause: err}
	}
	if err := m.cfg.Pacer.Between(ctx, m.cfg.SettleMin, m.cfg.SettleMax); err != nil {
		return &Error{Op: "authenticate", Cause: err}
	}

	if !m.VerifyAuthenticated(ctx, s) {
		return &Error{Op: "verify", Cause: ErrNotAuthenticated}
	}
	m.log.Info("session: authenticated")
	return nil
}

func (m *Manager) locateFields(ctx context.Context, p driver.Page) (email, pass driver.Element, strategy string) {
	for _, st := range fieldStrategies {
		e, err := p.Find(ctx, st.email)
		if err != nil || len(e) == 0 {
			continue
		}
		pw, err := p.Find(ctx, st.password)
		if err != nil || len(pw) == 0 {
			continue
		}
		return e[0], pw[0], st.name
	}
	return nil, nil, ""
}

// typeHuman enters text one character at a time with a keystroke pause.
// Input focuses the field itself.
func (m *Manager) typeHuman(ctx context.Context, el driver.Element, text string) error {
	for _, r := range text {
		if err := el.Input(ctx, string(r)); err != nil {
			return err
		}
		if err := m.cfg.Pacer.Between(ctx, m.cfg.KeystrokeMin, m.cfg.KeystrokeMax); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) submit(ctx context.Context, p driver.Page, pass driver.Element) error {
	for _, q := range submitQueries {
		els, err := p.Find(ctx, q)
		if err != nil || len(els) == 0 {
			continue
		}
		if err := els[0].Click(ctx); err != nil {
			m.log.Debug("session: submit click failed", "query", q, "error", err)
			continue
		}
		return nil
	}
	if err := pass.Submit(ctx); err != nil {
		return fmt.Errorf("%w: enter key: %v", ErrNoSubmit, err)
	}
	return nil
}
