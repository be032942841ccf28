package session

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/leadfinder/driver"
)

// deniedPaths are URL path prefixes that mean the session is on an auth
// wall rather than content.
var deniedPaths = []string{"/login", "/checkpoint", "/recover", "/two_step_verification"}

// chromeIndicators only render for a logged-in user.
var chromeIndicators = []string{
	`div[role="navigation"]`,
	`[role="banner"] [role="navigation"]`,
	`input[type="search"]`,
	`[aria-label="Search Facebook"]`,
	`a[href*="/me/"]`,
	`a[aria-label="Your profile"]`,
	`#mJewelNav`,
}

// loginPrompt matches a login call to action as whole words. RE2's \b is
// ASCII-only, so word edges are spelled out to cover Hebrew.
var loginPrompt = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])(?:log ?in|log into facebook|התחברות|התחבר)(?:$|[^\p{L}\p{N}_])`)

// promptLineMax is the longest text line read as a login prompt. Longer
// lines are post text that happens to mention logging in.
const promptLineMax = 60

// passwordField only renders on a login form.
const passwordField = `input[type="password"]`

// VerifyAuthenticated reports whether the session page is past the auth
// wall.
func (m *Manager) VerifyAuthenticated(ctx context.Context, s *Session) bool {
	return m.VerifyPage(ctx, s.Page)
}

// VerifyPage escalates through three checks: a URL deny-list (any hit
// fails), authenticated-chrome indicators (any hit passes), then the body
// text, which must show no login form or prompt line and exceed MinPageText.
func (m *Manager) VerifyPage(ctx context.Context, p driver.Page) bool {
	raw, err := p.CurrentURL(ctx)
	if err != nil {
		return false
	}
	if deniedURL(raw) {
		m.log.Debug("session: verify failed on url", "url", raw)
		return false
	}

	for _, q := range chromeIndicators {
		if els, err := p.Find(ctx, q); err == nil && len(els) > 0 {
			return true
		}
	}

	text, err := p.Text(ctx)
	if err != nil {
		return false
	}
	if els, err := p.Find(ctx, passwordField); err == nil && len(els) > 0 {
		m.log.Debug("session: verify failed on login form")
		return false
	}
	if line, ok := promptLine(text); ok {
		m.log.Debug("session: verify failed on login prompt", "line", line)
		return false
	}
	return utf8.RuneCountInString(strings.TrimSpace(text)) > m.cfg.MinPageText
}

// promptLine returns the first short line of text that is a login prompt.
func promptLine(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || utf8.RuneCountInString(line) > promptLineMax {
			continue
		}
		if loginPrompt.MatchString(line) {
			return line, true
		}
	}
	return "", false
}

func deniedURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	path := strings.ToLower(u.Path)
	for _, p := range deniedPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(raw), "captcha")
}
