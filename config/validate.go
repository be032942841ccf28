package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/hazyhaar/leadfinder/selector"
)

// ValidationError lists every configuration problem found.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config: invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks required settings and bounds, and resolves the timezone.
// The process refuses to start when it returns an error.
func (c *Config) Validate() error {
	var p []string
	add := func(format string, args ...any) { p = append(p, fmt.Sprintf(format, args...)) }

	if c.Telegram.BotToken == "" {
		add("TELEGRAM_BOT_TOKEN is required")
	}
	if c.Telegram.ChatID == "" {
		add("TELEGRAM_CHAT_ID is required")
	}
	if c.Database.Path == "" {
		add("DATABASE_PATH is required")
	}
	if c.Facebook.Email == "" {
		add("FB_EMAIL is required")
	}
	if c.Facebook.Password == "" {
		add("FB_PASSWORD is required")
	}
	if len(c.Facebook.Groups) == 0 {
		add("FB_GROUPS must list at least one group")
	}
	for _, g := range c.Facebook.Groups {
		u, err := url.Parse(g)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			add("FB_GROUPS: not an absolute URL: %q", g)
		}
	}
	if len(c.Keywords.Positive) == 0 {
		add("POSITIVE_KEYWORDS must list at least one keyword")
	}
	if c.Scan.QuietStart < 0 || c.Scan.QuietStart > 23 {
		add("QUIET_HOURS_START must be in [0,23], got %d", c.Scan.QuietStart)
	}
	if c.Scan.QuietEnd < 0 || c.Scan.QuietEnd > 23 {
		add("QUIET_HOURS_END must be in [0,23], got %d", c.Scan.QuietEnd)
	}
	if c.Scan.Interval < time.Minute {
		add("scan interval must be at least 1m, got %s", c.Scan.Interval)
	}
	if c.Scan.PostsPerSource <= 0 {
		add("POSTS_PER_GROUP must be positive, got %d", c.Scan.PostsPerSource)
	}
	if c.Scan.SourcesPerCycle <= 0 {
		add("GROUPS_PER_CYCLE must be positive, got %d", c.Scan.SourcesPerCycle)
	}
	if c.Pacing.NavigationMax < c.Pacing.NavigationMin ||
		c.Pacing.ScrollMax < c.Pacing.ScrollMin ||
		c.Pacing.SourceMax < c.Pacing.SourceMin ||
		c.Pacing.KeystrokeMax < c.Pacing.KeystrokeMin ||
		c.Pacing.ScrollStepMax < c.Pacing.ScrollStepMin {
		add("pacing: every max must be >= its min")
	}
	for name := range c.Selectors {
		if _, ok := selector.Lookup(name); !ok {
			add("selectors: unknown target %q", name)
		}
	}
	if _, ok := c.Log.SlogLevel(); !ok {
		add("LOG_LEVEL: unknown level %q", c.Log.Level)
	}

	loc, err := time.LoadLocation(c.Scan.Timezone)
	if err != nil {
		add("TIMEZONE: %v", err)
	} else {
		c.loc = loc
	}

	if len(p) > 0 {
		return &ValidationError{Problems: p}
	}
	return nil
}
