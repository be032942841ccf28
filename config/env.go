package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides c with any of the recognised environment variables
// that are set and non-empty. Malformed numbers are reported together.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	var problems []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = SplitList(v)
		}
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: not an integer: %q", key, v))
			return
		}
		*dst = n
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: not a boolean: %q", key, v))
			return
		}
		*dst = b
	}

	str("TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken)
	str("TELEGRAM_CHAT_ID", &c.Telegram.ChatID)
	str("TELEGRAM_API_BASE", &c.Telegram.APIBase)
	str("DATABASE_PATH", &c.Database.Path)
	str("FB_EMAIL", &c.Facebook.Email)
	str("FB_PASSWORD", &c.Facebook.Password)
	list("FB_GROUPS", &c.Facebook.Groups)
	list("POSITIVE_KEYWORDS", &c.Keywords.Positive)
	list("NEGATIVE_KEYWORDS", &c.Keywords.Negative)
	str("TIMEZONE", &c.Scan.Timezone)
	str("LOG_LEVEL", &c.Log.Level)
	str("ADMIN_ADDR", &c.Admin.Listen)
	str("CHROME_REMOTE", &c.Browser.Remote)

	var minutes int
	integer("CHECK_INTERVAL_MINUTES", &minutes)
	if minutes > 0 {
		c.Scan.Interval = time.Duration(minutes) * time.Minute
	}
	integer("POSTS_PER_GROUP", &c.Scan.PostsPerSource)
	integer("GROUPS_PER_CYCLE", &c.Scan.SourcesPerCycle)
	integer("QUIET_HOURS_START", &c.Scan.QuietStart)
	integer("QUIET_HOURS_END", &c.Scan.QuietEnd)
	boolean("HEADLESS_MODE", &c.Browser.Headless)

	c.Log.Level = strings.ToLower(c.Log.Level)

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
