// Package config loads leadfinder configuration from a YAML file, a .env
// file and process environment variables, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level leadfinder configuration.
type Config struct {
	Telegram  TelegramConfig      `yaml:"telegram"`
	Database  DatabaseConfig      `yaml:"database"`
	Facebook  FacebookConfig      `yaml:"facebook"`
	Scan      ScanConfig          `yaml:"scan"`
	Keywords  KeywordsConfig      `yaml:"keywords"`
	Browser   BrowserConfig       `yaml:"browser"`
	Pacing    PacingConfig        `yaml:"pacing"`
	Selectors map[string][]string `yaml:"selectors"`
	Log       LogConfig           `yaml:"log"`
	Admin     AdminConfig         `yaml:"admin"`

	loc *time.Location
}

// TelegramConfig holds the bot credentials and the single operator chat.
type TelegramConfig struct {
	BotToken    string        `yaml:"bot_token"`
	ChatID      string        `yaml:"chat_id"`
	APIBase     string        `yaml:"api_base"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// FacebookConfig holds the account used to browse and the groups to scan.
type FacebookConfig struct {
	Email    string   `yaml:"email"`
	Password string   `yaml:"password"`
	Groups   []string `yaml:"groups"`
	LoginURL string   `yaml:"login_url"`
	// MobileFirst rewrites www.facebook.com source URLs to m.facebook.com.
	MobileFirst bool `yaml:"mobile_first"`
}

// ScanConfig controls cycle cadence and bounds.
type ScanConfig struct {
	Interval        time.Duration `yaml:"interval"`
	PostsPerSource  int           `yaml:"posts_per_source"`
	SourcesPerCycle int           `yaml:"sources_per_cycle"`
	MaxRounds       int           `yaml:"max_rounds"`
	MinTextLength   int           `yaml:"min_text_length"`
	QuietStart      int           `yaml:"quiet_start"`
	QuietEnd        int           `yaml:"quiet_end"`
	Timezone        string        `yaml:"timezone"`
}

// KeywordsConfig holds the relevance lists.
type KeywordsConfig struct {
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Headless         bool     `yaml:"headless"`
	Remote           string   `yaml:"remote"`
	XvfbDisplay      string   `yaml:"xvfb_display"`
	UserAgent        string   `yaml:"user_agent"`
	Lang             string   `yaml:"lang"`
	ResourceBlocking []string `yaml:"resource_blocking"`
}

// PacingConfig holds the randomized human-like delays.
type PacingConfig struct {
	NavigationMin time.Duration `yaml:"navigation_min"`
	NavigationMax time.Duration `yaml:"navigation_max"`
	ScrollMin     time.Duration `yaml:"scroll_min"`
	ScrollMax     time.Duration `yaml:"scroll_max"`
	ScrollStepMin int           `yaml:"scroll_step_min"`
	ScrollStepMax int           `yaml:"scroll_step_max"`
	ScrollSteps   int           `yaml:"scroll_steps"`
	SourceMin     time.Duration `yaml:"source_min"`
	SourceMax     time.Duration `yaml:"source_max"`
	KeystrokeMin  time.Duration `yaml:"keystroke_min"`
	KeystrokeMax  time.Duration `yaml:"keystroke_max"`
}

// LogConfig selects level and handler format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn (warning) | error
	Format string `yaml:"format"` // json | text
}

var logLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// SlogLevel maps Level to a slog level, case-insensitively. ok is false for
// an unknown level, which maps to info.
func (l LogConfig) SlogLevel() (level slog.Level, ok bool) {
	level, ok = logLevels[strings.ToLower(strings.TrimSpace(l.Level))]
	if !ok {
		return slog.LevelInfo, false
	}
	return level, true
}

// AdminConfig enables the read-only HTTP surface when Listen is set.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a Config with every default filled in.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			APIBase:     "https://api.telegram.org",
			PollTimeout: 30 * time.Second,
			MinInterval: time.Second,
		},
		Database: DatabaseConfig{Path: "data/leadfinder.db"},
		Facebook: FacebookConfig{
			LoginURL:    "https://www.facebook.com/login",
			MobileFirst: true,
		},
		Scan: ScanConfig{
			Interval:        180 * time.Minute,
			PostsPerSource:  10,
			SourcesPerCycle: 2,
			MaxRounds:       5,
			MinTextLength:   10,
			QuietStart:      2,
			QuietEnd:        7,
			Timezone:        "Asia/Jerusalem",
		},
		Browser: BrowserConfig{
			XvfbDisplay: ":99",
			Lang:        "he-IL",
		},
		Pacing: PacingConfig{
			NavigationMin: 4 * time.Second,
			NavigationMax: 7 * time.Second,
			ScrollMin:     500 * time.Millisecond,
			ScrollMax:     1500 * time.Millisecond,
			ScrollStepMin: 200,
			ScrollStepMax: 400,
			ScrollSteps:   5,
			SourceMin:     10 * time.Second,
			SourceMax:     20 * time.Second,
			KeystrokeMin:  100 * time.Millisecond,
			KeystrokeMax:  300 * time.Millisecond,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// LoadDotenv loads KEY=VALUE pairs from the given files into the process
// environment. Variables already set are left alone. Missing files are
// skipped.
func LoadDotenv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from defaults, the optional YAML file at path, then
// environment overrides. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults repairs zero values a YAML file may have introduced for
// settings where zero is never meaningful.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Telegram.APIBase == "" {
		c.Telegram.APIBase = d.Telegram.APIBase
	}
	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = d.Telegram.PollTimeout
	}
	if c.Database.Path == "" {
		c.Database.Path = d.Database.Path
	}
	if c.Facebook.LoginURL == "" {
		c.Facebook.LoginURL = d.Facebook.LoginURL
	}
	if c.Scan.MaxRounds <= 0 {
		c.Scan.MaxRounds = d.Scan.MaxRounds
	}
	if c.Scan.MinTextLength <= 0 {
		c.Scan.MinTextLength = d.Scan.MinTextLength
	}
	if c.Scan.Timezone == "" {
		c.Scan.Timezone = d.Scan.Timezone
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = d.Browser.XvfbDisplay
	}
	if c.Pacing.ScrollSteps <= 0 {
		c.Pacing.ScrollSteps = d.Pacing.ScrollSteps
	}
	if c.Pacing.ScrollStepMax <= 0 {
		c.Pacing.ScrollStepMin, c.Pacing.ScrollStepMax = d.Pacing.ScrollStepMin, d.Pacing.ScrollStepMax
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// Location returns the timezone resolved by Validate, or UTC before that.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}
