package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/leadfinder/driver"
)

// ChromeConfig configures the Chrome opener.
type ChromeConfig struct {
	// Headless runs without a display. When false, Chrome runs headful on
	// an Xvfb display, which is harder to fingerprint.
	Headless bool

	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome.
	RemoteURL string

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	UserAgent string
	Lang      string

	Logger *slog.Logger
}

// Chrome opens a fresh stealth page in a newly launched (or remote)
// browser for every session.
type Chrome struct {
	cfg ChromeConfig
}

// NewChrome returns a Chrome opener.
func NewChrome(cfg ChromeConfig) *Chrome {
	if cfg.XvfbDisplay == "" {
		cfg.XvfbDisplay = ":99"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Chrome{cfg: cfg}
}

// chromeRun is everything one session started and must stop.
type chromeRun struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	log     *slog.Logger
}

// Open launches (or connects to) Chrome and returns a stealth page.
func (c *Chrome) Open(ctx context.Context) (driver.Page, func() error, error) {
	log := c.cfg.Logger
	run := &chromeRun{log: log}

	if !c.cfg.Headless && c.cfg.RemoteURL == "" {
		if err := run.startXvfb(c.cfg.XvfbDisplay); err != nil {
			return nil, nil, fmt.Errorf("session: xvfb: %w", err)
		}
	}

	wsURL := c.cfg.RemoteURL
	if wsURL != "" {
		log.Info("session: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New()
		if c.cfg.Headless {
			l = l.Headless(true)
		} else {
			l = l.Headless(false).Env("DISPLAY=" + c.cfg.XvfbDisplay)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")
		if c.cfg.Lang != "" {
			l = l.Set("lang", c.cfg.Lang)
		}
		u, err := l.Context(ctx).Launch()
		if err != nil {
			run.teardown()
			return nil, nil, fmt.Errorf("session: launch chrome: %w", err)
		}
		wsURL = u
		run.lnch = l
		log.Info("session: launched local chrome", "headless", c.cfg.Headless)
	}

	b := rod.New().ControlURL(wsURL).Context(ctx)
	if err := b.Connect(); err != nil {
		run.teardown()
		return nil, nil, fmt.Errorf("session: connect: %w", err)
	}
	// Detach the browser from the acquiring context; Release ends it.
	run.browser = b.Context(context.Background())

	page, err := stealth.Page(run.browser)
	if err != nil {
		run.teardown()
		return nil, nil, fmt.Errorf("session: create page: %w", err)
	}

	if c.cfg.UserAgent != "" || c.cfg.Lang != "" {
		err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      c.cfg.UserAgent,
			AcceptLanguage: c.cfg.Lang,
		})
		if err != nil {
			log.Warn("session: set user agent", "error", err)
		}
	}

	if len(c.cfg.ResourceBlocking) > 0 {
		applyResourceBlocking(page, c.cfg.ResourceBlocking)
	}

	return driver.NewRodPage(page), run.teardown, nil
}

func (r *chromeRun) teardown() error {
	var errs []error
	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
	r.stopXvfb()
	return errors.Join(errs...)
}

// startXvfb launches an Xvfb virtual display for headful mode.
func (r *chromeRun) startXvfb(display string) error {
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	r.xvfb = cmd

	// Give Xvfb a moment to initialise.
	time.Sleep(500 * time.Millisecond)

	r.log.Info("session: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

func (r *chromeRun) stopXvfb() {
	if r.xvfb == nil {
		return
	}
	if r.xvfb.Process != nil {
		r.xvfb.Process.Kill()
		r.xvfb.Wait()
	}
	r.log.Info("session: xvfb stopped")
	r.xvfb = nil
}

// applyResourceBlocking fails requests of the configured resource types.
func applyResourceBlocking(page *rod.Page, types []string) {
	blockSet := make(map[string]bool, len(types))
	for _, t := range types {
		blockSet[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(blockSet, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
}

func shouldBlock(blockSet map[string]bool, resType string) bool {
	switch lower := strings.ToLower(resType); lower {
	case "image":
		return blockSet["images"]
	case "font":
		return blockSet["fonts"]
	case "media":
		return blockSet["media"]
	case "stylesheet":
		return blockSet["stylesheets"]
	default:
		return blockSet[lower]
	}
}
