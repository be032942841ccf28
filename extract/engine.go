// Package extract turns a script-rendered group page into an ordered,
// deduplicated list of candidate posts.
//
// A visit runs a small state machine:
//
//	Loading -> Verifying -> Extracting -> (Revealing <-> Extracting) -> Done
//
// Loading navigates to the source (mobile variant first). Verifying rejects
// auth walls and empty pages. Each Extracting round resolves post containers
// and emits the ones whose text fingerprint is new within this visit.
// Revealing scrolls down and pauses so lazily loaded posts render. The visit
// ends after MaxRounds extracting rounds, after two consecutive rounds with
// nothing new, or once MaxItems items are collected.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/leadfinder/driver"
	"github.com/hazyhaar/leadfinder/pace"
	"github.com/hazyhaar/leadfinder/selector"
)

// Item is one candidate post.
type Item struct {
	ExternalID   string    `json:"external_id"`
	SourceName   string    `json:"source_name"`
	SourceURL    string    `json:"source_url"`
	Author       string    `json:"author"`
	Text         string    `json:"text"`
	Permalink    string    `json:"permalink"`
	Fingerprint  string    `json:"fingerprint"`
	DiscoveredAt time.Time `json:"discovered_at"`
	PostedAt     time.Time `json:"posted_at"`
}

// UnknownAuthor is used when no author can be resolved.
const UnknownAuthor = "unknown"

// State is a visit state.
type State int

const (
	Loading State = iota
	Verifying
	Extracting
	Revealing
	Done
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Verifying:
		return "verifying"
	case Extracting:
		return "extracting"
	case Revealing:
		return "revealing"
	case Done:
		return "done"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// Gate reports whether the loaded page is usable (authenticated, not a
// checkpoint). The session manager provides it.
type Gate func(ctx context.Context, p driver.Page) bool

// ErrNotVerified aborts a visit whose page failed verification.
var ErrNotVerified = errors.New("extract: page not verified")

// Config configures an Engine.
type Config struct {
	Resolver *selector.Resolver
	Pacer    *pace.Pacer
	Logger   *slog.Logger
	// Verify gates the Verifying state. Nil accepts any non-empty page.
	Verify Gate

	MaxItems      int // per-source cap, default 10
	MaxRounds     int // default 5
	MinTextLength int // default 10
	MaxFragments  int // default 5
	MobileFirst   bool

	SettleMin, SettleMax time.Duration
	ScrollMin, ScrollMax time.Duration
	StepMin, StepMax     int
	Steps                int

	Now func() time.Time
}

func (c *Config) defaults() {
	if c.Resolver == nil {
		c.Resolver = selector.New(nil)
	}
	if c.Pacer == nil {
		c.Pacer = pace.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxItems <= 0 {
		c.MaxItems = 10
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = 5
	}
	if c.MinTextLength <= 0 {
		c.MinTextLength = 10
	}
	if c.MaxFragments <= 0 {
		c.MaxFragments = 5
	}
	if c.StepMax <= 0 {
		c.StepMin, c.StepMax = 200, 400
	}
	if c.Steps <= 0 {
		c.Steps = 5
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Engine runs visits. It holds no per-visit state and may be reused.
type Engine struct {
	cfg Config
	log *slog.Logger
}

// New returns an Engine.
func New(cfg Config) *Engine {
	cfg.defaults()
	return &Engine{cfg: cfg, log: cfg.Logger}
}

// Result is the outcome of one visit.
type Result struct {
	SourceURL  string
	SourceName string
	Items      []Item
	Rounds     int
	Skipped    int
	// Err is the reason the visit aborted early, for logging. Items
	// collected before the abort are still returned.
	Err error
}

// visit is the per-source state; the fingerprint set lives and dies here.
type visit struct {
	sourceURL  string
	pageURL    string
	sourceName string
	seen       map[string]bool
	res        *Result
}

// Visit extracts items from sourceURL using page. It never returns an error:
// navigation and verification failures end the visit with whatever was
// collected, and per-item failures are skipped.
func (e *Engine) Visit(ctx context.Context, page driver.Page, sourceURL string) *Result {
	res := &Result{SourceURL: sourceURL, SourceName: SourceName("", sourceURL)}
	v := &visit{sourceURL: sourceURL, seen: make(map[string]bool), res: res}

	zeroStreak := 0
	state := Loading
	for state != Done {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		switch state {
		case Loading:
			if err := e.load(ctx, page, v); err != nil {
				res.Err = err
				state = Done
				continue
			}
			state = Verifying

		case Verifying:
			if !e.verify(ctx, page) {
				res.Err = ErrNotVerified
				state = Done
				continue
			}
			if title, err := page.Title(ctx); err == nil {
				v.sourceName = SourceName(title, sourceURL)
				res.SourceName = v.sourceName
			}
			state = Extracting

		case Extracting:
			n := e.extractRound(ctx, page, v)
			res.Rounds++
			if n == 0 {
				zeroStreak++
			} else {
				zeroStreak = 0
			}
			e.log.Debug("extract: round", "source", sourceURL, "page", v.pageURL, "round", res.Rounds, "new", n, "total", len(res.Items))
			switch {
			case len(res.Items) >= e.cfg.MaxItems,
				zeroStreak >= 2,
				res.Rounds >= e.cfg.MaxRounds:
				state = Done
			default:
				state = Revealing
			}

		case Revealing:
			if err := e.reveal(ctx, page); err != nil {
				res.Err = err
				state = Done
				continue
			}
			state = Extracting
		}
	}

	if len(res.Items) > e.cfg.MaxItems {
		res.Items = res.Items[:e.cfg.MaxItems]
	}
	if res.Err != nil {
		e.log.Warn("extract: visit ended early", "source", sourceURL, "items", len(res.Items), "error", res.Err)
	}
	return res
}

func (e *Engine) load(ctx context.Context, page driver.Page, v *visit) error {
	target := v.sourceURL
	if e.cfg.MobileFirst {
		target = MobileURL(v.sourceURL)
	}
	err := page.Navigate(ctx, target)
	if err != nil && target != v.sourceURL {
		e.log.Debug("extract: mobile variant failed, trying original", "source", v.sourceURL, "error", err)
		target = v.sourceURL
		err = page.Navigate(ctx, target)
	}
	if err != nil {
		return fmt.Errorf("extract: load %s: %w", v.sourceURL, err)
	}
	v.pageURL = target
	return e.cfg.Pacer.Between(ctx, e.cfg.SettleMin, e.cfg.SettleMax)
}

func (e *Engine) verify(ctx context.Context, page driver.Page) bool {
	if e.cfg.Verify != nil && !e.cfg.Verify(ctx, page) {
		return false
	}
	text, err := page.Text(ctx)
	if err != nil {
		return false
	}
	return utf8.RuneCountInString(strings.TrimSpace(text)) > 0
}

func (e *Engine) reveal(ctx context.Context, page driver.Page) error {
	dy := 0
	for i := 0; i < e.cfg.Steps; i++ {
		dy += e.cfg.Pacer.IntN(e.cfg.StepMin, e.cfg.StepMax)
	}
	if err := page.Scroll(ctx, dy); err != nil {
		return fmt.Errorf("extract: scroll: %w", err)
	}
	return e.cfg.Pacer.Between(ctx, e.cfg.ScrollMin, e.cfg.ScrollMax)
}

// extractRound emits the containers whose fingerprint is new in this visit
// and returns how many were emitted.
func (e *Engine) extractRound(ctx context.Context, page driver.Page, v *visit) int {
	containers := e.cfg.Resolver.Resolve(ctx, selector.Container, page)
	added := 0
	for _, c := range containers {
		if len(v.res.Items) >= e.cfg.MaxItems || ctx.Err() != nil {
			break
		}
		it, ok, err := e.safeItem(ctx, c, v)
		if err != nil {
			v.res.Skipped++
			e.log.Debug("extract: item skipped", "source", v.sourceURL, "error", err)
			continue
		}
		if !ok || v.seen[it.Fingerprint] {
			continue
		}
		v.seen[it.Fingerprint] = true
		v.res.Items = append(v.res.Items, it)
		added++
	}
	return added
}

func (e *Engine) safeItem(ctx context.Context, c driver.Element, v *visit) (it Item, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			it, ok = Item{}, false
			err = &Error{Source: v.sourceURL, Op: "item", Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	return e.item(ctx, c, v)
}

// item builds an Item from one container. ok is false when the container is
// not a usable post (too short, interface noise).
func (e *Engine) item(ctx context.Context, c driver.Element, v *visit) (Item, bool, error) {
	text, err := e.text(ctx, c)
	if err != nil {
		return Item{}, false, &Error{Source: v.sourceURL, Op: "text", Cause: err}
	}
	text = stripTrailer(Collapse(text))
	if utf8.RuneCountInString(text) < e.cfg.MinTextLength || IsNoise(text) {
		return Item{}, false, nil
	}

	now := e.cfg.Now().UTC()
	it := Item{
		SourceName:   v.sourceName,
		SourceURL:    v.sourceURL,
		Author:       e.author(ctx, c),
		Text:         text,
		Fingerprint:  Fingerprint(text),
		DiscoveredAt: now,
		PostedAt:     now,
	}
	if it.SourceName == "" {
		it.SourceName = SourceName("", v.sourceURL)
	}

	if link := e.cfg.Resolver.First(ctx, selector.Permalink, c); link != nil {
		if href, ok, _ := link.Attr(ctx, "href"); ok {
			it.Permalink = ResolvePermalink(v.sourceURL, href)
		}
	}
	if ts, ok := e.postedAt(ctx, c); ok {
		it.PostedAt = ts
	}

	attrs := make(map[string]string, 3)
	for _, name := range []string{"data-ft", "id", "data-testid"} {
		if val, ok, _ := c.Attr(ctx, name); ok {
			attrs[name] = val
		}
	}
	it.ExternalID = ExternalID(it.Permalink, attrs, it.Fingerprint)
	if it.Permalink == "" {
		it.Permalink = v.sourceURL
	}
	return it, true, nil
}

// text resolves the post body: the first fragments of the text target, or
// the longest qualifying line of the container.
func (e *Engine) text(ctx context.Context, c driver.Element) (string, error) {
	var frags []string
	for _, el := range e.cfg.Resolver.Resolve(ctx, selector.Text, c) {
		t, err := el.Text(ctx)
		if err != nil {
			continue
		}
		frags = append(frags, t)
	}
	if joined := joinFragments(frags, e.cfg.MaxFragments); utf8.RuneCountInString(joined) >= e.cfg.MinTextLength && !IsNoise(joined) {
		return joined, nil
	}
	all, err := c.Text(ctx)
	if err != nil {
		return "", err
	}
	return longestLine(all, e.cfg.MinTextLength), nil
}

func (e *Engine) author(ctx context.Context, c driver.Element) string {
	el := e.cfg.Resolver.First(ctx, selector.Author, c)
	if el == nil {
		return UnknownAuthor
	}
	t, err := el.Text(ctx)
	if err != nil {
		return UnknownAuthor
	}
	if line := Collapse(strings.SplitN(t, "\n", 2)[0]); line != "" {
		return line
	}
	return UnknownAuthor
}

func (e *Engine) postedAt(ctx context.Context, c driver.Element) (time.Time, bool) {
	el := e.cfg.Resolver.First(ctx, selector.Timestamp, c)
	if el == nil {
		return time.Time{}, false
	}
	raw, ok, _ := el.Attr(ctx, "data-utime")
	if !ok {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}, false
	}
	return time.Unix(sec, 0).UTC(), true
}
