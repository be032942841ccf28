package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	_ "time/tzdata"

	"github.com/hazyhaar/leadfinder/dbopen"
	"github.com/hazyhaar/leadfinder/driver"
	"github.com/hazyhaar/leadfinder/extract"
	"github.com/hazyhaar/leadfinder/idgen"
	"github.com/hazyhaar/leadfinder/pace"
	"github.com/hazyhaar/leadfinder/relevance"
	"github.com/hazyhaar/leadfinder/session"
	"github.com/hazyhaar/leadfinder/store"
)

const (
	loginURL = "https://www.facebook.com/login"
	homeURL  = "https://www.facebook.com/"
	tlvURL   = "https://www.facebook.com/groups/tlvrent"
	haifaURL = "https://www.facebook.com/groups/haifaflats"
)

const loginPage = `<html><body><form>
<input id="email" name="email"><input id="pass" name="pass" type="password">
<button name="login" type="submit">Log in</button></form></body></html>`

const homePage = `<html><body><div role="navigation">menu</div><div role="feed">feed</div></body></html>`

// noon UTC is outside every quiet window used below.
var noon = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func post(id, author, text string) string {
	return fmt.Sprintf(`<div role="article">
<h3><strong><a href="/user/%[1]s">%[2]s</a></strong></h3>
<div data-ad-preview="message">%[3]s</div>
<a href="/groups/tlvrent/posts/%[1]s/">1h</a>
</div>`, id, author, text)
}

func group(title string, posts ...string) string {
	return "<html><head><title>" + title + " | Facebook</title></head><body>" +
		`<div role="navigation">menu</div><div role="feed">` + strings.Join(posts, "\n") + "</div></body></html>"
}

// notifier records alerts and fails when err is set.
type notifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *notifier) Notify(ctx context.Context, l *store.Lead) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, l.ExternalID)
	return n.err
}

type fixture struct {
	orch      *Orchestrator
	store     *store.Store
	notes     *notifier
	state     *RunState
	mu        sync.Mutex
	opens     int
	teardowns int
	pages     []*driver.Static
}

// newFixture wires a real store, session manager and engine over static
// pages. routes maps a URL to its page; the login flow is always routed
// unless login is overridden.
func newFixture(t *testing.T, routes map[string]string, tweak func(*Config)) *fixture {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	f := &fixture{
		store: store.New(db).WithClock(func() time.Time { return noon }),
		notes: &notifier{},
		state: &RunState{},
	}

	opener := session.OpenerFunc(func(ctx context.Context) (driver.Page, func() error, error) {
		page := driver.NewStatic().
			Route(loginURL, loginPage).
			Route(homeURL, homePage).
			SubmitTo(homeURL)
		for u, html := range routes {
			page.Route(u, html)
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.opens++
		f.pages = append(f.pages, page)
		return page, func() error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.teardowns++
			return nil
		}, nil
	})
	mgr := session.NewManager(session.Config{Opener: opener, Pacer: pace.Instant(), LoginURL: loginURL})
	engine := extract.New(extract.Config{
		Pacer:       pace.Instant(),
		Verify:      mgr.VerifyPage,
		MobileFirst: true,
		Now:         func() time.Time { return noon },
	})

	cfg := Config{
		Store:       f.store,
		Sessions:    mgr,
		Engine:      engine,
		Filter:      relevance.New([]string{"לשכור", "apartment"}, []string{"למכור"}),
		Notifier:    f.notes,
		State:       f.state,
		Pacer:       pace.Instant(),
		Credentials: session.Credentials{Email: "agent@example.com", Password: "pw"},
		Sources:     []string{tlvURL},
		QuietStart:  2,
		QuietEnd:    7,
		IDs:         idgen.Sequence("cyc"),
		Now:         func() time.Time { return noon },
	}
	if tweak != nil {
		tweak(&cfg)
	}
	f.orch = New(cfg)
	return f
}

func TestInQuietWindow(t *testing.T) {
	// WHAT: same-day windows skip [start,end); wrapping windows skip hour >= start or < end.
	tests := []struct {
		start, end int
		skipped    []int
	}{
		{2, 7, []int{2, 3, 4, 5, 6}},
		{22, 5, []int{22, 23, 0, 1, 2, 3, 4}},
		{4, 4, nil},
	}
	for _, tt := range tests {
		skip := make(map[int]bool)
		for _, h := range tt.skipped {
			skip[h] = true
		}
		for h := 0; h < 24; h++ {
			if got := InQuietWindow(h, tt.start, tt.end); got != skip[h] {
				t.Errorf("InQuietWindow(%d, %d, %d) = %v, want %v", h, tt.start, tt.end, got, skip[h])
			}
		}
	}
}

func TestRunState(t *testing.T) {
	var s RunState
	if s.Paused() {
		t.Fatal("zero state should be active")
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); s.Pause() }()
		go func() { defer wg.Done(); _ = s.Paused() }()
	}
	wg.Wait()
	if !s.Paused() {
		t.Fatal("pause lost")
	}
	s.Resume()
	if s.Paused() {
		t.Fatal("resume lost")
	}
}

func TestRunCycle_QuietHours(t *testing.T) {
	// WHAT: inside the quiet window no session is acquired and the skip is logged.
	loc, err := time.LoadLocation("Asia/Jerusalem")
	if err != nil {
		t.Fatal(err)
	}
	// 01:30 UTC is 03:30 in Jerusalem.
	at := time.Date(2025, 3, 1, 1, 30, 0, 0, time.UTC)
	f := newFixture(t, nil, func(c *Config) {
		c.Location = loc
		c.Now = func() time.Time { return at }
	})

	c := f.orch.RunCycle(context.Background())
	if c.Outcome != OutcomeQuiet {
		t.Fatalf("outcome = %q", c.Outcome)
	}
	if f.opens != 0 {
		t.Fatalf("session opened %d times during quiet hours", f.opens)
	}
	last, err := f.store.LastCycle(context.Background())
	if err != nil || last.Outcome != OutcomeQuiet {
		t.Fatalf("cycle log: %+v %v", last, err)
	}
}

func TestRunCycle_WrappingQuietWindow(t *testing.T) {
	at := time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC)
	f := newFixture(t, nil, func(c *Config) {
		c.QuietStart, c.QuietEnd = 22, 5
		c.Now = func() time.Time { return at }
	})
	if c := f.orch.RunCycle(context.Background()); c.Outcome != OutcomeQuiet {
		t.Fatalf("outcome = %q", c.Outcome)
	}
}

func TestRunCycle_Paused(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.state.Pause()
	c := f.orch.RunCycle(context.Background())
	if c.Outcome != OutcomePaused || f.opens != 0 {
		t.Fatalf("outcome=%q opens=%d", c.Outcome, f.opens)
	}
}

func TestRunCycle_PersistsRelevantAndNotifies(t *testing.T) {
	// WHAT: only the relevant item is stored and alerted; a present negative keyword vetoes.
	page := group("Rentals TLV",
		post("2001", "Dana", "אני רוצה לשכור דירה בפלורנטין"),
		post("2002", "Avi", "Selling my sofa, great condition"),
		post("2003", "Noa", "רוצה לשכור או למכור דירה מהר"),
	)
	f := newFixture(t, map[string]string{tlvURL: page}, nil)
	ctx := context.Background()

	c := f.orch.RunCycle(ctx)
	if c.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q (%s)", c.Outcome, c.Error)
	}
	if c.ItemsSeen != 3 || c.NewLeads != 1 || c.Irrelevant != 2 {
		t.Fatalf("cycle = %+v", c)
	}
	if len(f.notes.calls) != 1 || f.notes.calls[0] != "fb_2001" {
		t.Fatalf("alerts = %v", f.notes.calls)
	}

	l, err := f.store.GetLead(ctx, "fb_2001")
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != store.StatusNew || l.SourceName != "Rentals TLV" || l.Author != "Dana" {
		t.Fatalf("lead = %+v", l)
	}
	if len(l.MatchedKeywords) != 1 || l.MatchedKeywords[0] != "לשכור" {
		t.Fatalf("keywords = %v", l.MatchedKeywords)
	}
	if ok, _ := f.store.LeadExists(ctx, "fb_2003"); ok {
		t.Fatal("vetoed item was stored")
	}

	srcs, err := f.store.ListSources(ctx)
	if err != nil || len(srcs) != 1 || srcs[0].TotalPostsFound != 3 || srcs[0].Name != "Rentals TLV" {
		t.Fatalf("sources = %+v %v", srcs, err)
	}
	if f.teardowns != 1 || !f.pages[0].Closed() {
		t.Fatalf("session not released: teardowns=%d", f.teardowns)
	}
}

func TestRunCycle_ExistingLeadNotRenotified(t *testing.T) {
	// WHAT: an item whose external id is already stored is neither re-persisted nor re-alerted.
	// WHY: alerts are exactly-once per external id across runs.
	ctx := context.Background()
	f := newFixture(t, map[string]string{
		tlvURL: group("Rentals TLV", post("123", "Dana", "Still want to rent an apartment, anyone?")),
	}, nil)
	orig := &store.Lead{ExternalID: "fb_123", Text: "original text", Author: "Dana", DiscoveredAt: noon.Add(-24 * time.Hour)}
	if _, err := f.store.InsertLead(ctx, orig); err != nil {
		t.Fatal(err)
	}

	c := f.orch.RunCycle(ctx)
	if c.SkippedExisting != 1 || c.NewLeads != 0 {
		t.Fatalf("cycle = %+v", c)
	}
	if len(f.notes.calls) != 0 {
		t.Fatalf("re-notified: %v", f.notes.calls)
	}
	got, _ := f.store.GetLead(ctx, "fb_123")
	if got.Text != "original text" {
		t.Fatalf("stored lead overwritten: %q", got.Text)
	}
}

func TestRunCycle_AuthFailureReleasesSession(t *testing.T) {
	// WHAT: when every login strategy fails the cycle yields zero items and still releases the session.
	f := newFixture(t, map[string]string{
		tlvURL:   group("Rentals TLV", post("1", "Dana", "Looking for an apartment to rent")),
		loginURL: `<html><body><p>Something went wrong</p></body></html>`,
	}, nil)

	c := f.orch.RunCycle(context.Background())
	if c.Outcome != OutcomeSessionFail || c.Error == "" {
		t.Fatalf("outcome = %q err=%q", c.Outcome, c.Error)
	}
	if c.ItemsSeen != 0 || c.SourcesVisited != 0 || len(f.notes.calls) != 0 {
		t.Fatalf("cycle = %+v", c)
	}
	if f.teardowns != 1 || !f.pages[0].Closed() {
		t.Fatalf("teardowns = %d, want 1", f.teardowns)
	}

	// The next cycle proceeds normally on a fresh session.
	c = f.orch.RunCycle(context.Background())
	if f.opens != 2 || c.Outcome != OutcomeSessionFail {
		t.Fatalf("second cycle: opens=%d outcome=%q", f.opens, c.Outcome)
	}
}

func TestRunCycle_NotificationFailureStillCounts(t *testing.T) {
	// WHAT: a lead whose alert failed stays stored, is counted, and is not alerted again.
	ctx := context.Background()
	f := newFixture(t, map[string]string{
		tlvURL: group("Rentals TLV", post("77", "Dana", "Need an apartment in Jaffa")),
	}, nil)
	f.notes.err = errors.New("telegram unreachable")

	c := f.orch.RunCycle(ctx)
	if c.NewLeads != 1 || c.NotifyFailures != 1 {
		t.Fatalf("cycle = %+v", c)
	}
	if ok, _ := f.store.LeadExists(ctx, "fb_77"); !ok {
		t.Fatal("lead should be stored despite the failed alert")
	}

	f.notes.err = nil
	c = f.orch.RunCycle(ctx)
	if c.NewLeads != 0 || c.SkippedExisting != 1 {
		t.Fatalf("second cycle = %+v", c)
	}
	if len(f.notes.calls) != 1 {
		t.Fatalf("alert calls = %d, want 1", len(f.notes.calls))
	}
}

func TestRunCycle_PersistFailureSkipsItem(t *testing.T) {
	// WHAT: a lead the store refuses is counted and skipped; the rest of the source still lands.
	// WHY: one bad write must not cost the operator the other leads of the cycle.
	ctx := context.Background()
	f := newFixture(t, map[string]string{
		tlvURL: group("Rentals TLV",
			post("2000001", "Dana", "Looking for an apartment in Florentin"),
			post("2000002", "Avi", "Need an apartment near the port"),
		),
	}, nil)
	if _, err := f.store.DB.ExecContext(ctx, `CREATE TRIGGER reject_lead BEFORE INSERT ON leads
WHEN NEW.external_id = 'fb_2000001'
BEGIN SELECT RAISE(ABORT, 'write refused'); END`); err != nil {
		t.Fatal(err)
	}

	c := f.orch.RunCycle(ctx)
	if c.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %q (%s)", c.Outcome, c.Error)
	}
	if c.NewLeads != 1 || c.PersistFailures != 1 {
		t.Fatalf("cycle = %+v", c)
	}
	if len(f.notes.calls) != 1 || f.notes.calls[0] != "fb_2000002" {
		t.Fatalf("alerts = %v", f.notes.calls)
	}
	if ok, _ := f.store.LeadExists(ctx, "fb_2000001"); ok {
		t.Fatal("refused lead was stored")
	}
	if f.teardowns != 1 {
		t.Fatalf("teardowns = %d, want 1", f.teardowns)
	}
}

func TestRunCycle_SamplesSources(t *testing.T) {
	sources := []string{tlvURL, haifaURL, "https://www.facebook.com/groups/jlmrent"}
	routes := map[string]string{}
	for _, s := range sources {
		routes[s] = group("G", post("1", "A", "nothing to see here today"))
	}
	f := newFixture(t, routes, func(c *Config) {
		c.Sources = sources
		c.SourcesPerCycle = 2
	})
	c := f.orch.RunCycle(context.Background())
	if c.SourcesVisited != 2 {
		t.Fatalf("visited = %d, want 2", c.SourcesVisited)
	}
	if f.opens != 1 {
		t.Fatalf("one session serves the cycle, opened %d", f.opens)
	}
}

func TestRunCycle_FailedVisitIsZeroItems(t *testing.T) {
	// WHAT: a source that cannot be loaded contributes nothing; the cycle continues.
	f := newFixture(t, map[string]string{
		tlvURL: group("Rentals TLV", post("5", "Dana", "Looking for an apartment near the beach")),
	}, func(c *Config) {
		c.Sources = []string{haifaURL, tlvURL}
	})
	c := f.orch.RunCycle(context.Background())
	if c.Outcome != OutcomeCompleted || c.SourcesVisited != 2 || c.NewLeads != 1 {
		t.Fatalf("cycle = %+v", c)
	}
}

func TestRunCycle_RecordsCycle(t *testing.T) {
	f := newFixture(t, map[string]string{tlvURL: group("Rentals TLV")}, nil)
	c := f.orch.RunCycle(context.Background())
	last, err := f.store.LastCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if last.ID != c.ID || last.ID != "cyc-1" || last.Outcome != OutcomeCompleted {
		t.Fatalf("last = %+v", last)
	}
}

func TestScheduler_RunsImmediately(t *testing.T) {
	// WHAT: Start runs one cycle right away without waiting for the interval.
	f := newFixture(t, map[string]string{tlvURL: group("Rentals TLV")}, nil)
	s := NewScheduler(f.orch, time.Hour, nil)
	s.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := f.store.LastCycle(context.Background()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no cycle recorded after Start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()
	s.Stop()
}
