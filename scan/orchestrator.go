package scan

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/leadfinder/extract"
	"github.com/hazyhaar/leadfinder/idgen"
	"github.com/hazyhaar/leadfinder/pace"
	"github.com/hazyhaar/leadfinder/relevance"
	"github.com/hazyhaar/leadfinder/session"
	"github.com/hazyhaar/leadfinder/store"
)

// Cycle outcomes recorded in the cycle log.
const (
	OutcomeCompleted   = "completed"
	OutcomeQuiet       = "quiet"
	OutcomePaused      = "paused"
	OutcomeNoSources   = "no_sources"
	OutcomeSessionFail = "session_error"
	OutcomeInterrupted = "interrupted"
)

// Notifier sends the alert for a newly stored lead.
type Notifier interface {
	Notify(ctx context.Context, l *store.Lead) error
}

// Config wires an Orchestrator.
type Config struct {
	Store       *store.Store
	Sessions    *session.Manager
	Engine      *extract.Engine
	Filter      *relevance.Filter
	Notifier    Notifier
	State       *RunState
	Pacer       *pace.Pacer
	Logger      *slog.Logger
	Credentials session.Credentials

	Sources         []string
	SourcesPerCycle int

	QuietStart, QuietEnd int
	Location             *time.Location

	SourceMin, SourceMax time.Duration

	IDs idgen.Generator
	Now func() time.Time
}

// Orchestrator runs scan cycles. Cycles must not overlap; the Scheduler
// guarantees that.
type Orchestrator struct {
	cfg Config
	log *slog.Logger
}

// New returns an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.State == nil {
		cfg.State = &RunState{}
	}
	if cfg.Pacer == nil {
		cfg.Pacer = pace.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SourcesPerCycle <= 0 {
		cfg.SourcesPerCycle = len(cfg.Sources)
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.Prefixed("cyc_", idgen.Default)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg, log: cfg.Logger}
}

// State returns the shared run state.
func (o *Orchestrator) State() *RunState { return o.cfg.State }

// RunCycle runs one scan cycle and records it. Per-item and per-source
// failures are absorbed; a session failure ends the cycle early.
func (o *Orchestrator) RunCycle(ctx context.Context) *store.Cycle {
	c := &store.Cycle{ID: o.cfg.IDs(), StartedAt: o.cfg.Now()}
	log := o.log.With("cycle", c.ID)
	defer o.record(ctx, c, log)

	local := c.StartedAt.In(o.cfg.Location)
	if InQuietWindow(local.Hour(), o.cfg.QuietStart, o.cfg.QuietEnd) {
		c.Outcome = OutcomeQuiet
		log.Info("scan: quiet hours, cycle skipped", "local_time", local.Format("15:04"),
			"quiet_start", o.cfg.QuietStart, "quiet_end", o.cfg.QuietEnd)
		return c
	}
	if o.cfg.State.Paused() {
		c.Outcome = OutcomePaused
		log.Info("scan: paused, cycle skipped")
		return c
	}

	sources := pace.Sample(o.cfg.Pacer, o.cfg.Sources, o.cfg.SourcesPerCycle)
	if len(sources) == 0 {
		c.Outcome = OutcomeNoSources
		log.Warn("scan: no sources configured")
		return c
	}
	log.Info("scan: cycle started", "sources", len(sources))

	sess, err := o.cfg.Sessions.Acquire(ctx)
	if err != nil {
		c.Outcome, c.Error = OutcomeSessionFail, err.Error()
		log.Error("scan: session acquire failed", "error", err)
		return c
	}
	defer o.cfg.Sessions.Release(sess)

	if err := o.cfg.Sessions.Authenticate(ctx, sess, o.cfg.Credentials); err != nil {
		o.cfg.Sessions.Release(sess)
		c.Outcome, c.Error = OutcomeSessionFail, err.Error()
		log.Error("scan: authentication failed, cycle ended", "error", err)
		return c
	}

	for i, src := range sources {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := o.cfg.Pacer.Between(ctx, o.cfg.SourceMin, o.cfg.SourceMax); err != nil {
				break
			}
		}
		o.scanSource(ctx, sess, src, c, log)
	}

	c.Outcome = OutcomeCompleted
	if err := ctx.Err(); err != nil {
		c.Outcome, c.Error = OutcomeInterrupted, err.Error()
	}
	log.Info("scan: cycle finished",
		"sources", c.SourcesVisited, "items", c.ItemsSeen, "new_leads", c.NewLeads,
		"existing", c.SkippedExisting, "irrelevant", c.Irrelevant,
		"notify_failures", c.NotifyFailures, "persist_failures", c.PersistFailures)
	return c
}

func (o *Orchestrator) scanSource(ctx context.Context, sess *session.Session, src string, c *store.Cycle, log *slog.Logger) {
	res := o.cfg.Engine.Visit(ctx, sess.Page, src)
	c.SourcesVisited++
	c.ItemsSeen += len(res.Items)
	log.Info("scan: source visited", "source", src, "name", res.SourceName,
		"items", len(res.Items), "rounds", res.Rounds, "skipped", res.Skipped)

	for i := range res.Items {
		o.processItem(ctx, &res.Items[i], c, log)
	}

	name := res.SourceName
	if res.Err != nil {
		name = "" // keep the stored name
	}
	if err := o.cfg.Store.UpsertSourceStats(ctx, src, name, len(res.Items), o.cfg.Now()); err != nil {
		log.Warn("scan: source stats not saved", "source", src, "error", err)
	}
}

// processItem is the per-item pipeline: dedup against the store, classify,
// persist, alert.
func (o *Orchestrator) processItem(ctx context.Context, it *extract.Item, c *store.Cycle, log *slog.Logger) {
	exists, err := o.cfg.Store.LeadExists(ctx, it.ExternalID)
	if err != nil {
		c.PersistFailures++
		log.Warn("scan: lead lookup failed, item skipped", "external_id", it.ExternalID, "error", err)
		return
	}
	if exists {
		c.SkippedExisting++
		return
	}

	verdict := o.cfg.Filter.Classify(it.Text)
	if !verdict.Relevant {
		c.Irrelevant++
		if len(verdict.MatchedNegative) > 0 {
			log.Debug("scan: vetoed by negative keyword", "external_id", it.ExternalID, "negative", verdict.MatchedNegative)
		}
		return
	}

	lead := &store.Lead{
		ExternalID:      it.ExternalID,
		SourceName:      it.SourceName,
		SourceURL:       it.SourceURL,
		Author:          it.Author,
		Text:            it.Text,
		Permalink:       it.Permalink,
		Fingerprint:     it.Fingerprint,
		MatchedKeywords: verdict.MatchedPositive,
		Status:          store.StatusNew,
		PostedAt:        it.PostedAt,
		DiscoveredAt:    it.DiscoveredAt,
	}
	inserted, err := o.cfg.Store.InsertLead(ctx, lead)
	if err != nil {
		c.PersistFailures++
		log.Warn("scan: lead not persisted, item skipped", "external_id", it.ExternalID, "error", err)
		return
	}
	if !inserted {
		c.SkippedExisting++
		return
	}
	c.NewLeads++
	log.Info("scan: new lead", "external_id", lead.ExternalID, "source", lead.SourceName, "keywords", lead.MatchedKeywords)

	if o.cfg.Notifier == nil {
		return
	}
	if err := o.cfg.Notifier.Notify(ctx, lead); err != nil {
		// The lead stays stored and is not alerted again.
		c.NotifyFailures++
		log.Warn("scan: alert not delivered", "external_id", lead.ExternalID, "error", err)
	}
}

func (o *Orchestrator) record(ctx context.Context, c *store.Cycle, log *slog.Logger) {
	c.FinishedAt = o.cfg.Now()
	if err := o.cfg.Store.RecordCycle(context.WithoutCancel(ctx), c); err != nil {
		log.Warn("scan: cycle log not saved", "error", err)
	}
}
