// Command leadfinder watches Facebook groups for posts matching keyword
// lists and alerts an operator on Telegram.
//
// Usage:
//
//	leadfinder -config leadfinder.yaml            # run the scheduler and the bot
//	leadfinder -config leadfinder.yaml -once      # run one scan cycle and exit
//	leadfinder -html page.html -source <group>    # extract a saved page, print JSON
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/leadfinder/admin"
	"github.com/hazyhaar/leadfinder/channels"
	"github.com/hazyhaar/leadfinder/config"
	"github.com/hazyhaar/leadfinder/dbopen"
	"github.com/hazyhaar/leadfinder/driver"
	"github.com/hazyhaar/leadfinder/extract"
	"github.com/hazyhaar/leadfinder/leadbot"
	"github.com/hazyhaar/leadfinder/pace"
	"github.com/hazyhaar/leadfinder/relevance"
	"github.com/hazyhaar/leadfinder/scan"
	"github.com/hazyhaar/leadfinder/selector"
	"github.com/hazyhaar/leadfinder/session"
	"github.com/hazyhaar/leadfinder/store"
)

func main() {
	configPath := flag.String("config", "", "path to leadfinder.yaml config file")
	envFile := flag.String("env", ".env", "dotenv file loaded into the environment")
	once := flag.Bool("once", false, "run a single scan cycle and exit")
	htmlFile := flag.String("html", "", "dry run: extract posts from a saved page and print them as JSON")
	sourceURL := flag.String("source", "", "source URL the -html page was saved from")
	flag.Parse()

	if err := config.LoadDotenv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *htmlFile != "" {
		err = runDry(ctx, logger, cfg, *htmlFile, *sourceURL)
	} else {
		err = run(ctx, logger, cfg, *once)
	}
	if err != nil {
		logger.Error("leadfinder: fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(lc config.LogConfig) *slog.Logger {
	level, _ := lc.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, once bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := dbopen.Open(cfg.Database.Path, dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	st := store.New(db)

	tg, err := channels.NewTelegram("operator", channels.TelegramConfig{
		BotToken:    cfg.Telegram.BotToken,
		APIBase:     cfg.Telegram.APIBase,
		PollTimeout: cfg.Telegram.PollTimeout,
		MinInterval: cfg.Telegram.MinInterval,
		DropPending: true,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer tg.Close()

	pacer := pace.New()
	state := &scan.RunState{}
	filter := relevance.New(cfg.Keywords.Positive, cfg.Keywords.Negative)
	p := cfg.Pacing

	mgr := session.NewManager(session.Config{
		Opener: session.NewChrome(session.ChromeConfig{
			Headless:         cfg.Browser.Headless,
			RemoteURL:        cfg.Browser.Remote,
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			UserAgent:        cfg.Browser.UserAgent,
			Lang:             cfg.Browser.Lang,
			Logger:           logger,
		}),
		Pacer:        pacer,
		Logger:       logger,
		LoginURL:     cfg.Facebook.LoginURL,
		SettleMin:    p.NavigationMin,
		SettleMax:    p.NavigationMax,
		KeystrokeMin: p.KeystrokeMin,
		KeystrokeMax: p.KeystrokeMax,
	})

	engine := extract.New(extract.Config{
		Resolver:      selector.New(cfg.Selectors),
		Pacer:         pacer,
		Logger:        logger,
		Verify:        mgr.VerifyPage,
		MaxItems:      cfg.Scan.PostsPerSource,
		MaxRounds:     cfg.Scan.MaxRounds,
		MinTextLength: cfg.Scan.MinTextLength,
		MobileFirst:   cfg.Facebook.MobileFirst,
		SettleMin:     p.NavigationMin,
		SettleMax:     p.NavigationMax,
		ScrollMin:     p.ScrollMin,
		ScrollMax:     p.ScrollMax,
		StepMin:       p.ScrollStepMin,
		StepMax:       p.ScrollStepMax,
		Steps:         p.ScrollSteps,
	})

	orch := scan.New(scan.Config{
		Store:    st,
		Sessions: mgr,
		Engine:   engine,
		Filter:   filter,
		Notifier: leadbot.NewNotifier(tg, cfg.Telegram.ChatID, cfg.Location(), logger),
		State:    state,
		Pacer:    pacer,
		Logger:   logger,
		Credentials: session.Credentials{
			Email:    cfg.Facebook.Email,
			Password: cfg.Facebook.Password,
		},
		Sources:         cfg.Facebook.Groups,
		SourcesPerCycle: cfg.Scan.SourcesPerCycle,
		QuietStart:      cfg.Scan.QuietStart,
		QuietEnd:        cfg.Scan.QuietEnd,
		Location:        cfg.Location(),
		SourceMin:       p.SourceMin,
		SourceMax:       p.SourceMax,
	})

	if once {
		c := orch.RunCycle(ctx)
		logger.Info("leadfinder: single cycle done", "outcome", c.Outcome, "new_leads", c.NewLeads)
		return nil
	}

	handler := leadbot.NewHandler(leadbot.HandlerConfig{
		Store:    st,
		State:    state,
		Buttons:  tg,
		Logger:   logger,
		ChatID:   cfg.Telegram.ChatID,
		Sources:  cfg.Facebook.Groups,
		Positive: filter.Positive(),
		Negative: filter.Negative(),
		Interval: cfg.Scan.Interval,
	})
	disp := channels.NewDispatcher(handler.Handle, channels.WithLogger(logger))
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		disp.Serve(ctx, "operator", tg)
	}()

	var adminSrv *admin.Server
	if cfg.Admin.Listen != "" {
		adminSrv = admin.NewServer(cfg.Admin.Listen, admin.Config{
			Store:    st,
			State:    state,
			Channel:  tg,
			Interval: cfg.Scan.Interval,
			Logger:   logger,
		})
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil {
				logger.Error("leadfinder: admin server", "error", err)
			}
		}()
	}

	sched := scan.NewScheduler(orch, cfg.Scan.Interval, logger)
	sched.Start(ctx)
	logger.Info("leadfinder: running",
		"sources", len(cfg.Facebook.Groups), "interval", cfg.Scan.Interval,
		"quiet_start", cfg.Scan.QuietStart, "quiet_end", cfg.Scan.QuietEnd,
		"timezone", cfg.Location().String())

	<-ctx.Done()
	logger.Info("leadfinder: shutting down")

	sched.Stop()
	tg.Close()
	<-botDone
	if adminSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("leadfinder: admin shutdown", "error", err)
		}
	}
	return nil
}

// dryItem is one extracted item with its classification.
type dryItem struct {
	extract.Item
	Relevant bool     `json:"relevant"`
	Matched  []string `json:"matched_keywords,omitempty"`
	Vetoed   []string `json:"vetoed_by,omitempty"`
}

// runDry extracts a saved page through the static backend. It needs no
// credentials, browser or database.
func runDry(ctx context.Context, logger *slog.Logger, cfg *config.Config, path, source string) error {
	if source == "" {
		return fmt.Errorf("-source is required with -html")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	page := driver.NewStatic().Route(source, string(data))
	defer page.Close()
	engine := extract.New(extract.Config{
		Resolver:      selector.New(cfg.Selectors),
		Pacer:         pace.Instant(),
		Logger:        logger,
		MaxItems:      cfg.Scan.PostsPerSource,
		MaxRounds:     cfg.Scan.MaxRounds,
		MinTextLength: cfg.Scan.MinTextLength,
	})
	res := engine.Visit(ctx, page, source)
	if res.Err != nil {
		return fmt.Errorf("extract %s: %w", path, res.Err)
	}

	filter := relevance.New(cfg.Keywords.Positive, cfg.Keywords.Negative)
	out := make([]dryItem, 0, len(res.Items))
	for _, it := range res.Items {
		v := filter.Classify(it.Text)
		out = append(out, dryItem{Item: it, Relevant: v.Relevant, Matched: v.MatchedPositive, Vetoed: v.MatchedNegative})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}
