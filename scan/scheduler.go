package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler fires a cycle immediately and then every interval. A tick that
// lands while a cycle is still running is skipped.
type Scheduler struct {
	orch     *Orchestrator
	interval time.Duration
	log      *slog.Logger

	mu    sync.Mutex
	cron  *cron.Cron
	first sync.WaitGroup
}

// NewScheduler returns a Scheduler for orch.
func NewScheduler(orch *Orchestrator, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{orch: orch, interval: interval, log: logger}
}

// Start schedules the cycles and runs the first one right away. Cycles run
// with ctx; cancel it to interrupt a running cycle.
func (s *Scheduler) Start(ctx context.Context) {
	cl := cronLogger{s.log}
	job := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		s.orch.RunCycle(ctx)
	}))

	c := cron.New(cron.WithLogger(cl), cron.WithLocation(s.orch.cfg.Location))
	c.Schedule(cron.Every(s.interval), job)
	c.Start()

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	s.log.Info("scan: scheduler started", "interval", s.interval)
	s.first.Add(1)
	go func() {
		defer s.first.Done()
		job.Run()
	}()
}

// Stop stops scheduling and waits for a running cycle to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.first.Wait()
	s.log.Info("scan: scheduler stopped")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
