// Package admin serves a read-only JSON view of the lead finder over HTTP:
// health, scan state, recent leads and source statistics.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/leadfinder/channels"
	"github.com/hazyhaar/leadfinder/store"
)

const (
	defaultLeadLimit = 50
	maxLeadLimit     = 500
)

// PauseState reports whether scanning is paused.
type PauseState interface {
	Paused() bool
}

// Config wires the admin handler.
type Config struct {
	Store    *store.Store
	State    PauseState
	Channel  channels.Channel // optional, for the operator channel status
	Interval time.Duration
	Logger   *slog.Logger
}

// Handler returns the admin router.
func Handler(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &api{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(traceID(cfg.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/status", a.status)
	r.Get("/leads", a.leads)
	r.Get("/sources", a.sources)
	return r
}

type api struct {
	cfg Config
}

type statusResponse struct {
	Paused    bool                    `json:"paused"`
	Interval  string                  `json:"interval"`
	Counts    map[store.Status]int    `json:"counts"`
	Total     int                     `json:"total"`
	LastCycle *store.Cycle            `json:"last_cycle,omitempty"`
	Channel   *channels.ChannelStatus `json:"channel,omitempty"`
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	counts, err := a.cfg.Store.CountByStatus(ctx)
	if err != nil {
		a.fail(ctx, w, err)
		return
	}
	resp := statusResponse{
		Paused:   a.cfg.State != nil && a.cfg.State.Paused(),
		Interval: a.cfg.Interval.String(),
		Counts:   counts,
	}
	for _, n := range counts {
		resp.Total += n
	}
	last, err := a.cfg.Store.LastCycle(ctx)
	switch {
	case err == nil:
		resp.LastCycle = last
	case !errors.Is(err, store.ErrNotFound):
		a.fail(ctx, w, err)
		return
	}
	if a.cfg.Channel != nil {
		st := a.cfg.Channel.Status()
		resp.Channel = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) leads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := defaultLeadLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxLeadLimit)
	}
	status := store.Status(q.Get("status"))
	if status != "" && !status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status " + strconv.Quote(string(status))})
		return
	}

	leads, err := a.cfg.Store.RecentLeads(ctx, limit, status)
	if err != nil {
		a.fail(ctx, w, err)
		return
	}
	if leads == nil {
		leads = []*store.Lead{}
	}
	writeJSON(w, http.StatusOK, leads)
}

func (a *api) sources(w http.ResponseWriter, r *http.Request) {
	srcs, err := a.cfg.Store.ListSources(r.Context())
	if err != nil {
		a.fail(r.Context(), w, err)
		return
	}
	if srcs == nil {
		srcs = []*store.SourceStats{}
	}
	writeJSON(w, http.StatusOK, srcs)
}

func (a *api) fail(ctx context.Context, w http.ResponseWriter, err error) {
	requestLogger(ctx).Error("admin: request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Server is the admin HTTP server.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// NewServer returns a Server for cfg listening on addr.
func NewServer(addr string, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           Handler(cfg),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
		},
		log: logger,
	}
}

// ListenAndServe serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("admin: listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
