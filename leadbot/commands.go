package leadbot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/leadfinder/channels"
	"github.com/hazyhaar/leadfinder/extract"
	"github.com/hazyhaar/leadfinder/store"
)

// keywordListLimit caps each keyword list in the keywords reply.
const keywordListLimit = 10

// PauseSwitch is the shared paused flag of the scan task.
type PauseSwitch interface {
	Paused() bool
	Pause()
	Resume()
}

// LeadStore is the part of the store the command handler uses.
type LeadStore interface {
	CountByStatus(ctx context.Context) (map[store.Status]int, error)
	UpdateStatus(ctx context.Context, externalID string, status store.Status) error
	SetNotes(ctx context.Context, externalID, notes string) error
	ListSources(ctx context.Context) ([]*store.SourceStats, error)
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Store    LeadStore
	State    PauseSwitch
	Buttons  channels.Interactive
	Logger   *slog.Logger
	ChatID   string // only this chat is served; empty serves any chat
	Sources  []string
	Positive []string
	Negative []string
	Interval time.Duration
}

// Handler answers operator commands and alert buttons.
type Handler struct {
	cfg HandlerConfig
	log *slog.Logger
}

// NewHandler returns a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{cfg: cfg, log: cfg.Logger}
}

// Handle implements channels.InboundHandler.
func (h *Handler) Handle(ctx context.Context, msg channels.Message) ([]channels.Message, error) {
	if h.cfg.ChatID != "" && msg.ChatID != h.cfg.ChatID {
		h.log.Warn("leadbot: message from unknown chat ignored", "chat", msg.ChatID, "sender", msg.SenderID)
		return nil, nil
	}
	if msg.Kind == channels.KindCallback {
		return h.callback(ctx, msg)
	}

	cmd := command(msg.Text)
	h.log.Debug("leadbot: command", "command", cmd)
	var (
		text string
		err  error
	)
	switch cmd {
	case "start":
		text = startText
	case "help":
		text = helpText
	case "status":
		text, err = h.status(ctx)
	case "sources", "groups":
		text, err = h.sources(ctx)
	case "keywords":
		text = h.keywords()
	case "mark":
		text, err = h.mark(ctx, msg.Text)
	case "note":
		text, err = h.note(ctx, msg.Text)
	case "pause":
		h.cfg.State.Pause()
		h.log.Info("leadbot: monitoring paused")
		text = "⏸ Monitoring paused. Send /resume to continue."
	case "resume":
		h.cfg.State.Resume()
		h.log.Info("leadbot: monitoring resumed")
		text = "✅ Monitoring resumed."
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []channels.Message{{ChatID: msg.ChatID, Text: text}}, nil
}

// command extracts the command word: "/Status@LeadBot now" -> "status".
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	w := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(w, '@'); i >= 0 {
		w = w[:i]
	}
	return strings.ToLower(w)
}

// args splits "/note fb_1 call back Sunday" into "fb_1" and "call back Sunday".
func args(text string) (first, rest string) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return "", ""
	}
	first = fields[1]
	i := strings.Index(text, fields[0]) + len(fields[0])
	i += strings.Index(text[i:], first) + len(first)
	return first, strings.TrimSpace(text[i:])
}

const startText = "🤖 <b>Lead finder</b>\n\nMonitoring is running and looking for leads.\n\n" + commandList

const helpText = "📚 <b>Help</b>\n\n" + commandList + "\n\n" +
	"<b>Alert buttons</b>\n" +
	"🔗 Open: open the post\n" +
	"💾 Save: keep the lead for follow-up\n" +
	"🗑 Not relevant: dismiss the lead"

const commandList = "<b>Commands</b>\n" +
	"/status - statistics\n" +
	"/sources - monitored sources\n" +
	"/keywords - keyword lists\n" +
	"/mark &lt;id&gt; &lt;status&gt; - set a lead status\n" +
	"/note &lt;id&gt; &lt;text&gt; - attach a note to a lead\n" +
	"/pause - pause monitoring\n" +
	"/resume - resume monitoring\n" +
	"/help - this message"

var statusLabels = map[store.Status]string{
	store.StatusNew:         "New",
	store.StatusSaved:       "Saved",
	store.StatusContacted:   "Contacted",
	store.StatusNotRelevant: "Not relevant",
	store.StatusArchived:    "Archived",
}

func (h *Handler) status(ctx context.Context) (string, error) {
	counts, err := h.cfg.Store.CountByStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("leadbot: status: %w", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}

	icon, state := "✅", "active"
	if h.cfg.State.Paused() {
		icon, state = "⏸", "paused"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>System status</b>\n\n", icon)
	b.WriteString("📊 <b>Leads</b>\n")
	fmt.Fprintf(&b, "• Total: %d\n", total)
	for _, s := range store.Statuses {
		fmt.Fprintf(&b, "• %s: %d\n", statusLabels[s], counts[s])
	}
	fmt.Fprintf(&b, "\n⏰ <b>Check interval:</b> every %s\n", formatInterval(h.cfg.Interval))
	fmt.Fprintf(&b, "🔄 <b>Monitoring:</b> %s", state)
	return b.String(), nil
}

func formatInterval(d time.Duration) string {
	if d%time.Hour == 0 && d >= time.Hour {
		return plural(int(d/time.Hour), "hour")
	}
	return plural(int(d/time.Minute), "minute")
}

func (h *Handler) sources(ctx context.Context) (string, error) {
	stats, err := h.cfg.Store.ListSources(ctx)
	if err != nil {
		return "", fmt.Errorf("leadbot: sources: %w", err)
	}
	known := make(map[string]*store.SourceStats, len(stats))
	for _, s := range stats {
		known[s.URL] = s
	}

	var b strings.Builder
	b.WriteString("📍 <b>Monitored sources</b>\n\n")
	for i, u := range h.cfg.Sources {
		name := extract.SourceName("", u)
		st, ok := known[u]
		if ok && st.Name != "" {
			name = st.Name
		}
		fmt.Fprintf(&b, "%d. %s", i+1, html.EscapeString(name))
		if ok {
			fmt.Fprintf(&b, " (%d posts seen)", st.TotalPostsFound)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *Handler) keywords() string {
	var b strings.Builder
	b.WriteString("🔑 <b>Keywords</b>\n\n")
	writeKeywordList(&b, "✅ <b>Positive</b>", h.cfg.Positive)
	b.WriteByte('\n')
	writeKeywordList(&b, "❌ <b>Negative</b>", h.cfg.Negative)
	return strings.TrimRight(b.String(), "\n")
}

func writeKeywordList(b *strings.Builder, title string, kws []string) {
	fmt.Fprintf(b, "%s (%d):\n", title, len(kws))
	for i, kw := range kws {
		if i == keywordListLimit {
			fmt.Fprintf(b, "... and %d more\n", len(kws)-keywordListLimit)
			break
		}
		fmt.Fprintf(b, "• %s\n", html.EscapeString(kw))
	}
}

func (h *Handler) mark(ctx context.Context, text string) (string, error) {
	id, raw := args(text)
	status := store.Status(strings.ToLower(raw))
	if id == "" || !status.Valid() {
		return "Usage: /mark &lt;id&gt; new|saved|contacted|not_relevant|archived", nil
	}
	if err := h.cfg.Store.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "Lead not found: " + html.EscapeString(id), nil
		}
		return "", fmt.Errorf("leadbot: mark %s: %w", id, err)
	}
	h.log.Info("leadbot: lead status updated", "external_id", id, "status", status)
	return fmt.Sprintf("✅ %s is now %s.", html.EscapeString(id), statusLabels[status]), nil
}

func (h *Handler) note(ctx context.Context, text string) (string, error) {
	id, notes := args(text)
	if id == "" || notes == "" {
		return "Usage: /note &lt;id&gt; &lt;text&gt;", nil
	}
	if err := h.cfg.Store.SetNotes(ctx, id, notes); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "Lead not found: " + html.EscapeString(id), nil
		}
		return "", fmt.Errorf("leadbot: note %s: %w", id, err)
	}
	return "📝 Note saved for " + html.EscapeString(id) + ".", nil
}

var actionStatus = map[string]store.Status{
	ActionSave:        store.StatusSaved,
	ActionNotRelevant: store.StatusNotRelevant,
}

var actionConfirm = map[string]string{
	ActionSave:        "💾 Lead saved.",
	ActionNotRelevant: "🗑 Lead marked as not relevant.",
}

// callback applies an alert button: it updates the lead status, removes
// the buttons from the alert and confirms in the chat.
func (h *Handler) callback(ctx context.Context, msg channels.Message) ([]channels.Message, error) {
	action, id, ok := strings.Cut(msg.Data, ":")
	status, known := actionStatus[action]
	if !ok || !known || id == "" {
		h.log.Warn("leadbot: unknown callback", "data", msg.Data)
		h.ack(ctx, msg, "")
		return nil, nil
	}

	if err := h.cfg.Store.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.ack(ctx, msg, "Lead not found")
			return nil, nil
		}
		h.ack(ctx, msg, "")
		return nil, fmt.Errorf("leadbot: callback %s: %w", msg.Data, err)
	}
	h.log.Info("leadbot: lead status updated", "external_id", id, "status", status)
	h.ack(ctx, msg, "")

	if h.cfg.Buttons != nil && msg.MessageID != "" {
		if err := h.cfg.Buttons.ClearButtons(ctx, msg.ChatID, msg.MessageID); err != nil {
			h.log.Warn("leadbot: clear buttons", "error", err)
		}
	}
	return []channels.Message{{ChatID: msg.ChatID, MessageID: msg.MessageID, Text: actionConfirm[action]}}, nil
}

func (h *Handler) ack(ctx context.Context, msg channels.Message, text string) {
	if h.cfg.Buttons == nil || msg.CallbackID == "" {
		return
	}
	if err := h.cfg.Buttons.Acknowledge(ctx, msg.CallbackID, text); err != nil {
		h.log.Warn("leadbot: acknowledge", "error", err)
	}
}
