// Package leadbot is the operator-facing side of the notification channel:
// it formats lead alerts, sends them, and answers the operator's commands
// and alert buttons.
package leadbot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/leadfinder/channels"
	"github.com/hazyhaar/leadfinder/store"
)

// MaxAlertText bounds the post excerpt in an alert, in runes.
const MaxAlertText = 300

// Callback actions carried in button data as "<action>:<external id>".
const (
	ActionSave        = "save"
	ActionNotRelevant = "not_relevant"
)

// strict strips all markup and escapes the rest for Telegram's HTML mode.
var strict = bluemonday.StrictPolicy()

// clean renders scraped text safe for an HTML-mode message.
func clean(s string) string {
	return strict.Sanitize(s)
}

// truncate cuts s to max runes, appending an ellipsis when cut.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max])) + "..."
}

// TimeAgo renders the age of t relative to now in coarse buckets.
func TimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "less than a minute ago"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	default:
		return plural(int(d/(24*time.Hour)), "day") + " ago"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Alert builds the alert message for a new lead. Times render in loc.
func Alert(l *store.Lead, now time.Time, loc *time.Location) channels.Message {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	b.WriteString("🔥 <b>New lead</b>\n\n")
	fmt.Fprintf(&b, "👤 %s\n", clean(l.Author))
	fmt.Fprintf(&b, "📍 %s\n\n", clean(l.SourceName))
	fmt.Fprintf(&b, "💬 <i>%s</i>\n\n", clean(truncate(l.Text, MaxAlertText)))
	if len(l.MatchedKeywords) > 0 {
		fmt.Fprintf(&b, "🔑 %s\n", clean(strings.Join(l.MatchedKeywords, ", ")))
	}
	posted := l.PostedAt
	if posted.IsZero() {
		posted = l.DiscoveredAt
	}
	ago := TimeAgo(posted, now)
	if !posted.IsZero() {
		ago += " (" + posted.In(loc).Format("02 Jan 15:04") + ")"
	}
	fmt.Fprintf(&b, "⏰ Posted: %s", ago)

	var rows [][]channels.Button
	if l.Permalink != "" {
		rows = append(rows, []channels.Button{{Text: "🔗 Open", URL: l.Permalink}})
	}
	rows = append(rows, []channels.Button{
		{Text: "💾 Save", Data: ActionSave + ":" + l.ExternalID},
		{Text: "🗑 Not relevant", Data: ActionNotRelevant + ":" + l.ExternalID},
	})
	return channels.Message{Text: b.String(), Buttons: rows}
}

// Notifier sends lead alerts to the operator chat.
type Notifier struct {
	ch     channels.Channel
	chatID string
	loc    *time.Location
	now    func() time.Time
	log    *slog.Logger
}

// NewNotifier returns a Notifier sending to chatID over ch.
func NewNotifier(ch channels.Channel, chatID string, loc *time.Location, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{ch: ch, chatID: chatID, loc: loc, now: time.Now, log: logger}
}

// Notify sends one alert. Failures are returned, never retried.
func (n *Notifier) Notify(ctx context.Context, l *store.Lead) error {
	msg := Alert(l, n.now(), n.loc)
	msg.ChatID = n.chatID
	msg.Direction = channels.Outbound
	if err := n.ch.Send(ctx, msg); err != nil {
		return fmt.Errorf("leadbot: notify %s: %w", l.ExternalID, err)
	}
	n.log.Info("leadbot: alert sent", "external_id", l.ExternalID, "source", l.SourceName)
	return nil
}
