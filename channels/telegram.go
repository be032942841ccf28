package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const telegramPlatform = "telegram"

// TelegramConfig configures the Bot API channel.
type TelegramConfig struct {
	// BotToken is the bot API token (from @BotFather).
	BotToken string

	// APIBase is the Bot API root. Default: "https://api.telegram.org".
	APIBase string

	// PollTimeout is the getUpdates long-poll timeout. Default: 30s.
	PollTimeout time.Duration

	// MinInterval spaces outbound calls to stay under the per-chat flood
	// limit. Default: 1s.
	MinInterval time.Duration

	// DropPending skips updates queued while the bot was offline.
	DropPending bool

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Telegram implements Channel and Interactive over the Telegram Bot API
// using long-polling.
type Telegram struct {
	name    string
	cfg     TelegramConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger

	mu      sync.Mutex
	closed  bool
	status  ChannelStatus
	closeCh chan struct{}
}

// NewTelegram returns a Telegram channel. BotToken is required.
func NewTelegram(name string, cfg TelegramConfig) (*Telegram, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.telegram.org"
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.PollTimeout + 15*time.Second}
	}
	return &Telegram{
		name:    name,
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		log:     cfg.Logger,
		status: ChannelStatus{
			Platform:  telegramPlatform,
			AuthState: "token_set",
		},
		closeCh: make(chan struct{}),
	}, nil
}

// Bot API wire types.

type tgUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type tgChat struct {
	ID int64 `json:"id"`
}

type tgMessage struct {
	MessageID int64   `json:"message_id"`
	From      *tgUser `json:"from,omitempty"`
	Chat      tgChat  `json:"chat"`
	Date      int64   `json:"date"`
	Text      string  `json:"text,omitempty"`
}

type tgCallback struct {
	ID      string     `json:"id"`
	From    tgUser     `json:"from"`
	Message *tgMessage `json:"message,omitempty"`
	Data    string     `json:"data,omitempty"`
}

type tgUpdate struct {
	UpdateID      int64       `json:"update_id"`
	Message       *tgMessage  `json:"message,omitempty"`
	CallbackQuery *tgCallback `json:"callback_query,omitempty"`
}

type tgButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

type tgKeyboard struct {
	InlineKeyboard [][]tgButton `json:"inline_keyboard"`
}

type tgEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

func (t *Telegram) endpoint(method string) string {
	return t.cfg.APIBase + "/bot" + t.cfg.BotToken + "/" + method
}

// call posts params as JSON to a Bot API method and decodes the result into
// out when out is non-nil.
func (t *Telegram) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("telegram: %s: encode: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, t.redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, t.redact(err))
	}
	defer resp.Body.Close()

	var env tgEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&env); err != nil {
		return fmt.Errorf("telegram: %s: decode (http %d): %w", method, resp.StatusCode, err)
	}
	if !env.OK {
		apiErr := &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
		if env.Parameters != nil {
			apiErr.RetryAfter = env.Parameters.RetryAfter
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("telegram: %s: decode result: %w", method, err)
		}
	}
	return nil
}

// redact strips the bot token from transport errors, which embed the URL.
func (t *Telegram) redact(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = strings.ReplaceAll(ue.URL, t.cfg.BotToken, "<token>")
	}
	return err
}

// outbound paces and sends one API call, retrying once when the API asks
// the client to back off.
func (t *Telegram) outbound(ctx context.Context, method string, params, out any) error {
	for attempt := 0; ; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		err := t.call(ctx, method, params, out)
		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests && apiErr.RetryAfter > 0 {
			wait := time.Duration(apiErr.RetryAfter) * time.Second
			t.log.Warn("telegram: rate limited", "method", method, "retry_after", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		return err
	}
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return &ErrSendFailed{Channel: t.name, Platform: telegramPlatform, Cause: ErrClosed}
	}

	params := map[string]any{
		"chat_id":              msg.ChatID,
		"text":                 msg.Text,
		"parse_mode":           "HTML",
		"link_preview_options": map[string]bool{"is_disabled": true},
	}
	if len(msg.Buttons) > 0 {
		params["reply_markup"] = keyboard(msg.Buttons)
	}
	if msg.MessageID != "" {
		if id, err := strconv.ParseInt(msg.MessageID, 10, 64); err == nil {
			params["reply_parameters"] = map[string]any{"message_id": id, "allow_sending_without_reply": true}
		}
	}

	if err := t.outbound(ctx, "sendMessage", params, nil); err != nil {
		t.setError(err)
		return &ErrSendFailed{Channel: t.name, Platform: telegramPlatform, Cause: err}
	}
	t.mu.Lock()
	t.status.LastMessage = time.Now()
	t.status.Error = ""
	t.mu.Unlock()
	return nil
}

func keyboard(rows [][]Button) tgKeyboard {
	kb := tgKeyboard{InlineKeyboard: make([][]tgButton, 0, len(rows))}
	for _, row := range rows {
		r := make([]tgButton, 0, len(row))
		for _, b := range row {
			r = append(r, tgButton{Text: b.Text, URL: b.URL, CallbackData: b.Data})
		}
		kb.InlineKeyboard = append(kb.InlineKeyboard, r)
	}
	return kb
}

// Acknowledge answers a callback query so the client stops its spinner.
func (t *Telegram) Acknowledge(ctx context.Context, callbackID, text string) error {
	params := map[string]any{"callback_query_id": callbackID}
	if text != "" {
		params["text"] = text
	}
	return t.outbound(ctx, "answerCallbackQuery", params, nil)
}

// ClearButtons replaces the inline keyboard of a sent message with an
// empty one.
func (t *Telegram) ClearButtons(ctx context.Context, chatID, messageID string) error {
	id, err := strconv.ParseInt(messageID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: message id %q: %w", messageID, err)
	}
	params := map[string]any{
		"chat_id":      chatID,
		"message_id":   id,
		"reply_markup": tgKeyboard{InlineKeyboard: [][]tgButton{}},
	}
	return t.outbound(ctx, "editMessageReplyMarkup", params, nil)
}

// Listen long-polls getUpdates and emits text messages and button presses.
func (t *Telegram) Listen(ctx context.Context) <-chan Message {
	out := make(chan Message, 16)
	go func() {
		defer close(out)
		t.poll(ctx, out)
	}()
	return out
}

func (t *Telegram) poll(ctx context.Context, out chan<- Message) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var offset int64
	if t.cfg.DropPending {
		var pending []tgUpdate
		if err := t.call(ctx, "getUpdates", map[string]any{"offset": -1, "timeout": 0}, &pending); err == nil && len(pending) > 0 {
			offset = pending[len(pending)-1].UpdateID + 1
		}
	}

	t.setConnected(true)
	defer t.setConnected(false)

	backoff := time.Second
	for ctx.Err() == nil {
		var updates []tgUpdate
		err := t.call(ctx, "getUpdates", map[string]any{
			"offset":          offset,
			"timeout":         int(t.cfg.PollTimeout / time.Second),
			"allowed_updates": []string{"message", "callback_query"},
		}, &updates)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.setError(err)
			t.log.Warn("telegram: poll failed", "channel", t.name, "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			offset = u.UpdateID + 1
			msg, ok := t.convert(u)
			if !ok {
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// convert maps an update to a Message. Updates other than text messages and
// callback queries are dropped.
func (t *Telegram) convert(u tgUpdate) (Message, bool) {
	base := Message{
		ChannelName: t.name,
		Platform:    telegramPlatform,
		Direction:   Inbound,
	}
	switch {
	case u.CallbackQuery != nil:
		cb := u.CallbackQuery
		m := base
		m.Kind = KindCallback
		m.ID = cb.ID
		m.CallbackID = cb.ID
		m.Data = cb.Data
		m.SenderID = strconv.FormatInt(cb.From.ID, 10)
		m.Timestamp = time.Now()
		if cb.Message != nil {
			m.ChatID = strconv.FormatInt(cb.Message.Chat.ID, 10)
			m.MessageID = strconv.FormatInt(cb.Message.MessageID, 10)
			m.Text = cb.Message.Text
		}
		return m, true
	case u.Message != nil && u.Message.Text != "":
		tm := u.Message
		m := base
		m.Kind = KindText
		m.ID = strconv.FormatInt(tm.MessageID, 10)
		m.MessageID = m.ID
		m.ChatID = strconv.FormatInt(tm.Chat.ID, 10)
		m.Text = tm.Text
		m.Timestamp = time.Unix(tm.Date, 0)
		if tm.From != nil {
			m.SenderID = strconv.FormatInt(tm.From.ID, 10)
		}
		return m, true
	}
	return Message{}, false
}

func (t *Telegram) setConnected(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Connected = v
}

func (t *Telegram) setError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Error = err.Error()
}

func (t *Telegram) Status() ChannelStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Telegram) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.closeCh)
	t.status.Connected = false
	t.status.AuthState = "disconnected"
	return nil
}
