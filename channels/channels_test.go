package channels

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const testToken = "123456:SECRET-TOKEN"

// botCall is one request received by the fake Bot API.
type botCall struct {
	Method string
	Body   map[string]any
}

// fakeBot serves the Bot API. reply picks the JSON reply per method and
// call index.
type fakeBot struct {
	mu    sync.Mutex
	calls []botCall
	reply func(method string, n int, body map[string]any) (int, string)
}

func (f *fakeBot) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := "/bot" + testToken + "/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		method := strings.TrimPrefix(r.URL.Path, prefix)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)

		f.mu.Lock()
		n := 0
		for _, c := range f.calls {
			if c.Method == method {
				n++
			}
		}
		f.calls = append(f.calls, botCall{Method: method, Body: body})
		f.mu.Unlock()

		code, out := 200, `{"ok":true,"result":true}`
		if f.reply != nil {
			code, out = f.reply(method, n, body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		io.WriteString(w, out)
	}
}

func (f *fakeBot) byMethod(method string) []botCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []botCall
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func newTestTelegram(t *testing.T, bot *fakeBot) *Telegram {
	t.Helper()
	srv := httptest.NewServer(bot.handler(t))
	t.Cleanup(srv.Close)
	tg, err := NewTelegram("operator", TelegramConfig{
		BotToken:    testToken,
		APIBase:     srv.URL,
		PollTimeout: time.Second,
		MinInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tg.Close() })
	return tg
}

// ---------------------------------------------------------------------------
// Telegram
// ---------------------------------------------------------------------------

func TestNewTelegram_RequiresToken(t *testing.T) {
	if _, err := NewTelegram("x", TelegramConfig{}); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestTelegram_Send(t *testing.T) {
	// WHAT: sendMessage carries chat, HTML parse mode, disabled previews and the inline keyboard.
	bot := &fakeBot{}
	tg := newTestTelegram(t, bot)

	err := tg.Send(context.Background(), Message{
		ChatID: "-100200",
		Text:   "<b>New lead</b>",
		Buttons: [][]Button{
			{{Text: "Open", URL: "https://www.facebook.com/groups/x/posts/1/"}},
			{{Text: "Save", Data: "save:fb_1"}, {Text: "Not relevant", Data: "not_relevant:fb_1"}},
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	calls := bot.byMethod("sendMessage")
	if len(calls) != 1 {
		t.Fatalf("sendMessage calls = %d", len(calls))
	}
	body := calls[0].Body
	if body["chat_id"] != "-100200" || body["parse_mode"] != "HTML" || body["text"] != "<b>New lead</b>" {
		t.Fatalf("body = %v", body)
	}
	kb := body["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	if len(kb) != 2 {
		t.Fatalf("keyboard rows = %d", len(kb))
	}
	second := kb[1].([]any)
	if second[1].(map[string]any)["callback_data"] != "not_relevant:fb_1" {
		t.Fatalf("row 2 = %v", second)
	}
	if first := kb[0].([]any)[0].(map[string]any); first["url"] == nil || first["callback_data"] != nil {
		t.Fatalf("url button = %v", first)
	}
	if tg.Status().LastMessage.IsZero() {
		t.Error("LastMessage not updated")
	}
}

func TestTelegram_SendAPIError(t *testing.T) {
	bot := &fakeBot{reply: func(string, int, map[string]any) (int, string) {
		return 400, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`
	}}
	tg := newTestTelegram(t, bot)

	err := tg.Send(context.Background(), Message{ChatID: "1", Text: "hi"})
	var sendErr *ErrSendFailed
	if !errors.As(err, &sendErr) {
		t.Fatalf("err = %v, want ErrSendFailed", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 400 || !strings.Contains(apiErr.Description, "chat not found") {
		t.Fatalf("api err = %+v", apiErr)
	}
	if tg.Status().Error == "" {
		t.Error("status error not recorded")
	}
}

func TestTelegram_RetriesAfterFloodWait(t *testing.T) {
	// WHAT: a 429 with retry_after is retried once after the wait.
	bot := &fakeBot{reply: func(method string, n int, _ map[string]any) (int, string) {
		if n == 0 {
			return 429, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":1}}`
		}
		return 200, `{"ok":true,"result":{}}`
	}}
	tg := newTestTelegram(t, bot)

	if err := tg.Send(context.Background(), Message{ChatID: "1", Text: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n := len(bot.byMethod("sendMessage")); n != 2 {
		t.Fatalf("attempts = %d, want 2", n)
	}
}

func TestTelegram_SendAfterClose(t *testing.T) {
	tg := newTestTelegram(t, &fakeBot{})
	tg.Close()
	err := tg.Send(context.Background(), Message{ChatID: "1", Text: "hi"})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if err := tg.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestTelegram_RedactsToken(t *testing.T) {
	// WHAT: transport errors never carry the bot token.
	// WHY: errors are logged verbatim.
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	tg, err := NewTelegram("operator", TelegramConfig{BotToken: testToken, APIBase: base, MinInterval: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	err = tg.Send(context.Background(), Message{ChatID: "1", Text: "hi"})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if strings.Contains(err.Error(), "SECRET-TOKEN") {
		t.Fatalf("token leaked: %v", err)
	}
}

func TestTelegram_AcknowledgeAndClearButtons(t *testing.T) {
	bot := &fakeBot{}
	tg := newTestTelegram(t, bot)
	ctx := context.Background()

	if err := tg.Acknowledge(ctx, "cb-1", "Saved"); err != nil {
		t.Fatal(err)
	}
	if err := tg.ClearButtons(ctx, "-100200", "77"); err != nil {
		t.Fatal(err)
	}
	if err := tg.ClearButtons(ctx, "-100200", "not-a-number"); err == nil {
		t.Fatal("expected error for bad message id")
	}

	ack := bot.byMethod("answerCallbackQuery")
	if len(ack) != 1 || ack[0].Body["callback_query_id"] != "cb-1" || ack[0].Body["text"] != "Saved" {
		t.Fatalf("ack = %v", ack)
	}
	edit := bot.byMethod("editMessageReplyMarkup")
	if len(edit) != 1 {
		t.Fatalf("edit calls = %d", len(edit))
	}
	if edit[0].Body["message_id"].(float64) != 77 {
		t.Fatalf("message_id = %v", edit[0].Body["message_id"])
	}
	rows := edit[0].Body["reply_markup"].(map[string]any)["inline_keyboard"].([]any)
	if len(rows) != 0 {
		t.Fatalf("keyboard should be empty: %v", rows)
	}
}

func TestTelegram_Listen(t *testing.T) {
	// WHAT: updates become Messages in order and the offset advances past them.
	updates := `{"ok":true,"result":[
	 {"update_id":10,"message":{"message_id":5,"from":{"id":42},"chat":{"id":-100200},"date":1740823200,"text":"/status"}},
	 {"update_id":11,"edited_message":{"message_id":6,"chat":{"id":1},"date":1,"text":"ignored"}},
	 {"update_id":12,"callback_query":{"id":"cb-9","from":{"id":42},"data":"save:fb_1","message":{"message_id":77,"chat":{"id":-100200},"date":1,"text":"alert"}}}
	]}`
	bot := &fakeBot{reply: func(method string, n int, _ map[string]any) (int, string) {
		if method != "getUpdates" {
			return 200, `{"ok":true,"result":true}`
		}
		if n == 0 {
			return 200, updates
		}
		time.Sleep(20 * time.Millisecond)
		return 200, `{"ok":true,"result":[]}`
	}}
	tg := newTestTelegram(t, bot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs := tg.Listen(ctx)

	var got []Message
	for len(got) < 2 {
		select {
		case m := <-msgs:
			got = append(got, m)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %d messages", len(got))
		}
	}

	text := got[0]
	if text.Kind != KindText || text.Text != "/status" || text.ChatID != "-100200" || text.SenderID != "42" {
		t.Fatalf("text message = %+v", text)
	}
	if !text.Timestamp.Equal(time.Unix(1740823200, 0)) {
		t.Errorf("timestamp = %s", text.Timestamp)
	}
	cb := got[1]
	if cb.Kind != KindCallback || cb.CallbackID != "cb-9" || cb.Data != "save:fb_1" || cb.MessageID != "77" {
		t.Fatalf("callback = %+v", cb)
	}

	// The next poll must confirm the batch.
	deadline := time.Now().Add(2 * time.Second)
	for {
		polls := bot.byMethod("getUpdates")
		if len(polls) >= 2 {
			if off := polls[1].Body["offset"].(float64); off != 13 {
				t.Fatalf("offset = %v, want 13", off)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second poll never happened")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	for range msgs {
	}
	if tg.Status().Connected {
		t.Error("should be disconnected after cancel")
	}
}

func TestTelegram_CloseStopsListen(t *testing.T) {
	bot := &fakeBot{reply: func(method string, n int, _ map[string]any) (int, string) {
		time.Sleep(20 * time.Millisecond)
		return 200, `{"ok":true,"result":[]}`
	}}
	tg := newTestTelegram(t, bot)
	msgs := tg.Listen(context.Background())
	tg.Close()
	select {
	case _, ok := <-msgs:
		if ok {
			t.Fatal("unexpected message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listen stream not closed after Close")
	}
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// stubChannel emits a fixed set of inbound messages and records sends.
type stubChannel struct {
	in   []Message
	mu   sync.Mutex
	sent []Message
}

func (s *stubChannel) Listen(ctx context.Context) <-chan Message {
	ch := make(chan Message)
	go func() {
		defer close(ch)
		for _, m := range s.in {
			select {
			case ch <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (s *stubChannel) Send(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubChannel) Status() ChannelStatus { return ChannelStatus{Platform: "stub"} }
func (s *stubChannel) Close() error          { return nil }

func TestDispatcher_Serve(t *testing.T) {
	// WHAT: responses go back on the same channel, outbound, to the sender's chat.
	ch := &stubChannel{in: []Message{
		{ChatID: "7", Text: "/status"},
		{ChatID: "7", Text: "/boom"},
		{ChatID: "7", Text: "/keywords"},
	}}
	d := NewDispatcher(func(ctx context.Context, msg Message) ([]Message, error) {
		switch msg.Text {
		case "/boom":
			panic("bad handler")
		case "/keywords":
			return nil, errors.New("store down")
		}
		return []Message{{Text: "ok: " + msg.Text}}, nil
	})

	d.Serve(context.Background(), "operator", ch)
	d.Wait()

	if len(ch.sent) != 1 {
		t.Fatalf("sent = %+v", ch.sent)
	}
	got := ch.sent[0]
	if got.ChatID != "7" || got.Direction != Outbound || got.ChannelName != "operator" || got.Text != "ok: /status" {
		t.Fatalf("response = %+v", got)
	}
}

func TestDispatcher_SendNotFound(t *testing.T) {
	d := NewDispatcher(nil)
	err := d.Send(context.Background(), Message{ChannelName: "nope"})
	var nf *ErrChannelNotFound
	if !errors.As(err, &nf) || nf.Channel != "nope" {
		t.Fatalf("err = %v", err)
	}
}

func TestDirection_String(t *testing.T) {
	if Inbound.String() != "inbound" || Outbound.String() != "outbound" {
		t.Fatalf("got %s / %s", Inbound, Outbound)
	}
}
