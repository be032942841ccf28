// Package channels provides the operator messaging connector: a
// platform-normalized Message model, the Channel interface, a Telegram Bot
// API implementation and the dispatch loop that routes inbound messages to a
// handler and pushes the responses back.
//
//	tg, _ := channels.NewTelegram("operator", channels.TelegramConfig{BotToken: token})
//	d := channels.NewDispatcher(handler, channels.WithLogger(logger))
//	go d.Serve(ctx, tg)
//
// Alerts go out through Send on the same channel; the dispatch loop only
// carries replies to inbound messages.
package channels

import (
	"context"
	"time"
)

// Direction indicates whether a message is inbound (received from a user)
// or outbound (sent by the system).
type Direction int

const (
	Inbound  Direction = iota // Message received from the operator.
	Outbound                  // Message sent to the operator.
)

// String returns "inbound" or "outbound".
func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Kind distinguishes typed text from button presses.
type Kind int

const (
	KindText     Kind = iota // A typed message or command.
	KindCallback             // An inline button press.
)

// Message is a platform-normalized inbound or outbound message.
type Message struct {
	ID          string    `json:"id"`
	ChannelName string    `json:"channel"`
	Platform    string    `json:"platform"`
	Direction   Direction `json:"direction"`
	Kind        Kind      `json:"kind"`
	ChatID      string    `json:"chat_id"`
	SenderID    string    `json:"sender_id"`
	Text        string    `json:"text"`

	// MessageID is the platform id of the message a callback was pressed
	// on, or of the message a reply refers to.
	MessageID string `json:"message_id,omitempty"`

	// CallbackID and Data are set for KindCallback.
	CallbackID string `json:"callback_id,omitempty"`
	Data       string `json:"data,omitempty"`

	// Buttons are rows of inline buttons attached to an outbound message.
	Buttons [][]Button `json:"buttons,omitempty"`

	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Button is an inline button: it either opens URL or sends Data back as a
// callback.
type Button struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"`
}

// ChannelStatus describes the current state of a channel connection.
type ChannelStatus struct {
	Connected   bool      `json:"connected"`
	Platform    string    `json:"platform"`
	AuthState   string    `json:"auth_state"`
	LastMessage time.Time `json:"last_message"`
	Error       string    `json:"error,omitempty"`
}

// Channel is a bidirectional connection to a messaging platform.
type Channel interface {
	// Listen returns a read-only channel of inbound messages.
	// The returned channel is closed when ctx is cancelled or Close is called.
	Listen(ctx context.Context) <-chan Message

	// Send pushes an outbound message to the platform.
	Send(ctx context.Context, msg Message) error

	// Status returns the current connection status.
	Status() ChannelStatus

	// Close shuts down the connection and releases resources.
	Close() error
}

// Interactive is implemented by channels that support inline buttons.
type Interactive interface {
	// Acknowledge answers a button press, optionally with a short toast.
	Acknowledge(ctx context.Context, callbackID, text string) error

	// ClearButtons removes the inline buttons from a sent message.
	ClearButtons(ctx context.Context, chatID, messageID string) error
}

// InboundHandler processes an inbound message and returns zero or more
// outbound response messages. It may return nil when no response is due.
type InboundHandler func(ctx context.Context, msg Message) ([]Message, error)
