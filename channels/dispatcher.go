package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Dispatcher routes inbound messages of its channels through an
// InboundHandler and sends the responses back on the channel the message
// arrived on.
type Dispatcher struct {
	handler InboundHandler
	logger  *slog.Logger

	mu       sync.RWMutex
	channels map[string]Channel
	wg       sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets a custom logger for the dispatcher.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a Dispatcher with the given inbound handler.
func NewDispatcher(handler InboundHandler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handler:  handler,
		logger:   slog.Default(),
		channels: make(map[string]Channel),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Serve dispatches inbound messages of ch until ctx is cancelled or the
// channel's listen stream closes. Messages are handled one at a time.
func (d *Dispatcher) Serve(ctx context.Context, name string, ch Channel) {
	d.mu.Lock()
	d.channels[name] = ch
	d.mu.Unlock()
	d.wg.Add(1)
	defer func() {
		d.mu.Lock()
		delete(d.channels, name)
		d.mu.Unlock()
		d.wg.Done()
	}()

	d.logger.Info("channel started", "channel", name, "platform", ch.Status().Platform)
	msgs := ch.Listen(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				d.logger.Info("channel listen closed", "channel", name)
				return
			}
			d.dispatch(ctx, name, ch, msg)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, name string, ch Channel, msg Message) {
	responses, err := d.handle(ctx, msg)
	if err != nil {
		d.logger.Error("inbound handler failed",
			"channel", name, "sender", msg.SenderID, "error", err)
		return
	}
	for _, resp := range responses {
		resp.ChannelName = name
		resp.Direction = Outbound
		if resp.ChatID == "" {
			resp.ChatID = msg.ChatID
		}
		if err := ch.Send(ctx, resp); err != nil {
			d.logger.Error("send response failed",
				"channel", name, "chat", resp.ChatID, "error", err)
		}
	}
}

// handle runs the handler, turning a panic into an error so one bad
// message cannot stop the loop.
func (d *Dispatcher) handle(ctx context.Context, msg Message) (out []Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channels: handler panic: %v", r)
		}
	}()
	return d.handler(ctx, msg)
}

// Send sends an outbound message through the named channel.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	d.mu.RLock()
	ch, ok := d.channels[msg.ChannelName]
	d.mu.RUnlock()
	if !ok {
		return &ErrChannelNotFound{Channel: msg.ChannelName}
	}
	return ch.Send(ctx, msg)
}

// Wait blocks until every Serve call has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }
