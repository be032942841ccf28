package channels

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("channels: channel closed")

// ErrChannelNotFound is returned when an operation targets a channel that
// is not being served.
type ErrChannelNotFound struct {
	Channel string
}

func (e *ErrChannelNotFound) Error() string {
	return fmt.Sprintf("channels: channel not found: %s", e.Channel)
}

// ErrSendFailed is returned when a message could not be delivered to the
// platform.
type ErrSendFailed struct {
	Channel  string
	Platform string
	Cause    error
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("channels: send failed on %s (%s): %v", e.Channel, e.Platform, e.Cause)
}

func (e *ErrSendFailed) Unwrap() error { return e.Cause }

// APIError is a non-ok reply from the Telegram Bot API.
type APIError struct {
	Method      string
	Code        int
	Description string
	// RetryAfter is set on 429 replies.
	RetryAfter int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: %d %s", e.Method, e.Code, e.Description)
}
