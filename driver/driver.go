// Package driver defines the rendering-backend capability the session and
// extraction layers need, with a Chrome implementation (go-rod) and a static
// implementation over saved HTML snapshots (goquery).
package driver

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed page.
var ErrClosed = errors.New("driver: page closed")

// Finder runs a CSS query within a scope.
type Finder interface {
	Find(ctx context.Context, query string) ([]Element, error)
}

// Page is one browser tab.
type Page interface {
	Finder
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	// Text returns the visible text of the document body.
	Text(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// Scroll moves the viewport down by dy pixels.
	Scroll(ctx context.Context, dy int) error
	Close() error
}

// Element is a node handle within a Page.
type Element interface {
	Finder
	// Text returns the rendered text, with block boundaries as newlines.
	Text(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, bool, error)
	// Input appends text to a form field.
	Input(ctx context.Context, text string) error
	Click(ctx context.Context) error
	// Submit presses Enter on the element.
	Submit(ctx context.Context) error
}
