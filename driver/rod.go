package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

const loadTimeout = 30 * time.Second

// RodPage adapts a *rod.Page.
type RodPage struct {
	page *rod.Page
}

// NewRodPage wraps p.
func NewRodPage(p *rod.Page) *RodPage {
	return &RodPage{page: p}
}

func (r *RodPage) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, loadTimeout)
	defer cancel()

	p := r.page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("driver: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("driver: wait load %s: %w", url, err)
	}
	return nil
}

func (r *RodPage) Find(ctx context.Context, query string) ([]Element, error) {
	els, err := r.page.Context(ctx).Elements(query)
	if err != nil {
		return nil, err
	}
	return wrapRod(els), nil
}

func (r *RodPage) CurrentURL(ctx context.Context) (string, error) {
	info, err := r.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (r *RodPage) Text(ctx context.Context) (string, error) {
	return r.evalString(ctx, `() => document.body ? document.body.innerText : ""`)
}

func (r *RodPage) Title(ctx context.Context) (string, error) {
	return r.evalString(ctx, `() => document.title`)
}

func (r *RodPage) Scroll(ctx context.Context, dy int) error {
	_, err := r.page.Context(ctx).Eval(`(dy) => window.scrollBy({top: dy, behavior: "smooth"})`, dy)
	return err
}

func (r *RodPage) Close() error {
	return r.page.Close()
}

func (r *RodPage) evalString(ctx context.Context, js string) (string, error) {
	res, err := r.page.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

type rodElement struct {
	el *rod.Element
}

func wrapRod(els rod.Elements) []Element {
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = &rodElement{el: el}
	}
	return out
}

func (e *rodElement) Find(ctx context.Context, query string) ([]Element, error) {
	els, err := e.el.Context(ctx).Elements(query)
	if err != nil {
		return nil, err
	}
	return wrapRod(els), nil
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *rodElement) Attr(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) Input(ctx context.Context, text string) error {
	return e.el.Context(ctx).Input(text)
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Submit(ctx context.Context) error {
	return e.el.Context(ctx).Type(input.Enter)
}
