package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// Static is a Page over pre-recorded HTML. Each URL maps to a sequence of
// snapshots; Scroll advances to the next snapshot, modelling content that
// loads as the viewport moves. It backs the -html dry run and tests.
type Static struct {
	mu       sync.Mutex
	routes   map[string][]string
	navErr   map[string]error
	submitTo string

	url     string
	step    int
	doc     *goquery.Document
	closed  bool
	inputs  map[string]string
	scrolls int
	clicks  int
}

// NewStatic returns an empty Static page.
func NewStatic() *Static {
	return &Static{
		routes: make(map[string][]string),
		navErr: make(map[string]error),
		inputs: make(map[string]string),
	}
}

// Route registers the snapshots served for url.
func (s *Static) Route(url string, snapshots ...string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[url] = snapshots
	return s
}

// FailNavigation makes Navigate(url) return err.
func (s *Static) FailNavigation(url string, err error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navErr[url] = err
	return s
}

// SubmitTo makes any Click or Submit on an element load url.
func (s *Static) SubmitTo(url string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitTo = url
	return s
}

// Typed returns what was input into the field whose id or name is key.
func (s *Static) Typed(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputs[key]
}

// Scrolls reports how many Scroll calls were made.
func (s *Static) Scrolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrolls
}

// Closed reports whether Close was called.
func (s *Static) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Static) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(url)
}

func (s *Static) loadLocked(url string) error {
	if s.closed {
		return ErrClosed
	}
	if err := s.navErr[url]; err != nil {
		return fmt.Errorf("driver: navigate %s: %w", url, err)
	}
	snaps, ok := s.routes[url]
	if !ok || len(snaps) == 0 {
		return fmt.Errorf("driver: navigate %s: no route", url)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snaps[0]))
	if err != nil {
		return fmt.Errorf("driver: parse %s: %w", url, err)
	}
	s.url, s.step, s.doc = url, 0, doc
	return nil
}

func (s *Static) current() (*goquery.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.doc == nil {
		return nil, fmt.Errorf("driver: no document loaded")
	}
	return s.doc, nil
}

func (s *Static) Find(ctx context.Context, query string) ([]Element, error) {
	doc, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.wrap(doc.Find(query)), nil
}

func (s *Static) CurrentURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	return s.url, nil
}

func (s *Static) Text(ctx context.Context) (string, error) {
	doc, err := s.current()
	if err != nil {
		return "", err
	}
	return InnerText(doc.Find("body")), nil
}

func (s *Static) Title(ctx context.Context) (string, error) {
	doc, err := s.current()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

func (s *Static) Scroll(ctx context.Context, dy int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.scrolls++
	snaps := s.routes[s.url]
	if s.step+1 >= len(snaps) {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snaps[s.step+1]))
	if err != nil {
		return fmt.Errorf("driver: parse %s#%d: %w", s.url, s.step+1, err)
	}
	s.step++
	s.doc = doc
	return nil
}

func (s *Static) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Static) wrap(sel *goquery.Selection) []Element {
	out := make([]Element, 0, sel.Length())
	sel.Each(func(_ int, n *goquery.Selection) {
		out = append(out, &staticElement{page: s, sel: n})
	})
	return out
}

func (s *Static) submit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clicks++
	if s.submitTo == "" {
		return nil
	}
	return s.loadLocked(s.submitTo)
}

type staticElement struct {
	page *Static
	sel  *goquery.Selection
}

func (e *staticElement) Find(ctx context.Context, query string) ([]Element, error) {
	return e.page.wrap(e.sel.Find(query)), nil
}

func (e *staticElement) Text(ctx context.Context) (string, error) {
	return InnerText(e.sel), nil
}

func (e *staticElement) Attr(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

func (e *staticElement) Input(ctx context.Context, text string) error {
	key, ok := e.sel.Attr("id")
	if !ok {
		key, _ = e.sel.Attr("name")
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	e.page.inputs[key] += text
	return nil
}

func (e *staticElement) Click(ctx context.Context) error  { return e.page.submit() }
func (e *staticElement) Submit(ctx context.Context) error { return e.page.submit() }

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"div": true, "footer": true, "form": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "header": true,
	"li": true, "main": true, "nav": true, "ol": true, "p": true,
	"section": true, "table": true, "tr": true, "ul": true,
}

// InnerText approximates the browser's innerText: source whitespace
// collapses, block elements and <br> start new lines, script and style
// content is dropped.
func InnerText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			switch name := goquery.NodeName(c); {
			case name == "#text":
				b.WriteString(strings.Map(func(r rune) rune {
					if unicode.IsSpace(r) {
						return ' '
					}
					return r
				}, c.Text()))
			case name == "br":
				b.WriteByte('\n')
			case name == "script" || name == "style" || name == "noscript":
			case blockTags[name]:
				b.WriteByte('\n')
				walk(c)
				b.WriteByte('\n')
			default:
				walk(c)
			}
		})
	}
	walk(sel)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
