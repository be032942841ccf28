// Package selector resolves logical extraction targets (post container, post
// text, author, permalink, timestamp) against a page whose markup drifts.
// Each target maps to an ordered list of CSS queries; the first query that
// yields at least one element wins.
package selector

import (
	"context"
	"strings"

	"github.com/hazyhaar/leadfinder/driver"
)

// Target is a logical extraction target.
type Target string

const (
	Container Target = "container"
	Text      Target = "text"
	Author    Target = "author"
	Permalink Target = "permalink"
	Timestamp Target = "timestamp"
)

// Targets lists every known target.
var Targets = []Target{Container, Text, Author, Permalink, Timestamp}

// Lookup returns the target called name, ignoring case.
func Lookup(name string) (Target, bool) {
	for _, t := range Targets {
		if strings.EqualFold(string(t), strings.TrimSpace(name)) {
			return t, true
		}
	}
	return "", false
}

// Set maps targets to priority-ordered queries.
type Set map[Target][]string

// Default returns the built-in query lists, most specific first.
func Default() Set {
	return Set{
		Container: {
			`div[role="feed"] > div div[role="article"]`,
			`div[role="article"][aria-posinset]`,
			`div[role="article"]`,
			`article`,
			`div[data-ft]`,
			`div[data-pagelet^="FeedUnit"]`,
		},
		Text: {
			`div[data-ad-preview="message"]`,
			`div[data-ad-comet-preview="message"]`,
			`[data-testid="post_message"]`,
			`div.story_body_container > div`,
			`div[dir="auto"]`,
			`p`,
		},
		Author: {
			`h2 strong a`,
			`h3 strong a`,
			`h3 a`,
			`strong a[href]`,
			`a[href*="/user/"]`,
			`a[href*="profile.php"]`,
			`a[role="link"][href]`,
		},
		Permalink: {
			`a[href*="/posts/"]`,
			`a[href*="/permalink/"]`,
			`a[href*="story_fbid="]`,
			`a[href*="/groups/"][href*="/p/"]`,
		},
		Timestamp: {
			`abbr[data-utime]`,
			`[data-utime]`,
			`abbr[title]`,
		},
	}
}

// Resolver resolves targets using a Set.
type Resolver struct {
	set Set
}

// New returns a Resolver over the defaults extended with extra. Extra
// queries are appended after the built-in ones for their target; names
// that are not a known target are ignored.
func New(extra map[string][]string) *Resolver {
	set := Default()
	for name, queries := range extra {
		t, ok := Lookup(name)
		if !ok {
			continue
		}
		set[t] = append(set[t], queries...)
	}
	return &Resolver{set: set}
}

// Queries returns the ordered queries for t.
func (r *Resolver) Queries(t Target) []string {
	return r.set[t]
}

// Resolve returns the elements matched by the first query for t that yields
// a non-empty result within scope. An empty result means the target is
// unresolved on this layout; it is not an error. Query errors count as empty.
func (r *Resolver) Resolve(ctx context.Context, t Target, scope driver.Finder) []driver.Element {
	for _, q := range r.set[t] {
		if ctx.Err() != nil {
			return nil
		}
		els, err := scope.Find(ctx, q)
		if err != nil || len(els) == 0 {
			continue
		}
		return els
	}
	return nil
}

// First returns the first element of Resolve, or nil.
func (r *Resolver) First(ctx context.Context, t Target, scope driver.Finder) driver.Element {
	if els := r.Resolve(ctx, t, scope); len(els) > 0 {
		return els[0]
	}
	return nil
}
