// Package relevance classifies post text against positive and negative
// keyword lists. A text is relevant when it contains at least one positive
// keyword and no negative keyword; a single negative match vetoes any number
// of positive matches. Matching is case-insensitive substring matching over
// NFKC-normalized, case-folded text, done in one Aho-Corasick pass per list.
package relevance

import (
	"strings"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Result is the outcome of Classify.
type Result struct {
	Relevant        bool
	MatchedPositive []string
	MatchedNegative []string
}

// Filter holds the compiled keyword lists. It is safe for concurrent use.
type Filter struct {
	pos *list
	neg *list
}

type list struct {
	keywords []string // configured spelling, deduplicated
	matcher  *ahocorasick.Matcher
}

// New compiles the keyword lists. Blank keywords are ignored.
func New(positive, negative []string) *Filter {
	return &Filter{pos: compile(positive), neg: compile(negative)}
}

func compile(keywords []string) *list {
	l := &list{}
	seen := make(map[string]bool, len(keywords))
	var dict []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		n := Normalize(kw)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		l.keywords = append(l.keywords, kw)
		dict = append(dict, n)
	}
	if len(dict) > 0 {
		l.matcher = ahocorasick.NewStringMatcher(dict)
	}
	return l
}

func (l *list) match(text []byte) []string {
	if l.matcher == nil {
		return nil
	}
	hits := l.matcher.MatchThreadSafe(text)
	if len(hits) == 0 {
		return nil
	}
	// Report in configured order regardless of where each keyword occurred.
	hit := make([]bool, len(l.keywords))
	for _, i := range hits {
		if i >= 0 && i < len(hit) {
			hit[i] = true
		}
	}
	var out []string
	for i, ok := range hit {
		if ok {
			out = append(out, l.keywords[i])
		}
	}
	return out
}

// Classify is a pure function of text and the compiled lists.
func (f *Filter) Classify(text string) Result {
	b := []byte(Normalize(text))
	pos := f.pos.match(b)
	neg := f.neg.match(b)
	return Result{
		Relevant:        len(pos) > 0 && len(neg) == 0,
		MatchedPositive: pos,
		MatchedNegative: neg,
	}
}

// Positive returns the positive keywords as configured.
func (f *Filter) Positive() []string { return f.pos.keywords }

// Negative returns the negative keywords as configured.
func (f *Filter) Negative() []string { return f.neg.keywords }

// Normalize applies NFKC and Unicode case folding.
func Normalize(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}
