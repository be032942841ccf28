package extract

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// minFragment is the shortest text fragment kept when assembling post text.
const minFragment = 4

// noisePrefixes are interface strings that occupy article-shaped nodes
// without being posts: composer prompts, join banners, sponsored units.
var noisePrefixes = []string{
	"write something",
	"join group",
	"sponsored",
	"suggested for you",
	"people you may know",
	"כתבו משהו",
	"כתוב משהו",
	"הצטרפות לקבוצה",
	"הצטרף לקבוצה",
	"ממומן",
	"הצעות בשבילך",
}

// trailers are truncation markers appended to long posts.
var trailers = []string{"… see more", "... see more", "…see more", "… ראו עוד", "... ראו עוד", "… עוד"}

// Collapse trims s and collapses every whitespace run to one space.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Normalize is the fingerprint normal form: NFKC, case-folded, collapsed.
func Normalize(s string) string {
	return Collapse(cases.Fold().String(norm.NFKC.String(s)))
}

// Fingerprint is a 128-bit BLAKE2b digest of the normalized text, hex-encoded.
func Fingerprint(text string) string {
	sum := blake2b.Sum256([]byte(Normalize(text)))
	return hex.EncodeToString(sum[:16])
}

// IsNoise reports whether text is interface chrome rather than a post.
func IsNoise(text string) bool {
	n := Normalize(text)
	for _, p := range noisePrefixes {
		if strings.HasPrefix(n, p) {
			return true
		}
	}
	return false
}

// stripTrailer removes a trailing "See more" marker.
func stripTrailer(text string) string {
	for _, t := range trailers {
		n := utf8.RuneCountInString(t)
		cut := len(text)
		for i := 0; i < n && cut > 0; i++ {
			_, size := utf8.DecodeLastRuneInString(text[:cut])
			cut -= size
		}
		if strings.EqualFold(text[cut:], t) {
			return strings.TrimSpace(text[:cut])
		}
	}
	return text
}

// joinFragments keeps the first max distinct fragments of at least
// minFragment runes and joins them with a space.
func joinFragments(frags []string, max int) string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range frags {
		f = Collapse(f)
		if utf8.RuneCountInString(f) < minFragment || seen[f] {
			continue
		}
		// A parent node repeats its children's text; keep the longer one only.
		if contained(out, f) {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) == max {
			break
		}
	}
	return strings.Join(out, " ")
}

func contained(kept []string, f string) bool {
	for _, k := range kept {
		if strings.Contains(k, f) {
			return true
		}
	}
	return false
}

// longestLine returns the longest line of text with at least minLen runes
// that is not noise, or "".
func longestLine(text string, minLen int) string {
	best, bestLen := "", 0
	for _, line := range strings.Split(text, "\n") {
		line = Collapse(line)
		n := utf8.RuneCountInString(line)
		if n < minLen || n <= bestLen || IsNoise(line) {
			continue
		}
		best, bestLen = line, n
	}
	return best
}
