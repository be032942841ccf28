package extract

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// maxExternalIDLen keeps "not_relevant:<id>" within Telegram's 64-byte
// callback_data limit.
const maxExternalIDLen = 48

var (
	postIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`/posts/(\d+)`),
		regexp.MustCompile(`/permalink/(\d+)`),
		regexp.MustCompile(`[?&]story_fbid=(\d+)`),
		regexp.MustCompile(`/p/(\w+)`),
	}
	dataFtPostID = regexp.MustCompile(`"(?:top_level_post_id|mf_story_key)"\s*:\s*"?(\d+)`)
	// Bare id and data-testid values carry many short counters; only a long
	// digit run is taken as a post id there.
	longDigits = regexp.MustCompile(`\d{8,}`)
	unsafeIDRune = regexp.MustCompile(`[^A-Za-z0-9_.:-]`)
)

// idFromPermalink extracts a platform post id from a post URL.
func idFromPermalink(href string) string {
	for _, re := range postIDPatterns {
		if m := re.FindStringSubmatch(href); m != nil {
			return m[1]
		}
	}
	return ""
}

// idFromAttrs extracts a post id from container attributes, in the order
// data-ft, id, data-testid.
func idFromAttrs(attrs map[string]string) string {
	if ft := attrs["data-ft"]; ft != "" {
		if m := dataFtPostID.FindStringSubmatch(ft); m != nil {
			return m[1]
		}
	}
	for _, name := range []string{"id", "data-testid"} {
		v := attrs[name]
		if v == "" {
			continue
		}
		if d := longDigits.FindString(v); d != "" {
			return d
		}
	}
	return ""
}

// ExternalID returns "fb_<id>" when the page exposes a post id, otherwise
// "fp_" plus the content fingerprint.
func ExternalID(permalink string, attrs map[string]string, fingerprint string) string {
	id := idFromPermalink(permalink)
	if id == "" {
		id = idFromAttrs(attrs)
	}
	if id == "" {
		return "fp_" + fingerprint
	}
	id = "fb_" + unsafeIDRune.ReplaceAllString(id, "")
	if len(id) > maxExternalIDLen {
		id = id[:maxExternalIDLen]
	}
	return id
}

// keptQuery lists query parameters that identify a post; all others are
// tracking noise.
var keptQuery = []string{"story_fbid", "id", "fbid"}

// ResolvePermalink makes href absolute against base, maps mobile hosts back
// to www and drops tracking parameters. It returns "" when href is not a
// usable http(s) URL.
func ResolvePermalink(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	h, err := url.Parse(href)
	if err != nil {
		return ""
	}
	u := b.ResolveReference(h)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Host = desktopHost(u.Host)
	q := url.Values{}
	for _, k := range keptQuery {
		if v := u.Query().Get(k); v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

func desktopHost(host string) string {
	switch host {
	case "m.facebook.com", "mbasic.facebook.com", "facebook.com":
		return "www.facebook.com"
	}
	return host
}

// MobileURL rewrites a www.facebook.com URL to m.facebook.com, whose markup
// is lighter and changes less often. Other URLs are returned unchanged.
func MobileURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Host {
	case "www.facebook.com", "facebook.com", "web.facebook.com":
		u.Host = "m.facebook.com"
		return u.String()
	}
	return raw
}

var unreadCounter = regexp.MustCompile(`^\(\d+\+?\)\s*`)

// SourceName derives a display name from the page title ("Name | Facebook"),
// falling back to the last path segment of the source URL.
func SourceName(title, sourceURL string) string {
	title = unreadCounter.ReplaceAllString(strings.TrimSpace(title), "")
	if name := strings.TrimSpace(strings.Split(title, "|")[0]); name != "" && !strings.EqualFold(name, "facebook") {
		return name
	}
	if u, err := url.Parse(sourceURL); err == nil {
		if seg := path.Base(strings.TrimSuffix(u.Path, "/")); seg != "" && seg != "." && seg != "/" {
			return seg
		}
	}
	return sourceURL
}
