package extract

import (
	"strings"
	"testing"
)

func TestExternalID(t *testing.T) {
	fp := Fingerprint("some post text")
	cases := []struct {
		name      string
		permalink string
		attrs     map[string]string
		want      string
	}{
		{"posts path", "https://www.facebook.com/groups/1/posts/123456789/", nil, "fb_123456789"},
		{"permalink path", "https://www.facebook.com/groups/1/permalink/987654321/", nil, "fb_987654321"},
		{"story_fbid", "https://www.facebook.com/permalink.php?story_fbid=555666777&id=1", nil, "fb_555666777"},
		{"data-ft", "", map[string]string{"data-ft": `{"top_level_post_id":"44445555666"}`}, "fb_44445555666"},
		{"id attr", "", map[string]string{"id": "mall_post_1234567890:6:0"}, "fb_1234567890"},
		{"short posts id", "https://www.facebook.com/groups/1/posts/123/", nil, "fb_123"},
		{"short permalink id", "https://m.facebook.com/groups/1/permalink/42/", nil, "fb_42"},
		{"short data-ft id", "", map[string]string{"data-ft": `{"mf_story_key":"77"}`}, "fb_77"},
		{"short id attr ignored", "", map[string]string{"id": "post_1234"}, "fp_" + fp},
		{"fingerprint", "", map[string]string{"id": "u_0_2a"}, "fp_" + fp},
	}
	for _, c := range cases {
		if got := ExternalID(c.permalink, c.attrs, fp); got != c.want {
			t.Errorf("%s: ExternalID = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestExternalID_FitsCallbackData(t *testing.T) {
	// WHAT: ids stay short enough for "not_relevant:<id>" in a 64-byte callback.
	id := ExternalID("https://x/posts/"+strings.Repeat("9", 80), nil, Fingerprint("x"))
	if len("not_relevant:"+id) > 64 {
		t.Fatalf("id too long: %d bytes", len(id))
	}
	fp := ExternalID("", nil, Fingerprint("x"))
	if len("not_relevant:"+fp) > 64 {
		t.Fatalf("fingerprint id too long: %d bytes", len(fp))
	}
}

func TestResolvePermalink(t *testing.T) {
	base := "https://www.facebook.com/groups/tlvrent"
	cases := map[string]string{
		"/groups/tlvrent/posts/123/?__cft__[0]=abc&__tn__=R": "https://www.facebook.com/groups/tlvrent/posts/123/",
		"https://m.facebook.com/story.php?story_fbid=42&id=7&refid=18": "https://www.facebook.com/story.php?id=7&story_fbid=42",
		"#":                       "",
		"javascript:void(0)":      "",
		"mailto:someone@host.com": "",
	}
	for in, want := range cases {
		if got := ResolvePermalink(base, in); got != want {
			t.Errorf("ResolvePermalink(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMobileURL(t *testing.T) {
	if got := MobileURL("https://www.facebook.com/groups/1"); got != "https://m.facebook.com/groups/1" {
		t.Fatalf("got %q", got)
	}
	if got := MobileURL("https://example.com/groups/1"); got != "https://example.com/groups/1" {
		t.Fatalf("non-facebook URL rewritten: %q", got)
	}
}

func TestSourceName(t *testing.T) {
	cases := []struct{ title, url, want string }{
		{"Rentals TLV | Facebook", "https://www.facebook.com/groups/x", "Rentals TLV"},
		{"(12) דירות להשכרה בתל אביב | Facebook", "u", "דירות להשכרה בתל אביב"},
		{"Facebook", "https://www.facebook.com/groups/tlvrent/", "tlvrent"},
		{"", "https://www.facebook.com/groups/1234", "1234"},
	}
	for _, c := range cases {
		if got := SourceName(c.title, c.url); got != c.want {
			t.Errorf("SourceName(%q, %q) = %q, want %q", c.title, c.url, got, c.want)
		}
	}
}

func TestFingerprint_Normalized(t *testing.T) {
	a := Fingerprint("Apartment  for\nRENT")
	b := Fingerprint("apartment for rent")
	if a != b {
		t.Fatalf("case/whitespace variants differ: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("fingerprint length = %d, want 32 hex chars", len(a))
	}
	if a == Fingerprint("apartment for sale") {
		t.Fatal("distinct texts collide")
	}
}

func TestIsNoise(t *testing.T) {
	for _, s := range []string{"Write something...", "Join Group", "כתבו משהו...", "Sponsored · Shop now"} {
		if !IsNoise(s) {
			t.Errorf("IsNoise(%q) = false", s)
		}
	}
	if IsNoise("Looking for a room, please write something if you know") {
		t.Error("post mentioning a noise phrase mid-text treated as noise")
	}
}

func TestJoinFragments(t *testing.T) {
	got := joinFragments([]string{"Parent text with child", "child", "abc", "Second paragraph", "Parent text with child"}, 5)
	if got != "Parent text with child Second paragraph" {
		t.Fatalf("got %q", got)
	}
}

func TestStripTrailer(t *testing.T) {
	if got := stripTrailer("Big apartment with balcony… See more"); got != "Big apartment with balcony" {
		t.Fatalf("got %q", got)
	}
	if got := stripTrailer("come and see more"); got != "come and see more" {
		t.Fatalf("plain text altered: %q", got)
	}
	// WHY: the suffix is matched rune-wise on the original text, so a
	// case variant never shifts the cut point.
	if got := stripTrailer("Quiet street ... SEE MORE"); got != "Quiet street" {
		t.Fatalf("upper-case trailer: %q", got)
	}
	if got := stripTrailer("דירה יפה… ראו עוד"); got != "דירה יפה" {
		t.Fatalf("hebrew trailer: %q", got)
	}
	if got := stripTrailer("עוד"); got != "עוד" {
		t.Fatalf("short text altered: %q", got)
	}
}
