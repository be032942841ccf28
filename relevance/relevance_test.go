package relevance

import (
	"reflect"
	"sync"
	"testing"
)

func TestClassify_Law(t *testing.T) {
	// WHAT: relevant iff at least one positive and zero negative matches.
	// WHY: negative keywords are an absolute veto.
	f := New([]string{"apartment", "room"}, []string{"sold", "rented"})
	cases := []struct {
		text string
		want bool
	}{
		{"Nice apartment in Florentin", true},
		{"APARTMENT and a ROOM available", true},
		{"Apartment already RENTED, thanks all", false},
		{"selling a sofa", false},
		{"", false},
		{"sold", false},
	}
	for _, c := range cases {
		r := f.Classify(c.text)
		if r.Relevant != c.want {
			t.Errorf("Classify(%q).Relevant = %v, want %v (%+v)", c.text, r.Relevant, c.want, r)
		}
		if r.Relevant != (len(r.MatchedPositive) > 0 && len(r.MatchedNegative) == 0) {
			t.Errorf("Classify(%q): law violated: %+v", c.text, r)
		}
	}
}

func TestClassify_Hebrew(t *testing.T) {
	f := New([]string{"דירה"}, []string{"נמכר"})

	r := f.Classify("מחפש דירה בתל אביב")
	if !r.Relevant || !reflect.DeepEqual(r.MatchedPositive, []string{"דירה"}) {
		t.Fatalf("positive case: %+v", r)
	}

	r = f.Classify("דירה - נמכר")
	if r.Relevant {
		t.Fatalf("negative veto ignored: %+v", r)
	}
	if !reflect.DeepEqual(r.MatchedNegative, []string{"נמכר"}) {
		t.Fatalf("negative matches: %+v", r.MatchedNegative)
	}
}

func TestClassify_SubstringAndOrder(t *testing.T) {
	f := New([]string{"room", "Apartment", "apartment", " "}, nil)
	r := f.Classify("roommate wanted for the apartment")
	// WHAT: duplicates collapse and results follow configured order.
	want := []string{"room", "Apartment"}
	if !reflect.DeepEqual(r.MatchedPositive, want) {
		t.Fatalf("MatchedPositive = %v, want %v", r.MatchedPositive, want)
	}
	if got := f.Positive(); len(got) != 2 {
		t.Fatalf("Positive() = %v", got)
	}
}

func TestClassify_Pure(t *testing.T) {
	f := New([]string{"apartment"}, []string{"sold"})
	a := f.Classify("apartment for rent")
	b := f.Classify("apartment for rent")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("not deterministic: %+v vs %+v", a, b)
	}
}

func TestClassify_Concurrent(t *testing.T) {
	f := New([]string{"apartment"}, []string{"sold"})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := "apartment"
			if i%2 == 0 {
				text = "apartment sold"
			}
			if got := f.Classify(text).Relevant; got != (i%2 == 1) {
				t.Errorf("goroutine %d: Relevant = %v", i, got)
			}
		}(i)
	}
	wg.Wait()
}

func TestNormalize(t *testing.T) {
	if Normalize("ＡＰＡＲＴＭＥＮＴ") != "apartment" {
		t.Fatalf("fullwidth not folded: %q", Normalize("ＡＰＡＲＴＭＥＮＴ"))
	}
}
