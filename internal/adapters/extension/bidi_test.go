package extension

import (
	"sort"
	"testing"
)

func TestBidiShaper(t *testing.T) {
	s := NewBidiShaper()
	if s.Name() != "bidi" {
		t.Errorf("Name() = %q, want bidi", s.Name())
	}

	for _, text := range []string{"", "Berlin", "Hamburg 42"} {
		if got := s.Shape(text); got != text {
			t.Errorf("Shape(%q) = %q, left-to-right text is unchanged", text, got)
		}
	}
}

func TestBidiShaper_KeepsCharacters(t *testing.T) {
	text := "שלום"
	got := NewBidiShaper().Shape(text)

	runes := func(v string) string {
		r := []rune(v)
		sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
		return string(r)
	}
	if runes(got) != runes(text) {
		t.Errorf("Shape(%q) = %q, characters must be preserved", text, got)
	}
}
