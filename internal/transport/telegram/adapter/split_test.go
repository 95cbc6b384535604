package adapter

import (
	"strings"
	"testing"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10, true)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	s := "aaaa\nbbbb\ncccc\n"
	got := splitText(s, 10, false)
	want := []string{"aaaa\nbbbb", "cccc"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("splitText = %q, want %q", got, want)
	}
}

func TestSplitTextRespectsLimitInRunes(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("🦭", 25)
	got := splitText(s, 10, false)
	if len(got) != 3 {
		t.Fatalf("got %d chunks", len(got))
	}
	for _, c := range got {
		if runeLen(c) > 10 {
			t.Fatalf("chunk %q exceeds limit", c)
		}
	}
	if strings.Join(got, "") != s {
		t.Fatal("content lost")
	}
}

func TestSplitTextAvoidsCuttingTags(t *testing.T) {
	t.Parallel()
	s := "0123456<a href=\"x\">y</a>"
	got := splitText(s, 10, true)
	if got[0] != "0123456" {
		t.Fatalf("first chunk = %q", got[0])
	}
	if strings.Join(got, "") != s {
		t.Fatalf("content lost: %q", got)
	}
}
