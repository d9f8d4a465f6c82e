package telegram

import (
	"strings"
	"testing"

	logx "steamwatch/pkg/logx"
)

func TestSplitTextShortPassThrough(t *testing.T) {
	t.Parallel()

	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("line one\n", 20)
	chunks := splitText(text, 50)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 50 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
		if strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d has trailing newline", i)
		}
	}
	if joined := strings.Join(chunks, "\n") + "\n"; !strings.HasPrefix(joined, "line one") {
		t.Fatalf("content mangled: %q", joined[:20])
	}
}

func TestSplitTextHardBreakWithoutNewlines(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 95)
	chunks := splitText(text, 40)
	total := 0
	for _, c := range chunks {
		if len(c) > 40 {
			t.Fatalf("chunk too long: %d", len(c))
		}
		total += len(c)
	}
	if total != 95 {
		t.Fatalf("lost characters: %d of 95", total)
	}
}

func TestSplitTextUnicodeBoundary(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("✅", 30)
	for _, c := range splitText(text, 10) {
		if strings.Contains(c, "�") {
			t.Fatalf("split broke a rune: %q", c)
		}
		if n := len([]rune(c)); n > 10 {
			t.Fatalf("chunk has %d runes", n)
		}
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("empty token should be rejected")
	}
}
