package channels

import (
	"strings"
	"testing"
)

func TestChunkMessageShortPassThrough(t *testing.T) {
	got := ChunkMessage("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %v", got)
	}
}

func TestChunkMessageEmpty(t *testing.T) {
	if got := ChunkMessage("   \n ", 100); got != nil {
		t.Fatalf("expected nil for whitespace input, got %v", got)
	}
}

func TestChunkMessagePrefersParagraphBreaks(t *testing.T) {
	text := strings.Repeat("a", 50) + "\n\n" + strings.Repeat("b", 50)
	got := ChunkMessage(text, 80)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %v", len(got), got)
	}
	if got[0] != strings.Repeat("a", 50) {
		t.Fatalf("first chunk = %q", got[0])
	}
	if got[1] != strings.Repeat("b", 50) {
		t.Fatalf("second chunk = %q", got[1])
	}
}

func TestChunkMessageBreaksAtSentence(t *testing.T) {
	text := "First sentence here. Second sentence is quite a bit longer than the first one."
	got := ChunkMessage(text, 40)
	if len(got) < 2 {
		t.Fatalf("expected multiple chunks, got %v", got)
	}
	if got[0] != "First sentence here." {
		t.Fatalf("first chunk = %q", got[0])
	}
}

func TestChunkMessageHardCutsUnbrokenRun(t *testing.T) {
	text := strings.Repeat("x", 95)
	got := ChunkMessage(text, 40)
	if len(got) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(got))
	}
	for i, c := range got {
		if len(c) > 40 {
			t.Fatalf("chunk %d too long: %d", i, len(c))
		}
	}
	if strings.Join(got, "") != text {
		t.Fatal("hard-cut chunks must reassemble exactly")
	}
}

func TestChunkMessageNoChunkExceedsLimit(t *testing.T) {
	text := strings.Repeat("some words separated by spaces here. ", 40)
	for _, c := range ChunkMessage(text, 100) {
		if len(c) > 100 {
			t.Fatalf("chunk exceeds limit: %d bytes", len(c))
		}
		if strings.TrimSpace(c) == "" {
			t.Fatal("empty chunk emitted")
		}
	}
}
