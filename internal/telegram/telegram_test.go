package telegram

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestSanitize(t *testing.T) {
	got := Sanitize("amount: 10.50 (EUR) - ok!")
	want := "amount: 10\\.50 \\(EUR\\) \\- ok\\!"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSplitMessage(t *testing.T) {
	text := strings.Repeat("line of text\n", 10)
	parts := splitMessage(text, 30)
	if strings.Join(parts, "") != text {
		t.Fatal("expected parts to join back to the original text")
	}
	for _, p := range parts {
		if len(p) > 30 {
			t.Fatalf("expected parts no longer than 30, got %d", len(p))
		}
	}
	if got := splitMessage("short", 30); len(got) != 1 {
		t.Fatalf("expected a single part, got %d", len(got))
	}
}

func TestDigestFlush(t *testing.T) {
	sent := make(map[int64][]string)
	d := NewDigestBuffer(func(chatId int64, text string) {
		sent[chatId] = append(sent[chatId], text)
	}, time.Hour)

	d.Add(1, "sweep failed", "system", slog.LevelWarn)
	d.Add(1, "mail slow", "system", slog.LevelWarn)
	d.Add(2, "other chat", "system", slog.LevelInfo)
	d.Flush()

	if len(sent[1]) != 1 || !strings.Contains(sent[1][0], "2 messages") {
		t.Fatalf("expected one digest with two messages for chat 1, got %v", sent[1])
	}
	if len(sent[2]) != 1 {
		t.Fatalf("expected one digest for chat 2, got %v", sent[2])
	}

	d.Flush()
	if len(sent[1]) != 1 {
		t.Fatal("expected empty buffer after flush")
	}
}

func TestDigestStopWithoutStart(t *testing.T) {
	count := 0
	d := NewDigestBuffer(func(int64, string) { count++ }, time.Hour)
	d.Add(1, "pending", "system", slog.LevelWarn)
	d.Stop()
	if count != 1 {
		t.Fatalf("expected pending entries to be flushed on stop, got %d", count)
	}
}
