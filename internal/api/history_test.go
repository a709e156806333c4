package api

import (
	"testing"

	"github.com/BTreeMap/VoiceFAQ/internal/genai"
)

func TestHistoryBook_TrimsToLimit(t *testing.T) {
	h := newHistoryBook(10)
	for i := 0; i < 3; i++ {
		h.add("c1", genai.User("q"), genai.Message{Role: genai.RoleAssistant, Content: "a"})
	}
	if got := len(h.get("c1")); got != historyLimit {
		t.Errorf("expected %d messages, got %d", historyLimit, got)
	}
	if got := h.get("missing"); len(got) != 0 {
		t.Errorf("expected empty history, got %v", got)
	}
}

func TestHistoryBook_EvictsLeastRecentlyUsed(t *testing.T) {
	h := newHistoryBook(2)
	h.add("a", genai.User("1"))
	h.add("b", genai.User("2"))
	h.add("a", genai.User("3"))
	h.add("c", genai.User("4"))

	if h.size() != 2 {
		t.Fatalf("expected 2 conversations, got %d", h.size())
	}
	if len(h.get("b")) != 0 {
		t.Error("expected b to be evicted")
	}
	if got := h.get("a"); len(got) != 2 || got[1].Content != "3" {
		t.Errorf("unexpected history for a: %v", got)
	}

	h.forget("a")
	if h.size() != 1 {
		t.Errorf("expected 1 conversation after forget, got %d", h.size())
	}
}

func TestHistoryBook_GetReturnsCopy(t *testing.T) {
	h := newHistoryBook(1)
	h.add("a", genai.User("original"))
	got := h.get("a")
	got[0].Content = "changed"
	if h.get("a")[0].Content != "original" {
		t.Error("get must not expose internal storage")
	}
}
