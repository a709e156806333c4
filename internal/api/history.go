package api

import (
	"sync"

	"github.com/BTreeMap/VoiceFAQ/internal/genai"
	"github.com/elliotchance/orderedmap/v3"
)

// historyLimit keeps the last two question/answer exchanges.
const historyLimit = 4

// historyBook remembers recent FAQ exchanges per conversation, dropping the
// least recently used conversation once max are held.
type historyBook struct {
	mu      sync.Mutex
	max     int
	entries *orderedmap.OrderedMap[string, []genai.Message]
}

func newHistoryBook(limit int) *historyBook {
	return &historyBook{max: limit, entries: orderedmap.NewOrderedMap[string, []genai.Message]()}
}

func (h *historyBook) get(id string) []genai.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs, _ := h.entries.Get(id)
	return append([]genai.Message(nil), msgs...)
}

func (h *historyBook) add(id string, msgs ...genai.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, _ := h.entries.Get(id)
	all := append(append([]genai.Message(nil), prev...), msgs...)
	if len(all) > historyLimit {
		all = all[len(all)-historyLimit:]
	}
	h.entries.Delete(id)
	h.entries.Set(id, all)
	for h.entries.Len() > h.max {
		h.entries.Delete(h.entries.Front().Key)
	}
}

func (h *historyBook) forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries.Delete(id)
}

func (h *historyBook) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries.Len()
}
