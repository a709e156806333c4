package faq

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/VoiceFAQ/internal/genai"
)

type staticStreamer struct {
	tokens []string
	err    error
	opts   genai.CompletionOptions
}

func (s *staticStreamer) StreamCompletion(ctx context.Context, messages []genai.Message, opts genai.CompletionOptions) (*genai.TokenStream, error) {
	s.opts = opts
	if s.err != nil {
		return nil, s.err
	}
	return genai.StaticStream(ctx, s.tokens...), nil
}

func collect(s *Stream) string {
	var b strings.Builder
	for tok := range s.Tokens() {
		b.WriteString(tok)
	}
	return b.String()
}

func TestStreamMatcher_StripsMarkerAcrossTokens(t *testing.T) {
	llm := &staticStreamer{tokens: []string{"[FA", "Q:", "2] ", "Premium is ", "ten dollars."}}
	s, err := NewStreamMatcher(llm, premiumCorpus()).Stream(context.Background(), "price?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spoken := collect(s); spoken != "Premium is ten dollars." {
		t.Errorf("expected marker stripped, got %q", spoken)
	}
	text, meta, err := s.Result()
	if err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}
	if text != "[FAQ:2] Premium is ten dollars." {
		t.Errorf("expected raw text, got %q", text)
	}
	if !meta.Matched || meta.FAQNumber != 2 || meta.Category != "Premium" {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if llm.opts.Temperature != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", llm.opts.Temperature)
	}
}

func TestStreamMatcher_NoMatch(t *testing.T) {
	llm := &staticStreamer{tokens: []string{"[NO_MATCH]", " I can't help with that."}}
	s, _ := NewStreamMatcher(llm, premiumCorpus()).Stream(context.Background(), "weather?", nil)
	if spoken := collect(s); spoken != "I can't help with that." {
		t.Errorf("unexpected spoken text %q", spoken)
	}
	_, meta, _ := s.Result()
	if meta.Matched {
		t.Errorf("expected no match, got %+v", meta)
	}
}

func TestStreamMatcher_NoMarkerPassesThrough(t *testing.T) {
	llm := &staticStreamer{tokens: []string{"Hello", " there"}}
	s, _ := NewStreamMatcher(llm, premiumCorpus()).Stream(context.Background(), "hi", nil)
	if spoken := collect(s); spoken != "Hello there" {
		t.Errorf("unexpected spoken text %q", spoken)
	}
}

func TestStreamMatcher_ShortUnresolvedTextFlushed(t *testing.T) {
	llm := &staticStreamer{tokens: []string{"["}}
	s, _ := NewStreamMatcher(llm, premiumCorpus()).Stream(context.Background(), "hi", nil)
	if spoken := collect(s); spoken != "[" {
		t.Errorf("expected pending text flushed at end, got %q", spoken)
	}
}

func TestStreamMatcher_ResultWithoutReading(t *testing.T) {
	llm := &staticStreamer{tokens: []string{"[FAQ:1] ", "Mondays."}}
	s, _ := NewStreamMatcher(llm, premiumCorpus()).Stream(context.Background(), "when?", nil)
	_, meta, err := s.Result()
	if err != nil || meta.CleanResponse != "Mondays." {
		t.Errorf("unexpected result %+v (%v)", meta, err)
	}
}

func TestStreamMatcher_StartError(t *testing.T) {
	llm := &staticStreamer{err: errors.New("no key")}
	if _, err := NewStreamMatcher(llm, premiumCorpus()).Stream(context.Background(), "hi", nil); err == nil {
		t.Error("expected start error")
	}
}
