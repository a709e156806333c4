package faq

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/VoiceFAQ/internal/genai"
)

// StreamCompleter starts a streaming completion.
type StreamCompleter interface {
	StreamCompletion(ctx context.Context, messages []genai.Message, opts genai.CompletionOptions) (*genai.TokenStream, error)
}

var streamOptions = genai.CompletionOptions{Temperature: 0.3}

// StreamMatcher answers FAQ questions as a token stream for immediate playback.
type StreamMatcher struct {
	llm     StreamCompleter
	corpus  *Corpus
	faqList string
}

// NewStreamMatcher creates a streaming matcher over corpus.
func NewStreamMatcher(llm StreamCompleter, corpus *Corpus) *StreamMatcher {
	return &StreamMatcher{llm: llm, corpus: corpus, faqList: buildFAQList(corpus)}
}

// Stream starts answering question. The returned stream yields speakable
// tokens with the leading [FAQ:n] or [NO_MATCH] marker removed.
func (m *StreamMatcher) Stream(ctx context.Context, question string, history []genai.Message) (*Stream, error) {
	messages := []genai.Message{
		genai.System(streamSystemPrompt),
		genai.User(buildUserPrompt(m.faqList, question, history, streamInstructions)),
	}
	raw, err := m.llm.StreamCompletion(ctx, messages, streamOptions)
	if err != nil {
		return nil, fmt.Errorf("faq stream completion: %w", err)
	}
	return newStream(ctx, raw, m.corpus), nil
}

// Stream is a marker-filtered view over a model token stream.
type Stream struct {
	raw    *genai.TokenStream
	corpus *Corpus
	tokens chan string
}

func newStream(ctx context.Context, raw *genai.TokenStream, corpus *Corpus) *Stream {
	s := &Stream{raw: raw, corpus: corpus, tokens: make(chan string, 16)}
	go s.filter(ctx)
	return s
}

func (s *Stream) filter(ctx context.Context) {
	defer close(s.tokens)

	send := func(tok string) bool {
		if tok == "" {
			return true
		}
		select {
		case s.tokens <- tok:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var pending string
	resolved, started := false, false
	for tok := range s.raw.Tokens() {
		if !resolved {
			pending += tok
			tok, resolved = splitLeadingMarker(pending, false)
			if !resolved {
				continue
			}
			pending = ""
		}
		// Whitespace between the marker and the reply is not spoken.
		if !started {
			tok = strings.TrimLeft(tok, " \t\r\n")
			started = tok != ""
		}
		if !send(tok) {
			return
		}
	}
	if !resolved {
		rest, _ := splitLeadingMarker(pending, true)
		send(rest)
	}
}

// Tokens returns speakable tokens; the channel closes when the model finishes.
func (s *Stream) Tokens() <-chan string {
	return s.tokens
}

// Result waits for the stream to finish and classifies the full reply. Any
// tokens not yet read are discarded. The error is the provider's mid-stream
// failure, if any; the metadata then describes whatever text arrived.
func (s *Stream) Result() (string, Metadata, error) {
	for range s.tokens {
	}
	text, err := s.raw.Text()
	return text, ExtractMetadata(s.corpus, text), err
}
