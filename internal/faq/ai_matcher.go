package faq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/VoiceFAQ/internal/genai"
)

// Completer produces a single blocking completion.
type Completer interface {
	GenerateCompletion(ctx context.Context, messages []genai.Message, opts genai.CompletionOptions) (string, error)
}

// Confidence tiers reported for AI matches.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// AboutCategory is reported for answers built from the knowledge base.
const AboutCategory = "About Dr. Huberman"

// DefaultDecline is spoken when the decline call fails.
const DefaultDecline = "I don't have information about that."

var (
	matchOptions   = genai.CompletionOptions{Temperature: 0.3, MaxTokens: 200}
	declineOptions = genai.CompletionOptions{Temperature: 0.7, MaxTokens: 30}
)

// Match is an FAQ entry chosen by the model along with its spoken rephrasing.
type Match struct {
	Question      string     `json:"question"`
	Answer        string     `json:"answer"`
	NaturalAnswer string     `json:"naturalAnswer"`
	Category      string     `json:"category"`
	Confidence    Confidence `json:"confidence"`
}

// Result is either a Match or a decline sentence.
type Result struct {
	Match   *Match `json:"match,omitempty"`
	Decline string `json:"decline,omitempty"`
}

// Matched reports whether the result carries an FAQ match.
func (r *Result) Matched() bool {
	return r != nil && r.Match != nil
}

// Text is what should be said to the user.
func (r *Result) Text() string {
	if r.Matched() {
		return r.Match.NaturalAnswer
	}
	return r.Decline
}

// AIMatcher asks the model to pick an FAQ from the numbered corpus.
type AIMatcher struct {
	llm     Completer
	corpus  *Corpus
	faqList string
}

// NewAIMatcher creates a matcher. The rendered corpus is built once.
func NewAIMatcher(llm Completer, corpus *Corpus) *AIMatcher {
	return &AIMatcher{llm: llm, corpus: corpus, faqList: buildFAQList(corpus)}
}

// Match returns a match or a decline. A nil result with an error means the
// model could not be reached or replied outside the grammar.
func (m *AIMatcher) Match(ctx context.Context, question string, history []genai.Message) (*Result, error) {
	messages := []genai.Message{
		genai.System(matchSystemPrompt),
		genai.User(buildUserPrompt(m.faqList, question, history, matchInstructions)),
	}
	reply, err := m.llm.GenerateCompletion(ctx, messages, matchOptions)
	if err != nil {
		return nil, fmt.Errorf("faq match completion: %w", err)
	}

	parsed, err := ParseMatchReply(reply)
	if err != nil {
		slog.Warn("AIMatcher.Match: unparseable reply", "reply", truncate(reply, 100))
		return nil, err
	}

	switch parsed.Kind {
	case ReplyNone:
		return &Result{Decline: m.decline(ctx, question, history)}, nil
	case ReplyContext:
		return &Result{Match: &Match{
			Question:      question,
			Answer:        parsed.Natural,
			NaturalAnswer: parsed.Natural,
			Category:      AboutCategory,
			Confidence:    ConfidenceHigh,
		}}, nil
	}

	e, ok := m.corpus.Entry(parsed.Number)
	if !ok {
		slog.Warn("AIMatcher.Match: match number out of range", "number", parsed.Number, "total", m.corpus.Len())
		return nil, fmt.Errorf("%w: %d", ErrMatchOutOfRange, parsed.Number)
	}
	confidence := ConfidenceHigh
	if parsed.Kind == ReplyPartial {
		confidence = ConfidenceMedium
	}
	natural := parsed.Natural
	if natural == "" {
		natural = e.Answer
	}
	slog.Debug("AIMatcher.Match: matched", "number", e.Number, "kind", parsed.Kind.String(), "category", e.Category)
	return &Result{Match: &Match{
		Question:      e.Question,
		Answer:        e.Answer,
		NaturalAnswer: natural,
		Category:      e.Category,
		Confidence:    confidence,
	}}, nil
}

func (m *AIMatcher) decline(ctx context.Context, question string, history []genai.Message) string {
	messages := []genai.Message{
		genai.System(declineSystemPrompt),
		genai.User(buildDeclinePrompt(question, history)),
	}
	text, err := m.llm.GenerateCompletion(ctx, messages, declineOptions)
	if err != nil {
		slog.Warn("AIMatcher.decline: falling back to default decline", "error", err)
		return DefaultDecline
	}
	if text == "" {
		return DefaultDecline
	}
	return text
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
