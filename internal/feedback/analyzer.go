// Package feedback derives sentiment, ratings, skip intent and short spoken
// transitions from survey answers.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/BTreeMap/VoiceFAQ/internal/genai"
	"github.com/BTreeMap/VoiceFAQ/internal/models"
)

// Fallback phrases.
const (
	DefaultTransition  = "Thanks for sharing."
	PositiveTransition = "That's great!"
	NegativeTransition = "I understand."
	Uncategorized      = "Uncategorized"
	SummaryUnavailable = "Summary unavailable"
)

var (
	sentimentOptions  = genai.CompletionOptions{Temperature: 0.3, MaxTokens: 10}
	transitionOptions = genai.CompletionOptions{Temperature: 0.7, MaxTokens: 20}
	categorizeOptions = genai.CompletionOptions{Temperature: 0.3, MaxTokens: 20}
	summaryOptions    = genai.CompletionOptions{Temperature: 0.5, MaxTokens: 100}
	combinedOptions   = genai.CompletionOptions{Temperature: 0.5}
	shortOptions      = genai.CompletionOptions{Temperature: 0.7}
)

const sentimentPrompt = "Rate the sentiment of the user's reply. Answer with ONLY a number from -1 (very negative) to 1 (very positive) and nothing else."

const transitionPrompt = `You are running a spoken survey. Write a brief (3-8 word) acknowledgment that refers directly to what the user just said.
Be conversational and specific. Do NOT explain answer options or how to answer.`

const combinedPrompt = `You read a user's survey answer and write a transition.
First rate the sentiment from -1 to 1.
Then write a 2-4 word transition phrase.

Reply in EXACTLY this format:
SENTIMENT: [number]
TRANSITION: [phrase]

Example:
SENTIMENT: 0.8
TRANSITION: That's great!`

const shortTransitionPrompt = `You write short transitions between survey questions.
Produce ONE natural transition of 2-4 words that acknowledges the answer, sounds warm,
matches its sentiment and does not echo the user's words.

Examples:
- "Great to hear!"
- "I understand."
- "Got it."
- "That's helpful."

Reply with the phrase only.`

const categorizePrompt = `You sort user feedback into categories.
Given a reply and a list of categories, answer with the SINGLE best category name and nothing else.`

const summaryPrompt = `You summarize customer feedback in 2-3 sentences covering the overall sentiment,
the main themes or concerns, and the most important takeaways. Keep it concise and actionable.`

var (
	leadingFloat   = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)`)
	sentimentLine  = regexp.MustCompile(`SENTIMENT:\s*(-?\d+\.?\d*)`)
	transitionLine = regexp.MustCompile(`TRANSITION:\s*(.+)`)
	quotes         = strings.NewReplacer(`"`, "", "'", "")
)

// LLM is the completion surface the analyzer needs.
type LLM interface {
	GenerateCompletion(ctx context.Context, messages []genai.Message, opts genai.CompletionOptions) (string, error)
	StreamCompletion(ctx context.Context, messages []genai.Message, opts genai.CompletionOptions) (*genai.TokenStream, error)
}

// Analyzer scores and acknowledges survey answers. Provider failures never
// surface to callers; each operation has a neutral fallback.
type Analyzer struct {
	llm LLM
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(llm LLM) *Analyzer {
	return &Analyzer{llm: llm}
}

// AnalyzeSentiment returns a score in [-1, 1], or 0 when it cannot be determined.
func (a *Analyzer) AnalyzeSentiment(ctx context.Context, text string) float64 {
	reply, err := a.llm.GenerateCompletion(ctx, []genai.Message{genai.System(sentimentPrompt), genai.User(text)}, sentimentOptions)
	if err != nil {
		slog.Warn("Analyzer.AnalyzeSentiment: completion failed", "error", err)
		return 0
	}
	score, ok := ParseSentiment(reply)
	if !ok {
		slog.Warn("Analyzer.AnalyzeSentiment: invalid sentiment reply", "reply", reply)
		return 0
	}
	return score
}

// ParseSentiment reads a leading number from s and clamps it to [-1, 1].
func ParseSentiment(s string) (float64, bool) {
	m := leadingFloat.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return models.ClampSentiment(v), true
}

// GenerateTransition acknowledges the previous answer in a few words.
func (a *Analyzer) GenerateTransition(ctx context.Context, previous, nextQuestion string) string {
	user := fmt.Sprintf("User response: %q\nNext question text (context only, do not repeat it): %q\n\nAcknowledgment:", previous, nextQuestion)
	reply, err := a.llm.GenerateCompletion(ctx, []genai.Message{genai.System(transitionPrompt), genai.User(user)}, transitionOptions)
	if err != nil {
		slog.Warn("Analyzer.GenerateTransition: completion failed", "error", err)
		return DefaultTransition
	}
	reply = strings.TrimSpace(quotes.Replace(reply))
	if reply == "" {
		return DefaultTransition
	}
	return reply
}

// SentimentTransition is the parsed result of the combined call.
type SentimentTransition struct {
	Sentiment  float64
	Transition string
}

// StreamSentimentAndTransition scores the answer and writes a transition in a
// single streamed call. Missing fields fall back to neutral sentiment and a
// transition chosen by the sentiment sign.
func (a *Analyzer) StreamSentimentAndTransition(ctx context.Context, text string) SentimentTransition {
	messages := []genai.Message{genai.System(combinedPrompt), genai.User(fmt.Sprintf("User's response: %q", text))}
	s, err := a.llm.StreamCompletion(ctx, messages, combinedOptions)
	if err != nil {
		slog.Warn("Analyzer.StreamSentimentAndTransition: stream failed to start", "error", err)
		return ParseSentimentTransition("")
	}
	full, err := s.Text()
	if err != nil {
		slog.Warn("Analyzer.StreamSentimentAndTransition: stream ended with error", "error", err)
	}
	return ParseSentimentTransition(full)
}

// ParseSentimentTransition parses the SENTIMENT/TRANSITION reply format.
func ParseSentimentTransition(text string) SentimentTransition {
	var out SentimentTransition
	if m := sentimentLine.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			out.Sentiment = models.ClampSentiment(v)
		}
	}
	if m := transitionLine.FindStringSubmatch(text); m != nil {
		out.Transition = strings.TrimSpace(quotes.Replace(m[1]))
	}
	if out.Transition == "" {
		out.Transition = TransitionForSentiment(out.Sentiment)
	}
	return out
}

// TransitionForSentiment picks a canned transition by sentiment sign.
func TransitionForSentiment(sentiment float64) string {
	switch {
	case sentiment > 0.3:
		return PositiveTransition
	case sentiment < -0.3:
		return NegativeTransition
	default:
		return DefaultTransition
	}
}

// StreamTransition streams a 2-4 word acknowledgment for immediate playback.
func (a *Analyzer) StreamTransition(ctx context.Context, previous string, sentiment float64) (*genai.TokenStream, error) {
	user := fmt.Sprintf("User's response (sentiment: %.2f): %q\n\nGenerate transition phrase:", sentiment, previous)
	s, err := a.llm.StreamCompletion(ctx, []genai.Message{genai.System(shortTransitionPrompt), genai.User(user)}, shortOptions)
	if err != nil {
		return nil, fmt.Errorf("transition stream: %w", err)
	}
	return s, nil
}

// CategorizeResponse returns the category the model picks, or the first
// category when the reply is not one of them.
func (a *Analyzer) CategorizeResponse(ctx context.Context, response string, categories []string) string {
	fallback := Uncategorized
	if len(categories) > 0 {
		fallback = categories[0]
	}
	user := fmt.Sprintf("Categories: %s\n\nUser response: %q\n\nBest category:", strings.Join(categories, ", "), response)
	reply, err := a.llm.GenerateCompletion(ctx, []genai.Message{genai.System(categorizePrompt), genai.User(user)}, categorizeOptions)
	if err != nil {
		slog.Warn("Analyzer.CategorizeResponse: completion failed", "error", err)
		return fallback
	}
	for _, c := range categories {
		if c == reply {
			return c
		}
	}
	return fallback
}

// GenerateSummary condenses a finished survey into a few sentences.
func (a *Analyzer) GenerateSummary(ctx context.Context, responses []models.Response) string {
	parts := make([]string, len(responses))
	for i, r := range responses {
		parts[i] = fmt.Sprintf("Q%d: %s\nA: %s", i+1, r.QuestionText, r.UserResponse)
	}
	user := "Feedback responses:\n\n" + strings.Join(parts, "\n\n") + "\n\nSummary:"
	reply, err := a.llm.GenerateCompletion(ctx, []genai.Message{genai.System(summaryPrompt), genai.User(user)}, summaryOptions)
	if err != nil {
		slog.Warn("Analyzer.GenerateSummary: completion failed", "error", err)
		return SummaryUnavailable
	}
	return reply
}
