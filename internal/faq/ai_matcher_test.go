package faq

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/VoiceFAQ/internal/genai"
)

// scriptedCompleter returns replies in order and records the calls.
type scriptedCompleter struct {
	replies []string
	errs    []error
	calls   [][]genai.Message
	opts    []genai.CompletionOptions
}

func (s *scriptedCompleter) GenerateCompletion(ctx context.Context, messages []genai.Message, opts genai.CompletionOptions) (string, error) {
	i := len(s.calls)
	s.calls = append(s.calls, messages)
	s.opts = append(s.opts, opts)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", nil
}

func TestAIMatcher_Match(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{"MATCH:2\nNATURAL:Premium is ten dollars a month."}}
	m := NewAIMatcher(llm, premiumCorpus())

	res, err := m.Match(context.Background(), "how much is premium", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Matched() {
		t.Fatal("expected a match")
	}
	if res.Match.Category != "Premium" || res.Match.Confidence != ConfidenceHigh {
		t.Errorf("unexpected match %+v", res.Match)
	}
	if res.Text() != "Premium is ten dollars a month." {
		t.Errorf("unexpected spoken text %q", res.Text())
	}
	if llm.opts[0] != matchOptions {
		t.Errorf("expected match options, got %+v", llm.opts[0])
	}
	prompt := llm.calls[0][1].Content
	if !strings.Contains(prompt, "2. Q: How much does premium cost?") {
		t.Errorf("expected numbered corpus in prompt, got %q", prompt)
	}
}

func TestAIMatcher_PartialFallsBackToOriginalAnswer(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{"PARTIAL:1"}}
	res, err := NewAIMatcher(llm, premiumCorpus()).Match(context.Background(), "new shows?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Match.Confidence != ConfidenceMedium {
		t.Errorf("expected medium confidence, got %s", res.Match.Confidence)
	}
	if res.Match.NaturalAnswer != res.Match.Answer {
		t.Errorf("expected natural answer to fall back to the original, got %q", res.Match.NaturalAnswer)
	}
}

func TestAIMatcher_Context(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{"CONTEXT\nNATURAL:He trained at Berkeley and Davis."}}
	res, err := NewAIMatcher(llm, premiumCorpus()).Match(context.Background(), "where did he study?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Match.Category != AboutCategory || res.Match.Question != "where did he study?" {
		t.Errorf("unexpected context match %+v", res.Match)
	}
}

func TestAIMatcher_NoneGeneratesDecline(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{"none", "That's outside what I can help with."}}
	history := []genai.Message{
		genai.System("ignored"),
		genai.User("a"), {Role: genai.RoleAssistant, Content: "b"}, genai.User("c"),
	}
	res, err := NewAIMatcher(llm, premiumCorpus()).Match(context.Background(), "what's the weather", history)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Matched() || res.Decline != "That's outside what I can help with." {
		t.Errorf("unexpected result %+v", res)
	}
	if len(llm.calls) != 2 || llm.opts[1] != declineOptions {
		t.Fatalf("expected a second decline call, got %d calls", len(llm.calls))
	}
	if !strings.Contains(llm.calls[1][1].Content, "Context: User has been asking") {
		t.Error("expected conversation context in decline prompt")
	}
	if strings.Contains(llm.calls[0][1].Content, "ignored") {
		t.Error("system history messages should not be included")
	}
}

func TestAIMatcher_DeclineFailureUsesDefault(t *testing.T) {
	llm := &scriptedCompleter{replies: []string{"none"}, errs: []error{nil, errors.New("boom")}}
	res, err := NewAIMatcher(llm, premiumCorpus()).Match(context.Background(), "?", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Decline != DefaultDecline {
		t.Errorf("expected default decline, got %q", res.Decline)
	}
}

func TestAIMatcher_Failures(t *testing.T) {
	tests := []struct {
		name    string
		llm     *scriptedCompleter
		wantErr error
	}{
		{"provider error", &scriptedCompleter{errs: []error{errors.New("down")}}, nil},
		{"out of range", &scriptedCompleter{replies: []string{"MATCH:42"}}, ErrMatchOutOfRange},
		{"zero", &scriptedCompleter{replies: []string{"0"}}, ErrMatchOutOfRange},
		{"unparseable", &scriptedCompleter{replies: []string{"I'm not sure"}}, ErrUnparseableMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewAIMatcher(tt.llm, premiumCorpus()).Match(context.Background(), "q", nil)
			if res != nil || err == nil {
				t.Fatalf("expected failure, got %+v, %v", res, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRecentHistory_LastFourNonSystem(t *testing.T) {
	var history []genai.Message
	for _, s := range []string{"1", "2", "3", "4", "5", "6"} {
		history = append(history, genai.User(s))
	}
	got := recentHistory(history)
	if strings.Contains(got, "user: 2") || !strings.Contains(got, "user: 3") || !strings.Contains(got, "user: 6") {
		t.Errorf("expected last four messages, got %q", got)
	}
	if recentHistory(nil) != "" {
		t.Error("expected empty history to render nothing")
	}
}
