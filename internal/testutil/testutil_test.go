package testutil

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/VoiceFAQ/internal/genai"
)

func TestNewTestServer(t *testing.T) {
	ts := NewTestServer(t, &FakeLLM{})
	if ts.Server == nil || ts.Store == nil || ts.Flows == nil || ts.Writer == nil {
		t.Fatalf("NewTestServer returned incomplete server: %+v", ts)
	}
}

func TestFakeLLM(t *testing.T) {
	llm := &FakeLLM{Reply: func(system, user string) (string, error) {
		return "echo " + user, nil
	}}
	ctx := context.Background()
	msgs := []genai.Message{genai.System("sys"), genai.User("hello there")}

	got, err := llm.GenerateCompletion(ctx, msgs, genai.CompletionOptions{})
	if err != nil || got != "echo hello there" {
		t.Errorf("GenerateCompletion = %q, %v", got, err)
	}

	s, err := llm.StreamCompletion(ctx, msgs, genai.CompletionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	var tokens []string
	for tok := range s.Tokens() {
		tokens = append(tokens, tok)
	}
	if strings.Join(tokens, "") != "echo hello there" || len(tokens) != 3 {
		t.Errorf("unexpected tokens %q", tokens)
	}
	if calls := llm.Calls(); len(calls) != 2 || calls[0] != "sys" {
		t.Errorf("unexpected calls %v", calls)
	}

	llm.StreamErr = errors.New("down")
	if _, err := llm.StreamCompletion(ctx, msgs, genai.CompletionOptions{}); err == nil {
		t.Error("expected StreamErr to be returned")
	}
}

func TestReadFrames(t *testing.T) {
	body := "data: {\"type\":\"response.tts\",\"content\":\"Hi \",\"turn_id\":\"t\"}\n\n" +
		"data: {\"type\":\"response.tts\",\"content\":\"there\",\"turn_id\":\"t\"}\n\n" +
		"data: {\"type\":\"response.end\",\"turn_id\":\"t\"}\n\n"
	frames := ReadFrames(t, strings.NewReader(body))
	if len(frames) != 3 || frames[2].Type != "response.end" {
		t.Fatalf("unexpected frames %+v", frames)
	}
	if got := SpokenText(frames); got != "Hi there" {
		t.Errorf("SpokenText = %q", got)
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, "POST", "/api/chat", map[string]string{"message": "hi"})
	if req.Method != "POST" || req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("unexpected request %v", req)
	}
	rr := httptest.NewRecorder()
	rr.WriteHeader(204)
	AssertHTTPStatus(t, 204, rr.Code, "recorder")
}

func TestTestCorpus(t *testing.T) {
	if c := TestCorpus(); c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}
}
