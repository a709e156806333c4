// Package testutil provides common test utilities and helpers for VoiceFAQ tests.
package testutil

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/VoiceFAQ/internal/api"
	"github.com/BTreeMap/VoiceFAQ/internal/faq"
	"github.com/BTreeMap/VoiceFAQ/internal/flow"
	"github.com/BTreeMap/VoiceFAQ/internal/genai"
	"github.com/BTreeMap/VoiceFAQ/internal/store"
)

// FakeLLM answers completion calls through Reply. Streams replay the reply
// split after each space.
type FakeLLM struct {
	// Reply picks the reply from the system prompt and last user message.
	Reply func(system, user string) (string, error)
	// StreamErr makes StreamCompletion fail to start.
	StreamErr error

	mu    sync.Mutex
	calls []string
}

func (f *FakeLLM) reply(messages []genai.Message) (string, error) {
	var system, user string
	for _, m := range messages {
		switch m.Role {
		case genai.RoleSystem:
			system = m.Content
		case genai.RoleUser:
			user = m.Content
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, system)
	f.mu.Unlock()
	if f.Reply == nil {
		return "", nil
	}
	return f.Reply(system, user)
}

// GenerateCompletion returns the scripted reply.
func (f *FakeLLM) GenerateCompletion(ctx context.Context, messages []genai.Message, opts genai.CompletionOptions) (string, error) {
	return f.reply(messages)
}

// StreamCompletion streams the scripted reply.
func (f *FakeLLM) StreamCompletion(ctx context.Context, messages []genai.Message, opts genai.CompletionOptions) (*genai.TokenStream, error) {
	if f.StreamErr != nil {
		return nil, f.StreamErr
	}
	text, err := f.reply(messages)
	return genai.NewTokenStream(ctx, func(emit func(string) error) error {
		for _, tok := range strings.SplitAfter(text, " ") {
			if err := emit(tok); err != nil {
				return err
			}
		}
		return err
	}), nil
}

// Calls returns the system prompts seen so far, in call order.
func (f *FakeLLM) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// TestCorpus returns a small two-category corpus.
func TestCorpus() *faq.Corpus {
	return faq.NewCorpus([]faq.Category{
		{Name: "Podcast", Questions: []faq.Item{{Question: "When are new episodes released?", Answer: "New episodes come out every Monday at hubermanlab.com."}}},
		{Name: "Premium", Questions: []faq.Item{{Question: "How much does premium cost?", Answer: "Premium is $10 a month, see https://www.hubermanlab.com/premium."}}},
	}, nil)
}

// TestServer bundles a server with the in-memory collaborators behind it.
type TestServer struct {
	Server *api.Server
	Store  *store.InMemoryStore
	Flows  *flow.Manager
	Writer *store.BackgroundWriter
}

// NewTestServer creates an API server with in-memory dependencies.
func NewTestServer(t *testing.T, llm api.LLM, opts ...api.ServerOption) *TestServer {
	t.Helper()
	st := store.NewInMemoryStore()
	states, err := flow.NewStateStore(flow.StoreTypeMemory)
	if err != nil {
		t.Fatalf("failed to create state store: %v", err)
	}
	flows := flow.NewManager(flow.NewSource(st), states)
	writer := store.NewBackgroundWriter(nil, store.DefaultWriteTimeout)
	opts = append([]api.ServerOption{api.WithBackgroundWriter(writer)}, opts...)
	return &TestServer{
		Server: api.NewServer(st, flows, llm, TestCorpus(), opts...),
		Store:  st,
		Flows:  flows,
		Writer: writer,
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Frame is one decoded server-sent event.
type Frame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
	TurnID  string          `json:"turn_id"`
}

// Text returns the content of a tts frame.
func (f Frame) Text() string {
	var s string
	json.Unmarshal(f.Content, &s)
	return s
}

// ReadFrames decodes an event-stream body.
func ReadFrames(t *testing.T, r io.Reader) []Frame {
	t.Helper()
	var frames []Frame
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("unexpected event-stream line %q", line)
		}
		var f Frame
		MustUnmarshalJSON(t, []byte(payload), &f)
		frames = append(frames, f)
	}
	return frames
}

// SpokenText joins the tts frames in order.
func SpokenText(frames []Frame) string {
	var b strings.Builder
	for _, f := range frames {
		if f.Type == "response.tts" {
			b.WriteString(f.Text())
		}
	}
	return b.String()
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
