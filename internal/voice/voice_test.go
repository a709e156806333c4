package voice

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDecodeEvent(t *testing.T) {
	body := `{"type":"message","conversation_id":"c1","text":"hello","turn_id":"t1",
		"interruption_context":{"previous_turn_interrupted":true,"words_heard":3,"text_heard":"Hi there"}}`
	e, err := DecodeEvent([]byte(body))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if e.Type != EventMessage || e.ConversationKey() != "c1" || e.Text != "hello" || e.TurnID != "t1" {
		t.Errorf("unexpected event %+v", e)
	}
	if !e.Interrupted() || e.InterruptionContext.WordsHeard != 3 {
		t.Errorf("interruption context not decoded: %+v", e.InterruptionContext)
	}

	if _, err := DecodeEvent([]byte(`{"conversation_id":"c1"}`)); !errors.Is(err, ErrMissingEventType) {
		t.Errorf("expected ErrMissingEventType, got %v", err)
	}
	if _, err := DecodeEvent([]byte(`{`)); err == nil {
		t.Error("expected an error for malformed JSON")
	}
}

func TestConversationKey(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Event{ConversationID: "c1", SessionID: "s1"}, "c1"},
		{Event{SessionID: "s1"}, "s1"},
		{Event{}, UnknownConversation},
	}
	for _, tt := range tests {
		if got := tt.event.ConversationKey(); got != tt.want {
			t.Errorf("ConversationKey(%+v) = %q, want %q", tt.event, got, tt.want)
		}
	}
}

// readFrames parses the data lines of an event-stream body.
func readFrames(t *testing.T, r io.Reader) []map[string]any {
	t.Helper()
	var frames []map[string]any
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("unexpected line %q", line)
		}
		var f map[string]any
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			t.Fatalf("bad frame %q: %v", payload, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestStreamFrames(t *testing.T) {
	rr := httptest.NewRecorder()
	s := NewStream(rr, "turn-1")

	if err := s.TTS("Hello there."); err != nil {
		t.Fatal(err)
	}
	if err := s.TTS(""); err != nil {
		t.Fatal(err)
	}
	if err := s.Data(map[string]any{"type": "progress", "current": 1, "total": 4}); err != nil {
		t.Fatal(err)
	}
	if err := s.End(); err != nil {
		t.Fatal(err)
	}
	if err := s.End(); err != nil {
		t.Errorf("second End must be a no-op, got %v", err)
	}
	if err := s.TTS("late"); !errors.Is(err, ErrStreamEnded) {
		t.Errorf("expected ErrStreamEnded, got %v", err)
	}

	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}
	if !rr.Flushed {
		t.Error("expected frames to be flushed")
	}

	frames := readFrames(t, rr.Body)
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %v", len(frames), frames)
	}
	if frames[0]["type"] != FrameTTS || frames[0]["content"] != "Hello there." || frames[0]["turn_id"] != "turn-1" {
		t.Errorf("unexpected tts frame %v", frames[0])
	}
	data, _ := frames[1]["content"].(map[string]any)
	if frames[1]["type"] != FrameData || data["type"] != "progress" || data["total"] != float64(4) {
		t.Errorf("unexpected data frame %v", frames[1])
	}
	if frames[2]["type"] != FrameEnd {
		t.Errorf("unexpected end frame %v", frames[2])
	}
}

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	body := []byte(`{"type":"session.start","conversation_id":"c1"}`)
	header := Sign("s3cret", body, now)

	if err := VerifySignature("s3cret", header, body, now.Add(time.Minute), DefaultSignatureTolerance); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}

	tests := []struct {
		name   string
		secret string
		header string
		body   []byte
		now    time.Time
		want   error
	}{
		{"missing", "s3cret", "", body, now, ErrMissingSignature},
		{"no v1", "s3cret", "t=1760000000", body, now, ErrMalformedSignature},
		{"bad timestamp", "s3cret", "t=abc,v1=00", body, now, ErrMalformedSignature},
		{"wrong secret", "other", header, body, now, ErrInvalidSignature},
		{"tampered body", "s3cret", header, []byte(`{"type":"session.end"}`), now, ErrInvalidSignature},
		{"stale", "s3cret", header, body, now.Add(time.Hour), ErrSignatureExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := VerifySignature(tt.secret, tt.header, tt.body, tt.now, DefaultSignatureTolerance); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if err := VerifySignature("s3cret", header, body, now.Add(time.Hour), 0); err != nil {
		t.Errorf("zero tolerance must skip the timestamp window, got %v", err)
	}
}

func TestAuthorize(t *testing.T) {
	var got authorizeBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"client_session_key":"csk","session_id":"conv-9","config":{"voice":"alloy"}}`))
	}))
	defer srv.Close()

	a, err := NewAuthorizer("key-1", "pipe-1", WithAuthorizeURL(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	s, err := a.Authorize(context.Background(), AuthorizeRequest{ConversationID: "conv-9", Metadata: map[string]any{"page": "/faq"}})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if got.AgentID != "pipe-1" || got.ConversationID != "conv-9" || got.Metadata["page"] != "/faq" {
		t.Errorf("unexpected request body %+v", got)
	}
	if s.ClientSessionKey != "csk" || s.ConversationID != "conv-9" {
		t.Errorf("unexpected session %+v", s)
	}
	if !strings.Contains(string(s.Config), "alloy") {
		t.Errorf("config not passed through: %s", s.Config)
	}
}

func TestAuthorizeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid agent", http.StatusForbidden)
	}))
	defer srv.Close()

	a, _ := NewAuthorizer("key-1", "pipe-1", WithAuthorizeURL(srv.URL))
	_, err := a.Authorize(context.Background(), AuthorizeRequest{})
	if !errors.Is(err, ErrAuthorizeFailed) || !strings.Contains(err.Error(), "invalid agent") {
		t.Errorf("expected ErrAuthorizeFailed with detail, got %v", err)
	}
}

func TestNewAuthorizerRequiresConfig(t *testing.T) {
	if _, err := NewAuthorizer("", "pipe"); !errors.Is(err, ErrAPIKeyRequired) {
		t.Errorf("expected ErrAPIKeyRequired, got %v", err)
	}
	if _, err := NewAuthorizer("key", ""); !errors.Is(err, ErrPipelineIDRequired) {
		t.Errorf("expected ErrPipelineIDRequired, got %v", err)
	}
}
