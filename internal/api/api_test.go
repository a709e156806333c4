package api_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/VoiceFAQ/internal/api"
	"github.com/BTreeMap/VoiceFAQ/internal/models"
	"github.com/BTreeMap/VoiceFAQ/internal/testutil"
	"github.com/BTreeMap/VoiceFAQ/internal/voice"
)

// Prefixes of the prompts the fake model is routed on.
const (
	surveyPrompt  = "You read a user's survey answer"
	summaryPrompt = "You summarize customer feedback"
	streamPrompt  = "You are the assistant on the Huberman Lab podcast website, answering"
	matchPrompt   = "You match user questions"
	chatPrompt    = "You are a helpful assistant for the Huberman Lab podcast."
)

// scriptedLLM answers each prompt family with a fixed reply.
func scriptedLLM(replies map[string]string) *testutil.FakeLLM {
	return &testutil.FakeLLM{Reply: func(system, user string) (string, error) {
		for prefix, reply := range replies {
			if strings.HasPrefix(system, prefix) {
				return reply, nil
			}
		}
		return "", errors.New("unexpected prompt")
	}}
}

func serve(t *testing.T, ts *testutil.TestServer, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	ts.Server.Handler().ServeHTTP(rr, req)
	return rr
}

func TestTrackHandler(t *testing.T) {
	ts := testutil.NewTestServer(t, scriptedLLM(nil))

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/api/track", models.TrackRequest{
		SessionID: "s1", Question: "When are new episodes released?", Matched: true, Category: "Podcast", PageURL: "/faq",
	})
	rr := serve(t, ts, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "track")

	var res models.TrackResult
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &res)
	if !res.Success {
		t.Errorf("expected success, got %+v", res)
	}
	sess, ok := ts.Store.Session("s1")
	if !ok || sess.MatchedQuestions != 1 || sess.PageURL != "/faq" {
		t.Errorf("unexpected session %+v", sess)
	}
}

func TestTrackHandler_DefaultsSessionID(t *testing.T) {
	ts := testutil.NewTestServer(t, scriptedLLM(nil))
	for i := 0; i < 2; i++ {
		rr := serve(t, ts, testutil.CreateHTTPRequest(t, http.MethodPost, "/api/track", models.TrackRequest{Question: "hi"}))
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "track")
	}

	msgs := ts.Store.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 tracked messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if !strings.HasPrefix(m.SessionID, "anon-") || len(m.SessionID) != len("anon-")+36 {
			t.Errorf("expected a generated anonymous session id, got %q", m.SessionID)
		}
		if _, ok := ts.Store.Session(m.SessionID); !ok {
			t.Errorf("expected a session row for %q", m.SessionID)
		}
	}
	if msgs[0].SessionID == msgs[1].SessionID {
		t.Error("anonymous pings must not share a session")
	}
}

func TestTrackHandler_BadInput(t *testing.T) {
	ts := testutil.NewTestServer(t, scriptedLLM(nil))

	req, _ := http.NewRequest(http.MethodPost, "/api/track", strings.NewReader("{not json"))
	rr := serve(t, ts, req)
	var res models.TrackResult
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &res)
	if rr.Code != http.StatusOK || !res.Success {
		t.Errorf("malformed tracking ping must not fail: %d %+v", rr.Code, res)
	}

	rr = serve(t, ts, testutil.CreateHTTPRequest(t, http.MethodPost, "/api/track", models.TrackRequest{SessionID: strings.Repeat("x", 300)}))
	res = models.TrackResult{}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &res)
	if res.Success || res.Error == "" {
		t.Errorf("expected a validation failure, got %+v", res)
	}

	rr = serve(t, ts, testutil.CreateHTTPRequest(t, http.MethodGet, "/api/track", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "track GET")
}

func TestStatsHandler(t *testing.T) {
	ts := testutil.NewTestServer(t, scriptedLLM(nil))
	serve(t, ts, testutil.CreateHTTPRequest(t, http.MethodPost, "/api/track", models.TrackRequest{SessionID: "s1", Question: "q"}))

	rr := serve(t, ts, testutil.CreateHTTPRequest(t, http.MethodGet, "/api/stats", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "stats")
	if got := rr.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Errorf("expected no-store, got %q", got)
	}
	var stats models.Stats
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &stats)
	if stats.Total != 1 || len(stats.RecentSessions) != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestChatHandler(t *testing.T) {
	ts := testutil.NewTestServer(t, scriptedLLM(map[string]string{
		chatPrompt: "Try our newsletter for updates.",
	}))

	t.Run("corpus answer", func(t *testing.T) {
		rr := serve(t, ts, testutil.CreateHTTPRequest(t, http.MethodPost, "/api/chat", api.ChatRequest{Message: "How much does premium cost?"}))
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "chat")
		var res api.ChatResponse
		testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &res)
		if res.Type != api.ChatTypeFAQ || res.Confidence == nil || !strings.Contains(res.Response, "$10") {
			t.Errorf("unexpected response %+v", res)
		}
		if len(res.Resources) == 0 {
			t.Error("expected the answer's link as a resource")
		}
	})

	t.Run("model answer", func(t *testing.T) {
		rr := serve(t, ts, testutil.CreateHTTPRequest(t, http.MethodPost, "/api/chat", api.ChatRequest{Message: "Tell me a joke about neuroscience"}))
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "chat")
		var res api.ChatResponse
		testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &res)
		if res.Type != api.ChatTypeAI || res.Response != "Try our newsletter for updates." || res.Confidence != nil {
			t.Errorf("unexpected response %+v", res)
		}
		if res.Resources == nil {
			t.Error("resources must be present")
		}
	})

	t.Run("empty message", func(t *testing.T) {
		rr := serve(t, ts, testutil.CreateHTTPRequest(t, http.MethodPost, "/api/chat", api.ChatRequest{Message: "   "}))
		testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "chat")
		var body models.ErrorBody
		testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &body)
		if body.Error != "Message is required" {
			t.Errorf("unexpected error %q", body.Error)
		}
	})
}

func TestChatHandler_ModelFailure(t *testing.T) {
	ts := testutil.NewTestServer(t, scriptedLLM(nil))
	rr := serve(t, ts, testutil.CreateHTTPRequest(t, http.MethodPost, "/api/chat", api.ChatRequest{Message: "Tell me a joke about neuroscience"}))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "chat")
	var body models.ErrorBody
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &body)
	if body.Error != "Failed to process message" {
		t.Errorf("unexpected error %q", body.Error)
	}
}

func TestAuthorizeHandler_NotConfigured(t *testing.T) {
	ts := testutil.NewTestServer(t, scriptedLLM(nil))
	rr := serve(t, ts, testutil.CreateHTTPRequest(t, http.MethodPost, "/api/layercode/authorize", nil))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "authorize")
	var body models.ErrorBody
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &body)
	if body.Error != voice.ErrAPIKeyRequired.Error() {
		t.Errorf("unexpected error %q", body.Error)
	}
}

func TestAuthorizeHandler(t *testing.T) {
	platform := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"client_session_key":"csk","session_id":"conv-9"}`))
	}))
	defer platform.Close()

	authorizer, err := voice.NewAuthorizer("key", "pipeline", voice.WithAuthorizeURL(platform.URL))
	if err != nil {
		t.Fatal(err)
	}
	ts := testutil.NewTestServer(t, scriptedLLM(nil), api.WithAuthorizer(authorizer))

	rr := serve(t, ts, testutil.CreateHTTPRequest(t, http.MethodPost, "/api/layercode/authorize", voice.AuthorizeRequest{}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "authorize")
	var session voice.Session
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &session)
	if session.ClientSessionKey != "csk" || session.ConversationID != "conv-9" {
		t.Errorf("unexpected session %+v", session)
	}
}

func TestHealthAndMiddleware(t *testing.T) {
	ts := testutil.NewTestServer(t, scriptedLLM(nil))

	rr := serve(t, ts, testutil.CreateHTTPRequest(t, http.MethodGet, "/healthz", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthz")
	if rr.Header().Get(api.RequestIDHeader) == "" {
		t.Error("expected a generated request id")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS headers")
	}

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/healthz", nil)
	req.Header.Set(api.RequestIDHeader, "abc")
	if got := serve(t, ts, req).Header().Get(api.RequestIDHeader); got != "abc" {
		t.Errorf("expected the caller's request id to be echoed, got %q", got)
	}

	rr = serve(t, ts, testutil.CreateHTTPRequest(t, http.MethodOptions, "/api/chat", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "preflight")
	if rr.Body.Len() != 0 {
		t.Errorf("preflight must not reach the handler, got body %q", rr.Body.String())
	}
}
