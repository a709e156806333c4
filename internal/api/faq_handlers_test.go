package api_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/VoiceFAQ/internal/faq"
	"github.com/BTreeMap/VoiceFAQ/internal/testutil"
	"github.com/BTreeMap/VoiceFAQ/internal/voice"
)

const faqPath = "/api/layercode/faq-webhook"

func TestFAQWebhook_StreamsMatchedAnswer(t *testing.T) {
	llm := scriptedLLM(map[string]string{
		streamPrompt: "[FAQ:2] Premium costs ten dollars a month.",
	})
	ts := testutil.NewTestServer(t, llm)

	frames := postEvent(t, ts, faqPath, voice.Event{Type: voice.EventSessionStart, ConversationID: "f1"})
	if got := testutil.SpokenText(frames); !strings.HasPrefix(got, "Hi!") {
		t.Errorf("unexpected greeting %q", got)
	}

	frames = postEvent(t, ts, faqPath, message("f1", "what does premium cost"))
	if got := testutil.SpokenText(frames); got != "Premium costs ten dollars a month." {
		t.Errorf("marker must be stripped from speech, got %q", got)
	}
	var ttsFrames int
	for _, f := range frames {
		if f.Type == "response.tts" {
			ttsFrames++
		}
	}
	if ttsFrames < 2 {
		t.Errorf("expected the answer to be streamed in pieces, got %d tts frames", ttsFrames)
	}

	data := dataFrames(t, frames, "faq")
	if len(data) != 1 || data[0]["matched"] != true || data[0]["category"] != "Premium" {
		t.Fatalf("unexpected faq payload %v", data)
	}
	if found, _ := data[0]["links"].([]any); len(found) == 0 {
		t.Error("expected the corpus answer's link to be extracted")
	}

	ts.Writer.Wait()
	sess, ok := ts.Store.Session("f1")
	if !ok || sess.PageURL != "faq-widget" || sess.MatchedQuestions != 1 {
		t.Errorf("unexpected session %+v", sess)
	}
}

func TestFAQWebhook_NoMatch(t *testing.T) {
	ts := testutil.NewTestServer(t, scriptedLLM(map[string]string{
		streamPrompt: "[NO_MATCH] Sorry, I don't have that information.",
	}))
	frames := postEvent(t, ts, faqPath, message("f1", "what's the weather"))
	if got := testutil.SpokenText(frames); got != "Sorry, I don't have that information." {
		t.Errorf("unexpected decline %q", got)
	}
	data := dataFrames(t, frames, "faq")
	if len(data) != 1 || data[0]["matched"] != false {
		t.Errorf("unexpected faq payload %v", data)
	}
}

func TestFAQWebhook_FallsBackWhenStreamingFails(t *testing.T) {
	t.Run("blocking matcher", func(t *testing.T) {
		llm := scriptedLLM(map[string]string{
			matchPrompt: "MATCH:1\nNATURAL:New episodes drop every Monday.",
		})
		llm.StreamErr = errors.New("stream unavailable")
		ts := testutil.NewTestServer(t, llm)

		frames := postEvent(t, ts, faqPath, message("f1", "when do episodes come out"))
		if got := testutil.SpokenText(frames); got != "New episodes drop every Monday." {
			t.Errorf("unexpected answer %q", got)
		}
		data := dataFrames(t, frames, "faq")
		if len(data) != 1 || data[0]["category"] != "Podcast" {
			t.Errorf("unexpected faq payload %v", data)
		}
	})

	t.Run("lexical matcher", func(t *testing.T) {
		llm := scriptedLLM(nil)
		llm.StreamErr = errors.New("stream unavailable")
		ts := testutil.NewTestServer(t, llm)

		frames := postEvent(t, ts, faqPath, message("f1", "How much does premium cost?"))
		if got := testutil.SpokenText(frames); !strings.Contains(got, "$10") {
			t.Errorf("expected the corpus answer, got %q", got)
		}
	})

	t.Run("nothing matches", func(t *testing.T) {
		llm := scriptedLLM(nil)
		llm.StreamErr = errors.New("stream unavailable")
		ts := testutil.NewTestServer(t, llm)

		frames := postEvent(t, ts, faqPath, message("f1", "what's the weather"))
		if got := testutil.SpokenText(frames); got != faq.DefaultDecline {
			t.Errorf("expected the default decline, got %q", got)
		}
	})
}

func TestFAQWebhook_ProviderFailureStillSpeaks(t *testing.T) {
	failing := func(system, user string) (string, error) {
		return "", errors.New("provider dropped the stream")
	}

	t.Run("default decline", func(t *testing.T) {
		ts := testutil.NewTestServer(t, &testutil.FakeLLM{Reply: failing})

		frames := postEvent(t, ts, faqPath, message("f1", "what's the weather"))
		if got := testutil.SpokenText(frames); got != faq.DefaultDecline {
			t.Errorf("expected the default decline to be spoken, got %q", got)
		}
		data := dataFrames(t, frames, "faq")
		if len(data) != 1 || data[0]["matched"] != false {
			t.Errorf("a failed answer must not be reported as a match, got %v", data)
		}

		ts.Writer.Wait()
		if sess, ok := ts.Store.Session("f1"); ok && sess.MatchedQuestions != 0 {
			t.Errorf("a failed answer must not be tracked as matched, got %+v", sess)
		}
	})

	t.Run("lexical answer", func(t *testing.T) {
		ts := testutil.NewTestServer(t, &testutil.FakeLLM{Reply: failing})

		frames := postEvent(t, ts, faqPath, message("f1", "How much does premium cost?"))
		if got := testutil.SpokenText(frames); !strings.Contains(got, "$10") {
			t.Errorf("expected the corpus answer, got %q", got)
		}
		data := dataFrames(t, frames, "faq")
		if len(data) != 1 || data[0]["matched"] != true || data[0]["category"] != "Premium" {
			t.Errorf("unexpected faq payload %v", data)
		}
	})

	t.Run("empty stream", func(t *testing.T) {
		ts := testutil.NewTestServer(t, scriptedLLM(map[string]string{
			streamPrompt: "",
			matchPrompt:  "MATCH:1\nNATURAL:New episodes drop every Monday.",
		}))

		frames := postEvent(t, ts, faqPath, message("f1", "when do episodes come out"))
		if got := testutil.SpokenText(frames); got != "New episodes drop every Monday." {
			t.Errorf("expected the blocking answer after an empty stream, got %q", got)
		}
	})
}

func TestFAQWebhook_UsesConversationHistory(t *testing.T) {
	var prompts []string
	llm := &testutil.FakeLLM{Reply: func(system, user string) (string, error) {
		prompts = append(prompts, user)
		return "[FAQ:1] Every Monday.", nil
	}}
	ts := testutil.NewTestServer(t, llm)

	postEvent(t, ts, faqPath, message("f1", "when are new episodes out"))
	postEvent(t, ts, faqPath, message("f1", "tell me more"))
	if len(prompts) != 2 || !strings.Contains(prompts[1], "when are new episodes out") {
		t.Errorf("expected the second prompt to include the earlier exchange, got %q", prompts)
	}

	postEvent(t, ts, faqPath, voice.Event{Type: voice.EventSessionEnd, ConversationID: "f1"})
	postEvent(t, ts, faqPath, message("f1", "and premium?"))
	if strings.Contains(prompts[2], "when are new episodes out") {
		t.Error("history must be dropped when the session ends")
	}
}
