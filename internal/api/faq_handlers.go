package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/VoiceFAQ/internal/faq"
	"github.com/BTreeMap/VoiceFAQ/internal/genai"
	"github.com/BTreeMap/VoiceFAQ/internal/links"
	"github.com/BTreeMap/VoiceFAQ/internal/models"
	"github.com/BTreeMap/VoiceFAQ/internal/voice"
)

const (
	faqPageURL  = "faq-widget"
	faqGreeting = "Hi! Ask me anything about the Huberman Lab podcast."
)

var errEmptyAnswer = errors.New("model streamed an empty answer")

// faqWebhookHandler answers spoken questions from the FAQ corpus, streaming
// the answer as it is generated.
func (s *Server) faqWebhookHandler(w http.ResponseWriter, r *http.Request) {
	const op = "Server.faqWebhookHandler"
	event, ok := s.readEvent(w, r, op)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := LoggerFromContext(ctx).With("conversation_id", event.ConversationKey())
	stream := voice.NewStream(w, event.TurnID)
	defer finishTurn(logger, stream, op)

	key := event.ConversationKey()
	switch event.Type {
	case voice.EventSessionStart:
		if err := s.store.EnsureSession(ctx, key, faqPageURL, 0); err != nil {
			logger.Warn(op+": failed to create session", "error", err)
		}
		stream.TTS(faqGreeting)
	case voice.EventSessionEnd:
		s.histories.forget(key)
	case voice.EventSessionUpdate, voice.EventInterimDelta:
	case voice.EventMessage:
		if event.Text != "" {
			s.answerFAQ(ctx, logger, stream, key, event.Text)
		}
	default:
		logger.Debug(op+": ignoring event", "type", event.Type)
	}
}

// answerFAQ streams the model's answer. If the stream fails before anything
// was spoken it falls back to the blocking matcher, then to the lexical
// matcher, then to the default decline.
func (s *Server) answerFAQ(ctx context.Context, logger *slog.Logger, stream *voice.Stream, key, question string) {
	history := s.histories.get(key)

	var spoken string
	var meta faq.Metadata
	streamed := false
	answerStream, err := s.streamer.Stream(ctx, question, history)
	if err == nil {
		for tok := range answerStream.Tokens() {
			if strings.TrimSpace(tok) != "" {
				streamed = true
			}
			stream.TTS(tok)
		}
		_, meta, err = answerStream.Result()
		if err != nil {
			logger.Warn("Server.answerFAQ: stream ended early", "error", err, "spoken", streamed)
		}
		spoken = meta.CleanResponse
		if !streamed && err == nil {
			err = errEmptyAnswer
		}
	}
	if !streamed && err != nil {
		logger.Warn("Server.answerFAQ: no streamed answer, using blocking matcher", "error", err)
		spoken, meta = s.blockingAnswer(ctx, logger, question, history)
		stream.TTS(spoken)
	}

	source := meta.OriginalAnswer
	if source == "" {
		source = spoken
	}
	found := links.Extract(source)
	if found == nil {
		found = []links.Link{}
	}
	stream.Data(faqData{Type: "faq", Matched: meta.Matched, Category: meta.Category, Links: found})

	s.histories.add(key, genai.User(question), genai.Message{Role: genai.RoleAssistant, Content: spoken})
	req := models.TrackRequest{SessionID: key, Question: question, Matched: meta.Matched, Category: meta.Category}
	s.writer.Go(ctx, "faq.track", func(ctx context.Context) error {
		return s.store.TrackQuestion(ctx, req)
	})
	logger.Debug("Server.answerFAQ: answered", "matched", meta.Matched, "category", meta.Category, "links", len(found))
}

func (s *Server) blockingAnswer(ctx context.Context, logger *slog.Logger, question string, history []genai.Message) (string, faq.Metadata) {
	result, err := s.aiMatcher.Match(ctx, question, history)
	if err == nil {
		if result.Matched() {
			m := result.Match
			return m.NaturalAnswer, faq.Metadata{Matched: true, Category: m.Category, CleanResponse: m.NaturalAnswer, OriginalAnswer: m.Answer}
		}
		return result.Decline, faq.Metadata{CleanResponse: result.Decline}
	}
	logger.Warn("Server.blockingAnswer: AI matcher failed, using lexical matcher", "error", err)

	if m := s.lexical.Match(question); m != nil {
		return m.Answer, faq.Metadata{Matched: true, Category: m.Category, CleanResponse: m.Answer, OriginalAnswer: m.Answer}
	}
	return faq.DefaultDecline, faq.Metadata{CleanResponse: faq.DefaultDecline}
}
