package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/VoiceFAQ/internal/links"
	"github.com/BTreeMap/VoiceFAQ/internal/voice"
)

const maxWebhookBody = 1 << 20

// Spoken fallbacks.
const (
	genericApology  = "I apologize, but I encountered an error processing your request. Please try again."
	startApology    = "I'm sorry, there was an error starting the feedback session. Please try again."
	turnApology     = "I'm sorry, there was an error processing your response. Could you try again?"
	finishedReply   = "Thank you for your feedback!"
	skipAcknowledge = "No problem."
)

// readEvent reads, authenticates and decodes a webhook delivery. On failure
// it has already replied and returns false.
func (s *Server) readEvent(w http.ResponseWriter, r *http.Request, op string) (voice.Event, bool) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	logger := LoggerFromContext(r.Context())
	if !allowMethod(w, r, http.MethodPost, op) {
		return voice.Event{}, false
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		logger.Warn(op+": failed to read body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return voice.Event{}, false
	}
	if s.webhookSecret != "" {
		if err := voice.VerifySignature(s.webhookSecret, r.Header.Get(voice.SignatureHeader), body, s.now(), voice.DefaultSignatureTolerance); err != nil {
			logger.Warn(op+": rejected webhook signature", "error", err)
			writeError(w, http.StatusUnauthorized, "Invalid signature")
			return voice.Event{}, false
		}
	}
	event, err := voice.DecodeEvent(body)
	if err != nil {
		logger.Warn(op+": failed to decode event", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid webhook event")
		return voice.Event{}, false
	}
	logger.Debug(op+": event received", "type", event.Type, "conversation_id", event.ConversationKey(), "turn_id", event.TurnID)
	return event, true
}

// finishTurn ends the stream, first speaking an apology if the turn panicked.
// It must be deferred.
func finishTurn(logger *slog.Logger, stream *voice.Stream, op string) {
	if rec := recover(); rec != nil {
		logger.Error(op+": recovered from panic", "panic", rec)
		stream.TTS(genericApology)
	}
	stream.End()
}

// progressData is the UI payload sent after each question.
type progressData struct {
	Type    string `json:"type"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// completeData is sent when the survey finishes.
type completeData struct {
	Type             string  `json:"type"`
	TotalQuestions   int     `json:"totalQuestions"`
	AverageSentiment float64 `json:"averageSentiment"`
}

// faqData is sent after a spoken FAQ answer.
type faqData struct {
	Type     string       `json:"type"`
	Matched  bool         `json:"matched"`
	Category string       `json:"category,omitempty"`
	Links    []links.Link `json:"links"`
}
