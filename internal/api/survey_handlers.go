package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/VoiceFAQ/internal/feedback"
	"github.com/BTreeMap/VoiceFAQ/internal/flow"
	"github.com/BTreeMap/VoiceFAQ/internal/models"
	"github.com/BTreeMap/VoiceFAQ/internal/store"
	"github.com/BTreeMap/VoiceFAQ/internal/voice"
)

// surveyPageURL is recorded for sessions started by the voice widget.
const surveyPageURL = "widget"

// surveyWebhookHandler runs the spoken survey. Every reply is a server-sent
// stream that always ends with response.end.
func (s *Server) surveyWebhookHandler(w http.ResponseWriter, r *http.Request) {
	const op = "Server.surveyWebhookHandler"
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
		s.startSurvey(ctx, logger, stream, key)
	case voice.EventSessionEnd:
		if err := s.flows.Cleanup(ctx, key); err != nil {
			logger.Warn(op+": cleanup failed", "error", err)
		}
		logger.Info(op + ": survey session ended")
	case voice.EventSessionUpdate, voice.EventInterimDelta:
	case voice.EventMessage:
		if event.Text != "" {
			s.surveyTurn(ctx, logger, stream, key, event.Text)
		}
	default:
		logger.Debug(op+": ignoring event", "type", event.Type)
	}
}

func (s *Server) startSurvey(ctx context.Context, logger *slog.Logger, stream *voice.Stream, key string) {
	unlock := s.flows.Lock(key)
	defer unlock()

	st, err := s.flows.Initialize(ctx, key)
	if err != nil {
		logger.Error("Server.startSurvey: failed to initialize conversation", "error", err)
		stream.TTS(startApology)
		return
	}
	if err := s.store.EnsureSession(ctx, key, surveyPageURL, len(st.Flow.Questions)); err != nil {
		logger.Error("Server.startSurvey: failed to create session", "error", err)
		stream.TTS(startApology)
		return
	}
	first := s.flows.CurrentQuestion(ctx, key)
	if first == nil {
		logger.Error("Server.startSurvey: flow has no first question")
		stream.TTS(startApology)
		return
	}

	stream.TTS(st.Flow.WelcomeMessage + " " + first.Text)
	s.writer.Go(ctx, "survey.first_question", s.storeQuestion(key, first))
	s.sendProgress(ctx, stream, key)
	logger.Info("Server.startSurvey: survey started", "questions", len(st.Flow.Questions), "flow_id", st.Flow.ID)
}

// surveyTurn handles one spoken answer.
func (s *Server) surveyTurn(ctx context.Context, logger *slog.Logger, stream *voice.Stream, key, text string) {
	unlock := s.flows.Lock(key)
	defer unlock()

	st := s.flows.State(ctx, key)
	if st == nil {
		logger.Warn("Server.surveyTurn: no state for conversation, reinitializing")
		var err error
		if st, err = s.flows.Initialize(ctx, key); err != nil {
			logger.Error("Server.surveyTurn: failed to reinitialize conversation", "error", err)
			stream.TTS(turnApology)
			return
		}
		if err := s.store.EnsureSession(ctx, key, "", len(st.Flow.Questions)); err != nil {
			logger.Warn("Server.surveyTurn: failed to update session total", "error", err)
		}
	}

	if feedback.DetectSkipIntent(text) {
		s.skipQuestion(ctx, logger, stream, key, st.Flow.ThankYouMessage)
		return
	}

	current := s.flows.CurrentQuestion(ctx, key)
	if current == nil {
		stream.TTS(finishedReply)
		return
	}

	result := s.analyzer.StreamSentimentAndTransition(ctx, text)
	sentiment := result.Sentiment
	logger.Debug("Server.surveyTurn: answer analyzed", "question_id", current.ID, "sentiment", sentiment, "transition", result.Transition)

	next, err := s.flows.RecordAnswer(ctx, key, current.ID, current.Text, text, &sentiment)
	if err != nil {
		s.turnFailed(logger, stream, err)
		return
	}

	answer := s.storeAnswer(models.ResponseRecord{
		SessionID:      key,
		QuestionID:     current.ID,
		QuestionText:   current.Text,
		UserResponse:   text,
		SentimentScore: &sentiment,
		CreatedAt:      s.now(),
	})

	if next != nil {
		stream.TTS(result.Transition + " " + next.Text)
		s.writer.Go(ctx, "survey.answer", answer, s.storeQuestion(key, next))
		s.sendProgress(ctx, stream, key)
		return
	}

	stream.TTS(st.Flow.ThankYouMessage)
	s.writer.Go(ctx, "survey.final_answer", answer)
	s.finishSurvey(ctx, logger, stream, key)
}

// skipQuestion moves past the current question without recording an answer.
func (s *Server) skipQuestion(ctx context.Context, logger *slog.Logger, stream *voice.Stream, key, thankYou string) {
	logger.Info("Server.skipQuestion: user skipped question")
	next, err := s.flows.NextQuestion(ctx, key, "", nil)
	if err != nil {
		s.turnFailed(logger, stream, err)
		return
	}
	if next != nil {
		stream.TTS(skipAcknowledge + " " + next.Text)
		s.writer.Go(ctx, "survey.question", s.storeQuestion(key, next))
		s.sendProgress(ctx, stream, key)
		return
	}
	stream.TTS(thankYou)
	s.finishSurvey(ctx, logger, stream, key)
}

// finishSurvey closes out a completed conversation: the session row and
// metrics are written before the turn ends, the summary in the background.
func (s *Server) finishSurvey(ctx context.Context, logger *slog.Logger, stream *voice.Stream, key string) {
	if err := s.flows.Complete(ctx, key); err != nil {
		logger.Warn("Server.finishSurvey: failed to mark conversation complete", "error", err)
	}
	st := s.flows.State(ctx, key)
	if st == nil {
		return
	}
	if err := store.RecordCompletion(ctx, s.store, key, st.Responses, s.now()); err != nil {
		logger.Error("Server.finishSurvey: failed to record completion", "error", err)
	}

	responses := st.Responses
	s.writer.Go(ctx, "survey.summary", func(ctx context.Context) error {
		summary := s.analyzer.GenerateSummary(ctx, responses)
		slog.Info("Server.finishSurvey: feedback summary", "conversation_id", key, "summary", summary)
		return nil
	})

	stream.Data(completeData{Type: "complete", TotalQuestions: len(st.Responses), AverageSentiment: st.AverageSentiment()})
	logger.Info("Server.finishSurvey: survey completed", "responses", len(st.Responses))
}

func (s *Server) turnFailed(logger *slog.Logger, stream *voice.Stream, err error) {
	if errors.Is(err, flow.ErrVersionConflict) {
		logger.Warn("Server.surveyTurn: concurrent turn won, rejecting this one", "error", err)
	} else {
		logger.Error("Server.surveyTurn: failed to advance conversation", "error", err)
	}
	stream.TTS(turnApology)
}

func (s *Server) sendProgress(ctx context.Context, stream *voice.Stream, key string) {
	if p, ok := s.flows.Progress(ctx, key); ok {
		stream.Data(progressData{Type: "progress", Current: p.Current, Total: p.Total})
	}
}

func (s *Server) storeQuestion(key string, q *models.Question) store.WriteFunc {
	msg := models.MessageRecord{SessionID: key, Question: q.Text, Matched: true, Category: store.DefaultMessageCategory}
	return func(ctx context.Context) error {
		return s.store.StoreMessage(ctx, msg)
	}
}

func (s *Server) storeAnswer(rec models.ResponseRecord) store.WriteFunc {
	return func(ctx context.Context) error {
		return s.store.StoreResponse(ctx, rec)
	}
}

