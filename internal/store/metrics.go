package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/VoiceFAQ/internal/models"
)

// NPS values derived from yes/no answers to a "recommend" question.
const (
	npsPromoter  = 10
	npsDetractor = 0
)

// NPSScore scans answers to questions mentioning "recommend". A "yes" scores
// 10 and a "no" scores 0; the last such answer wins. Nil when none apply.
func NPSScore(responses []models.Response) *int {
	var score *int
	for _, r := range responses {
		if !strings.Contains(strings.ToLower(r.QuestionText), "recommend") {
			continue
		}
		answer := strings.ToLower(r.UserResponse)
		switch {
		case strings.Contains(answer, "yes"):
			v := npsPromoter
			score = &v
		case strings.Contains(answer, "no"):
			v := npsDetractor
			score = &v
		}
	}
	return score
}

// ComputeMetrics builds the metrics row for a completed session. Reaching
// completion counts as a completion rate of 1.
func ComputeMetrics(sessionID string, responses []models.Response, startedAt, now time.Time) models.SessionMetrics {
	m := models.SessionMetrics{
		SessionID:        sessionID,
		CompletionRate:   1.0,
		SentimentAverage: models.AverageSentiment(responses),
		NPSScore:         NPSScore(responses),
	}
	if !startedAt.IsZero() && now.After(startedAt) {
		m.TotalDuration = int64(now.Sub(startedAt) / time.Second)
	}
	return m
}

// RecordCompletion closes out a session: it stores the completed count and
// end time, then the aggregate metrics.
func RecordCompletion(ctx context.Context, s Store, sessionID string, responses []models.Response, now time.Time) error {
	if err := s.UpdateSessionMetrics(ctx, sessionID, len(responses), now); err != nil {
		return err
	}
	started, err := s.SessionStartedAt(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return err
	}
	m := ComputeMetrics(sessionID, responses, started, now)
	if err := s.StoreMetrics(ctx, m); err != nil {
		return err
	}
	slog.Info("RecordCompletion: session metrics stored", "session_id", sessionID, "responses", len(responses),
		"duration", m.TotalDuration, "sentiment_average", m.SentimentAverage)
	return nil
}
