package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/VoiceFAQ/internal/models"
)

// sqlStore implements Store over database/sql. Queries are written with '?'
// placeholders and rebound for drivers that number them.
type sqlStore struct {
	db       *sql.DB
	name     string
	numbered bool
}

// q rebinds '?' placeholders to $1..$n when the driver requires it.
func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) EnsureSession(ctx context.Context, sessionID, pageURL string, totalQuestions int) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO conversation_sessions
		(session_id, page_url, started_at, total_questions, completed_questions, matched_questions, created_at)
		VALUES (?, ?, ?, ?, 0, 0, ?) ON CONFLICT (session_id) DO NOTHING`),
		sessionID, pageURL, now, max(totalQuestions, 0), now)
	if err != nil {
		slog.Error(s.name+".EnsureSession: insert failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to ensure session %s: %w", sessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 && totalQuestions > 0 {
		if _, err := s.db.ExecContext(ctx, s.q(`UPDATE conversation_sessions SET total_questions = ? WHERE session_id = ?`), totalQuestions, sessionID); err != nil {
			slog.Error(s.name+".EnsureSession: update total failed", "error", err, "session_id", sessionID)
			return fmt.Errorf("failed to update session %s: %w", sessionID, err)
		}
	}
	slog.Debug(s.name+".EnsureSession succeeded", "session_id", sessionID, "total_questions", totalQuestions)
	return nil
}

func (s *sqlStore) TrackQuestion(ctx context.Context, req models.TrackRequest) error {
	now := time.Now().UTC()
	matched := 0
	if req.Matched {
		matched = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin track transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`UPDATE conversation_sessions SET
		total_questions = total_questions + 1,
		matched_questions = matched_questions + ?,
		ended_at = ?,
		page_url = CASE WHEN page_url = '' THEN ? ELSE page_url END
		WHERE session_id = ?`), matched, now, req.PageURL, req.SessionID)
	if err != nil {
		slog.Error(s.name+".TrackQuestion: session update failed", "error", err, "session_id", req.SessionID)
		return fmt.Errorf("failed to update session %s: %w", req.SessionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO conversation_sessions
			(session_id, page_url, started_at, total_questions, completed_questions, matched_questions, created_at)
			VALUES (?, ?, ?, 1, 0, ?, ?)`), req.SessionID, req.PageURL, now, matched, now)
		if err != nil {
			slog.Error(s.name+".TrackQuestion: session create failed", "error", err, "session_id", req.SessionID)
			return fmt.Errorf("failed to create session %s: %w", req.SessionID, err)
		}
	}

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO conversation_messages (session_id, question, matched, category, created_at)
		VALUES (?, ?, ?, ?, ?)`), req.SessionID, req.Question, req.Matched, nilIfEmpty(req.Category), now)
	if err != nil {
		slog.Error(s.name+".TrackQuestion: message insert failed", "error", err, "session_id", req.SessionID)
		return fmt.Errorf("failed to insert message for %s: %w", req.SessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit track transaction: %w", err)
	}
	slog.Debug(s.name+".TrackQuestion succeeded", "session_id", req.SessionID, "matched", req.Matched)
	return nil
}

func (s *sqlStore) StoreMessage(ctx context.Context, msg models.MessageRecord) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO conversation_messages (session_id, question, matched, category, created_at)
		VALUES (?, ?, ?, ?, ?)`), msg.SessionID, msg.Question, msg.Matched, messageCategory(msg.Category), time.Now().UTC())
	if err != nil {
		slog.Error(s.name+".StoreMessage failed", "error", err, "session_id", msg.SessionID)
		return fmt.Errorf("failed to insert message for %s: %w", msg.SessionID, err)
	}
	return nil
}

func (s *sqlStore) StoreResponse(ctx context.Context, r models.ResponseRecord) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO feedback_responses
		(session_id, question_id, question_text, user_response, sentiment_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		r.SessionID, r.QuestionID, r.QuestionText, r.UserResponse, r.SentimentScore, created.UTC())
	if err != nil {
		slog.Error(s.name+".StoreResponse failed", "error", err, "session_id", r.SessionID, "question_id", r.QuestionID)
		return fmt.Errorf("failed to insert response for %s: %w", r.SessionID, err)
	}
	slog.Debug(s.name+".StoreResponse succeeded", "session_id", r.SessionID, "question_id", r.QuestionID)
	return nil
}

func (s *sqlStore) UpdateSessionMetrics(ctx context.Context, sessionID string, completedQuestions int, endedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE conversation_sessions SET completed_questions = ?, ended_at = ? WHERE session_id = ?`),
		completedQuestions, endedAt.UTC(), sessionID)
	if err != nil {
		slog.Error(s.name+".UpdateSessionMetrics failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to update session metrics for %s: %w", sessionID, err)
	}
	return nil
}

func (s *sqlStore) SessionStartedAt(ctx context.Context, sessionID string) (time.Time, error) {
	var started time.Time
	err := s.db.QueryRowContext(ctx, s.q(`SELECT started_at FROM conversation_sessions WHERE session_id = ?`), sessionID).Scan(&started)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrSessionNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read session start for %s: %w", sessionID, err)
	}
	return started, nil
}

func (s *sqlStore) StoreMetrics(ctx context.Context, m models.SessionMetrics) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO feedback_metrics
		(session_id, completion_rate, total_duration, sentiment_average, nps_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		m.SessionID, m.CompletionRate, m.TotalDuration, m.SentimentAverage, m.NPSScore, time.Now().UTC())
	if err != nil {
		slog.Error(s.name+".StoreMetrics failed", "error", err, "session_id", m.SessionID)
		return fmt.Errorf("failed to insert metrics for %s: %w", m.SessionID, err)
	}
	slog.Debug(s.name+".StoreMetrics succeeded", "session_id", m.SessionID, "duration", m.TotalDuration)
	return nil
}

func (s *sqlStore) Stats(ctx context.Context, now time.Time) (*models.Stats, error) {
	stats := &models.Stats{RecentSessions: []models.RecentSession{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversation_sessions`).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM conversation_sessions WHERE created_at >= ?`), startOfDay(now)).Scan(&stats.Today); err != nil {
		return nil, fmt.Errorf("failed to count today's sessions: %w", err)
	}
	var total, completed int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(total_questions), 0), COALESCE(SUM(completed_questions), 0) FROM conversation_sessions`).Scan(&total, &completed); err != nil {
		return nil, fmt.Errorf("failed to sum questions: %w", err)
	}
	stats.CompletionRate = completionPercent(total, completed)
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM conversation_sessions WHERE ended_at >= ?`), now.Add(-ActiveWindow).UTC()).Scan(&stats.ActiveNow); err != nil {
		return nil, fmt.Errorf("failed to count active sessions: %w", err)
	}

	recent, err := s.recentSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(recent) == 0 {
		return stats, nil
	}
	byID, err := s.responsesFor(ctx, recent)
	if err != nil {
		return nil, err
	}
	for _, r := range recent {
		resp := byID[r.SessionID]
		if resp == nil {
			resp = []models.ResponseRecord{}
		}
		stats.RecentSessions = append(stats.RecentSessions, models.RecentSession{SessionRecord: r, Responses: resp})
	}
	return stats, nil
}

func (s *sqlStore) recentSessions(ctx context.Context) ([]models.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, session_id, page_url, started_at, ended_at,
		total_questions, completed_questions, matched_questions, created_at
		FROM conversation_sessions ORDER BY created_at DESC, id DESC LIMIT ?`), RecentSessionLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SessionRecord
	for rows.Next() {
		var r models.SessionRecord
		var ended sql.NullTime
		if err := rows.Scan(&r.ID, &r.SessionID, &r.PageURL, &r.StartedAt, &ended,
			&r.TotalQuestions, &r.CompletedQuestions, &r.MatchedQuestions, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if ended.Valid {
			r.EndedAt = &ended.Time
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return out, nil
}

func (s *sqlStore) responsesFor(ctx context.Context, sessions []models.SessionRecord) (map[string][]models.ResponseRecord, error) {
	args := make([]any, len(sessions))
	marks := make([]string, len(sessions))
	for i, r := range sessions {
		args[i] = r.SessionID
		marks[i] = "?"
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT session_id, question_id, question_text, user_response, sentiment_score, created_at
		FROM feedback_responses WHERE session_id IN (`+strings.Join(marks, ", ")+`) ORDER BY created_at ASC, id ASC`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]models.ResponseRecord)
	for rows.Next() {
		var r models.ResponseRecord
		var score sql.NullFloat64
		if err := rows.Scan(&r.SessionID, &r.QuestionID, &r.QuestionText, &r.UserResponse, &score, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan response row: %w", err)
		}
		if score.Valid {
			v := score.Float64
			r.SentimentScore = &v
		}
		out[r.SessionID] = append(out[r.SessionID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate response rows: %w", err)
	}
	return out, nil
}

func (s *sqlStore) ActiveFlow(ctx context.Context) (*models.QuestionFlow, error) {
	var f models.QuestionFlow
	var questions []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, flow_name, questions FROM question_flows WHERE is_active = ? ORDER BY created_at DESC LIMIT 1`), true).
		Scan(&f.ID, &f.Name, &questions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveFlow
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active flow: %w", err)
	}
	if err := json.Unmarshal(questions, &f.Questions); err != nil {
		return nil, fmt.Errorf("failed to decode questions of flow %s: %w", f.ID, err)
	}
	return &f, nil
}

// SaveFlow inserts or replaces a question flow. When active is set, every
// other flow is deactivated.
func (s *sqlStore) SaveFlow(ctx context.Context, f models.QuestionFlow, active bool) error {
	questions, err := json.Marshal(f.Questions)
	if err != nil {
		return fmt.Errorf("failed to encode questions: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if active {
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE question_flows SET is_active = ?`), false); err != nil {
			return fmt.Errorf("failed to deactivate flows: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO question_flows (id, flow_name, questions, is_active, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET flow_name = excluded.flow_name, questions = excluded.questions, is_active = excluded.is_active`),
		f.ID, f.Name, string(questions), active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save flow %s: %w", f.ID, err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug("Closing " + s.name + " database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close database", "store", s.name, "error", err)
	}
	return err
}
