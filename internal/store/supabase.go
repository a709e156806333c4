package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/BTreeMap/VoiceFAQ/internal/models"
)

var (
	ErrSupabaseURLRequired = errors.New("supabase URL is required")
	ErrSupabaseKeyRequired = errors.New("supabase API key is required")
)

// SupabaseStore persists through the Supabase PostgREST API.
type SupabaseStore struct {
	client *supabase.Client
}

var _ Store = (*SupabaseStore)(nil)

// NewSupabaseStore creates a store for the project configured by WithSupabase.
func NewSupabaseStore(opts ...Option) (*SupabaseStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SupabaseURL == "" {
		return nil, ErrSupabaseURLRequired
	}
	if cfg.SupabaseKey == "" {
		return nil, ErrSupabaseKeyRequired
	}
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}
	slog.Debug("SupabaseStore created", "url", cfg.SupabaseURL)
	return &SupabaseStore{client: client}, nil
}

type sessionRow struct {
	ID                 int64      `json:"id,omitempty"`
	SessionID          string     `json:"session_id"`
	PageURL            string     `json:"page_url"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	TotalQuestions     int        `json:"total_questions"`
	CompletedQuestions int        `json:"completed_questions"`
	MatchedQuestions   int        `json:"matched_questions"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
}

func (s *SupabaseStore) session(sessionID string) (*sessionRow, error) {
	var rows []sessionRow
	_, err := s.client.From("conversation_sessions").
		Select("*", "", false).
		Eq("session_id", sessionID).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	if len(rows) == 0 {
		return nil, ErrSessionNotFound
	}
	return &rows[0], nil
}

func (s *SupabaseStore) EnsureSession(ctx context.Context, sessionID, pageURL string, totalQuestions int) error {
	_, err := s.session(sessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		now := time.Now().UTC()
		row := sessionRow{SessionID: sessionID, PageURL: pageURL, StartedAt: &now, TotalQuestions: max(totalQuestions, 0)}
		if _, _, err := s.client.From("conversation_sessions").Insert(row, false, "", "minimal", "").Execute(); err != nil {
			slog.Error("SupabaseStore.EnsureSession: insert failed", "error", err, "session_id", sessionID)
			return fmt.Errorf("failed to create session %s: %w", sessionID, err)
		}
		slog.Debug("SupabaseStore.EnsureSession: created session", "session_id", sessionID)
		return nil
	case err != nil:
		return err
	}
	if totalQuestions <= 0 {
		return nil
	}
	_, _, err = s.client.From("conversation_sessions").
		Update(map[string]any{"total_questions": totalQuestions}, "minimal", "").
		Eq("session_id", sessionID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SupabaseStore) TrackQuestion(ctx context.Context, req models.TrackRequest) error {
	existing, err := s.session(req.SessionID)
	matched := 0
	if req.Matched {
		matched = 1
	}
	switch {
	case errors.Is(err, ErrSessionNotFound):
		now := time.Now().UTC()
		row := sessionRow{SessionID: req.SessionID, PageURL: req.PageURL, StartedAt: &now, TotalQuestions: 1, MatchedQuestions: matched}
		if _, _, err := s.client.From("conversation_sessions").Insert(row, false, "", "minimal", "").Execute(); err != nil {
			slog.Error("SupabaseStore.TrackQuestion: session create failed", "error", err, "session_id", req.SessionID)
			return fmt.Errorf("failed to create session %s: %w", req.SessionID, err)
		}
	case err != nil:
		return err
	default:
		update := map[string]any{
			"total_questions":   existing.TotalQuestions + 1,
			"matched_questions": existing.MatchedQuestions + matched,
			"ended_at":          time.Now().UTC().Format(time.RFC3339Nano),
		}
		if existing.PageURL == "" && req.PageURL != "" {
			update["page_url"] = req.PageURL
		}
		if _, _, err := s.client.From("conversation_sessions").Update(update, "minimal", "").Eq("session_id", req.SessionID).Execute(); err != nil {
			slog.Error("SupabaseStore.TrackQuestion: session update failed", "error", err, "session_id", req.SessionID)
			return fmt.Errorf("failed to update session %s: %w", req.SessionID, err)
		}
	}

	msg := map[string]any{
		"session_id": req.SessionID,
		"question":   req.Question,
		"matched":    req.Matched,
		"category":   nilIfEmpty(req.Category),
	}
	if _, _, err := s.client.From("conversation_messages").Insert(msg, false, "", "minimal", "").Execute(); err != nil {
		slog.Error("SupabaseStore.TrackQuestion: message insert failed", "error", err, "session_id", req.SessionID)
		return fmt.Errorf("failed to insert message for %s: %w", req.SessionID, err)
	}
	return nil
}

func (s *SupabaseStore) StoreMessage(ctx context.Context, msg models.MessageRecord) error {
	msg.Category = messageCategory(msg.Category)
	if _, _, err := s.client.From("conversation_messages").Insert(msg, false, "", "minimal", "").Execute(); err != nil {
		slog.Error("SupabaseStore.StoreMessage failed", "error", err, "session_id", msg.SessionID)
		return fmt.Errorf("failed to insert message for %s: %w", msg.SessionID, err)
	}
	return nil
}

func (s *SupabaseStore) StoreResponse(ctx context.Context, resp models.ResponseRecord) error {
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now().UTC()
	}
	if _, _, err := s.client.From("feedback_responses").Insert(resp, false, "", "minimal", "").Execute(); err != nil {
		slog.Error("SupabaseStore.StoreResponse failed", "error", err, "session_id", resp.SessionID, "question_id", resp.QuestionID)
		return fmt.Errorf("failed to insert response for %s: %w", resp.SessionID, err)
	}
	return nil
}

func (s *SupabaseStore) UpdateSessionMetrics(ctx context.Context, sessionID string, completedQuestions int, endedAt time.Time) error {
	update := map[string]any{
		"completed_questions": completedQuestions,
		"ended_at":            endedAt.UTC().Format(time.RFC3339Nano),
	}
	if _, _, err := s.client.From("conversation_sessions").Update(update, "minimal", "").Eq("session_id", sessionID).Execute(); err != nil {
		slog.Error("SupabaseStore.UpdateSessionMetrics failed", "error", err, "session_id", sessionID)
		return fmt.Errorf("failed to update session metrics for %s: %w", sessionID, err)
	}
	return nil
}

func (s *SupabaseStore) SessionStartedAt(ctx context.Context, sessionID string) (time.Time, error) {
	row, err := s.session(sessionID)
	if err != nil {
		return time.Time{}, err
	}
	if row.StartedAt == nil {
		return time.Time{}, ErrSessionNotFound
	}
	return *row.StartedAt, nil
}

func (s *SupabaseStore) StoreMetrics(ctx context.Context, m models.SessionMetrics) error {
	if _, _, err := s.client.From("feedback_metrics").Insert(m, false, "", "minimal", "").Execute(); err != nil {
		slog.Error("SupabaseStore.StoreMetrics failed", "error", err, "session_id", m.SessionID)
		return fmt.Errorf("failed to insert metrics for %s: %w", m.SessionID, err)
	}
	return nil
}

// count runs a head-only exact count on conversation_sessions.
func (s *SupabaseStore) count(filter func(*postgrest.FilterBuilder) *postgrest.FilterBuilder) (int64, error) {
	q := s.client.From("conversation_sessions").Select("*", "exact", true)
	if filter != nil {
		q = filter(q)
	}
	_, n, err := q.Execute()
	return n, err
}

func (s *SupabaseStore) Stats(ctx context.Context, now time.Time) (*models.Stats, error) {
	stats := &models.Stats{RecentSessions: []models.RecentSession{}}
	var err error

	if stats.Total, err = s.count(nil); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	midnight := startOfDay(now).Format(time.RFC3339)
	if stats.Today, err = s.count(func(f *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return f.Gte("created_at", midnight)
	}); err != nil {
		return nil, fmt.Errorf("failed to count today's sessions: %w", err)
	}
	activeSince := now.Add(-ActiveWindow).UTC().Format(time.RFC3339)
	if stats.ActiveNow, err = s.count(func(f *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return f.Gte("ended_at", activeSince)
	}); err != nil {
		return nil, fmt.Errorf("failed to count active sessions: %w", err)
	}

	var totals []sessionRow
	if _, err := s.client.From("conversation_sessions").Select("total_questions,completed_questions", "", false).ExecuteTo(&totals); err != nil {
		return nil, fmt.Errorf("failed to sum questions: %w", err)
	}
	var total, completed int64
	for _, t := range totals {
		total += int64(t.TotalQuestions)
		completed += int64(t.CompletedQuestions)
	}
	stats.CompletionRate = completionPercent(total, completed)

	var recent []models.SessionRecord
	_, err = s.client.From("conversation_sessions").
		Select("*", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(RecentSessionLimit, "").
		ExecuteTo(&recent)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent sessions: %w", err)
	}
	if len(recent) == 0 {
		return stats, nil
	}

	ids := make([]string, len(recent))
	for i, r := range recent {
		ids[i] = r.SessionID
	}
	var responses []models.ResponseRecord
	_, err = s.client.From("feedback_responses").
		Select("*", "", false).
		In("session_id", ids).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&responses)
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	byID := make(map[string][]models.ResponseRecord)
	for _, r := range responses {
		byID[r.SessionID] = append(byID[r.SessionID], r)
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

type flowRow struct {
	ID        string          `json:"id"`
	FlowName  string          `json:"flow_name"`
	Questions json.RawMessage `json:"questions"`
}

func (s *SupabaseStore) ActiveFlow(ctx context.Context) (*models.QuestionFlow, error) {
	var rows []flowRow
	_, err := s.client.From("question_flows").
		Select("*", "", false).
		Eq("is_active", "true").
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to query active flow: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoActiveFlow
	}
	f := &models.QuestionFlow{ID: rows[0].ID, Name: rows[0].FlowName}
	if err := json.Unmarshal(rows[0].Questions, &f.Questions); err != nil {
		return nil, fmt.Errorf("failed to decode questions of flow %s: %w", f.ID, err)
	}
	return f, nil
}

// Close is a no-op; the Supabase client holds no connections.
func (s *SupabaseStore) Close() error { return nil }
