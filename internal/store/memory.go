package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/VoiceFAQ/internal/models"
)

// InMemoryStore keeps everything in process. It backs tests and the
// --store=memory mode.
type InMemoryStore struct {
	mu        sync.RWMutex
	nextID    int64
	sessions  map[string]*models.SessionRecord
	messages  []models.MessageRecord
	responses []models.ResponseRecord
	metrics   []models.SessionMetrics
	flow      *models.QuestionFlow
	now       func() time.Time
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*models.SessionRecord), now: time.Now}
}

// SetActiveFlow sets the flow returned by ActiveFlow.
func (s *InMemoryStore) SetActiveFlow(f *models.QuestionFlow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flow = f
}

func (s *InMemoryStore) newSession(sessionID, pageURL string, now time.Time) *models.SessionRecord {
	s.nextID++
	r := &models.SessionRecord{ID: s.nextID, SessionID: sessionID, PageURL: pageURL, StartedAt: now, CreatedAt: now}
	s.sessions[sessionID] = r
	return r
}

func (s *InMemoryStore) EnsureSession(ctx context.Context, sessionID, pageURL string, totalQuestions int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.sessions[sessionID]
	if !ok {
		r = s.newSession(sessionID, pageURL, s.now())
		r.TotalQuestions = max(totalQuestions, 0)
		return nil
	}
	if totalQuestions > 0 {
		r.TotalQuestions = totalQuestions
	}
	return nil
}

func (s *InMemoryStore) TrackQuestion(ctx context.Context, req models.TrackRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	r, ok := s.sessions[req.SessionID]
	if !ok {
		r = s.newSession(req.SessionID, req.PageURL, now)
	} else {
		r.EndedAt = &now
		if r.PageURL == "" {
			r.PageURL = req.PageURL
		}
	}
	r.TotalQuestions++
	if req.Matched {
		r.MatchedQuestions++
	}
	s.messages = append(s.messages, models.MessageRecord{
		SessionID: req.SessionID,
		Question:  req.Question,
		Matched:   req.Matched,
		Category:  req.Category,
	})
	return nil
}

func (s *InMemoryStore) StoreMessage(ctx context.Context, msg models.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.Category = messageCategory(msg.Category)
	s.messages = append(s.messages, msg)
	return nil
}

func (s *InMemoryStore) StoreResponse(ctx context.Context, resp models.ResponseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = s.now()
	}
	s.responses = append(s.responses, resp)
	return nil
}

func (s *InMemoryStore) UpdateSessionMetrics(ctx context.Context, sessionID string, completedQuestions int, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.sessions[sessionID]; ok {
		r.CompletedQuestions = completedQuestions
		r.EndedAt = &endedAt
	}
	return nil
}

func (s *InMemoryStore) SessionStartedAt(ctx context.Context, sessionID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[sessionID]
	if !ok {
		return time.Time{}, ErrSessionNotFound
	}
	return r.StartedAt, nil
}

func (s *InMemoryStore) StoreMetrics(ctx context.Context, m models.SessionMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = append(s.metrics, m)
	return nil
}

func (s *InMemoryStore) Stats(ctx context.Context, now time.Time) (*models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.Stats{Total: int64(len(s.sessions)), RecentSessions: []models.RecentSession{}}
	midnight := startOfDay(now)
	activeSince := now.Add(-ActiveWindow)
	var total, completed int64
	sessions := make([]*models.SessionRecord, 0, len(s.sessions))
	for _, r := range s.sessions {
		if !r.CreatedAt.Before(midnight) {
			stats.Today++
		}
		if r.EndedAt != nil && !r.EndedAt.Before(activeSince) {
			stats.ActiveNow++
		}
		total += int64(r.TotalQuestions)
		completed += int64(r.CompletedQuestions)
		sessions = append(sessions, r)
	}
	stats.CompletionRate = completionPercent(total, completed)

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if len(sessions) > RecentSessionLimit {
		sessions = sessions[:RecentSessionLimit]
	}
	for _, r := range sessions {
		rs := models.RecentSession{SessionRecord: *r, Responses: []models.ResponseRecord{}}
		for _, resp := range s.responses {
			if resp.SessionID == r.SessionID {
				rs.Responses = append(rs.Responses, resp)
			}
		}
		stats.RecentSessions = append(stats.RecentSessions, rs)
	}
	return stats, nil
}

func (s *InMemoryStore) ActiveFlow(ctx context.Context) (*models.QuestionFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.flow == nil {
		return nil, ErrNoActiveFlow
	}
	f := *s.flow
	return &f, nil
}

// Messages returns a copy of the recorded messages.
func (s *InMemoryStore) Messages() []models.MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.MessageRecord(nil), s.messages...)
}

// Responses returns a copy of the recorded survey answers.
func (s *InMemoryStore) Responses() []models.ResponseRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ResponseRecord(nil), s.responses...)
}

// Metrics returns a copy of the recorded session metrics.
func (s *InMemoryStore) Metrics() []models.SessionMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SessionMetrics(nil), s.metrics...)
}

// Session returns a copy of the session row.
func (s *InMemoryStore) Session(sessionID string) (models.SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[sessionID]
	if !ok {
		return models.SessionRecord{}, false
	}
	return *r, true
}

func (s *InMemoryStore) Close() error { return nil }
