// Package flow runs the spoken survey: it owns per-session conversation state,
// walks the active question flow and decides when follow-up questions fire.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/VoiceFAQ/internal/models"
)

// DefaultMaxTracked caps the number of conversations held at once.
const DefaultMaxTracked = 1000

// Follow-up trigger thresholds.
const (
	negativeSentimentThreshold = -0.2
	positiveSentimentThreshold = 0.3
)

var (
	negativeKeywords = []string{"no", "not", "never", "bad", "poor", "disappointed", "unhappy"}
	positiveKeywords = []string{"yes", "great", "excellent", "love", "happy", "amazing"}
	// specific_answer has no per-question rule yet; it fires on a refusal.
	specificAnswerKeywords = []string{"no", "not"}
)

// Manager is the survey state machine. It is the only writer of
// ConversationState.
type Manager struct {
	source     *Source
	states     StateStore
	maxTracked int
	now        func() time.Time
	locks      sessionLocks
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxTracked sets the conversation cap. Values below 1 are ignored.
func WithMaxTracked(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxTracked = n
		}
	}
}

// WithClock sets the time source for state timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager over the given flow source and state store.
func NewManager(source *Source, states StateStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		source:     source,
		states:     states,
		maxTracked: DefaultMaxTracked,
		now:        time.Now,
		locks:      sessionLocks{locks: make(map[string]*sessionLock)},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lock serializes turns for one session within this process. The returned
// function releases the lock.
func (m *Manager) Lock(sessionID string) func() {
	return m.locks.lock(sessionID)
}

// Initialize registers fresh state for sessionID at the first question of the
// active flow, evicting the oldest conversations when the cap is reached.
func (m *Manager) Initialize(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	flow := m.source.Active(ctx)

	if err := m.makeRoom(ctx); err != nil {
		slog.Warn("Manager.Initialize: eviction failed", "session_id", sessionID, "error", err)
	}

	st := models.NewConversationState(sessionID, flow, m.now())
	if err := m.states.Create(ctx, st); err != nil {
		return nil, err
	}
	slog.Debug("Manager.Initialize: conversation registered", "session_id", sessionID, "flow_id", flow.ID, "questions", len(flow.Questions))
	return st, nil
}

func (m *Manager) makeRoom(ctx context.Context) error {
	for {
		n, err := m.states.Len(ctx)
		if err != nil {
			return err
		}
		if n < m.maxTracked {
			return nil
		}
		id, err := m.states.EvictOldest(ctx)
		if err != nil {
			return err
		}
		if id == "" {
			return nil
		}
		slog.Info("Manager.makeRoom: evicted oldest conversation", "session_id", id, "tracked", n)
	}
}

// State returns a snapshot of the session's state, or nil when missing.
func (m *Manager) State(ctx context.Context, sessionID string) *models.ConversationState {
	return m.load(ctx, sessionID, "Manager.State")
}

// CurrentQuestion returns the question awaiting an answer: the follow-up while
// one is outstanding, otherwise the question at the pointer. It returns nil
// when the state is missing or complete.
func (m *Manager) CurrentQuestion(ctx context.Context, sessionID string) *models.Question {
	st := m.load(ctx, sessionID, "Manager.CurrentQuestion")
	if st == nil || st.IsComplete {
		return nil
	}
	if st.PendingFollowUp != nil {
		q := *st.PendingFollowUp
		return &q
	}
	if st.CurrentQuestionIndex >= len(st.Flow.Questions) {
		return nil
	}
	q := st.Flow.Questions[st.CurrentQuestionIndex]
	return &q
}

// StoreResponse appends an answer. Missing state is logged and ignored.
func (m *Manager) StoreResponse(ctx context.Context, sessionID, questionID, questionText, userText string, sentiment *float64) error {
	st := m.load(ctx, sessionID, "Manager.StoreResponse")
	if st == nil {
		return nil
	}
	m.appendResponse(st, questionID, questionText, userText, sentiment)
	return m.save(ctx, st, "Manager.StoreResponse")
}

// NextQuestion moves the conversation on after an answer and returns the
// question to ask next, or nil when the flow is finished or the state is
// missing.
//
// A follow-up fires at most once per main question and never moves the
// pointer; answering it advances past its parent question.
func (m *Manager) NextQuestion(ctx context.Context, sessionID, answer string, sentiment *float64) (*models.Question, error) {
	st := m.load(ctx, sessionID, "Manager.NextQuestion")
	if st == nil || st.IsComplete {
		return nil, nil
	}
	next := m.advance(st, answer, sentiment)
	if err := m.save(ctx, st, "Manager.NextQuestion"); err != nil {
		return nil, err
	}
	return next, nil
}

// RecordAnswer stores the answer to the current question and moves on in a
// single write, so a rejected write leaves neither the response nor the
// pointer changed. It returns ErrStateNotFound when the state is missing and
// (nil, nil) once the conversation is complete.
func (m *Manager) RecordAnswer(ctx context.Context, sessionID, questionID, questionText, answer string, sentiment *float64) (*models.Question, error) {
	st := m.load(ctx, sessionID, "Manager.RecordAnswer")
	if st == nil {
		return nil, ErrStateNotFound
	}
	if st.IsComplete {
		return nil, nil
	}
	m.appendResponse(st, questionID, questionText, answer, sentiment)
	next := m.advance(st, answer, sentiment)
	if err := m.save(ctx, st, "Manager.RecordAnswer"); err != nil {
		return nil, err
	}
	return next, nil
}

func (m *Manager) appendResponse(st *models.ConversationState, questionID, questionText, userText string, sentiment *float64) {
	r := models.Response{
		QuestionID:   questionID,
		QuestionText: questionText,
		UserResponse: userText,
		AnsweredAt:   m.now(),
	}
	if sentiment != nil {
		v := models.ClampSentiment(*sentiment)
		r.Sentiment = &v
	}
	st.Responses = append(st.Responses, r)
}

// advance applies an answer to st and returns the next question, nil when
// the flow is finished.
func (m *Manager) advance(st *models.ConversationState, answer string, sentiment *float64) *models.Question {
	if st.PendingFollowUp != nil {
		// The follow-up is answered; move past its parent.
		st.PendingFollowUp = nil
	} else if q := m.triggeredFollowUp(st, answer, sentiment); q != nil {
		st.PendingFollowUp = q
		st.FollowUpAsked = st.CurrentQuestionIndex
		slog.Debug("Manager.advance: asking follow-up", "session_id", st.SessionID, "question_id", q.ID)
		fu := *q
		return &fu
	}

	st.CurrentQuestionIndex++
	if st.CurrentQuestionIndex >= len(st.Flow.Questions) {
		st.IsComplete = true
		return nil
	}
	q := st.Flow.Questions[st.CurrentQuestionIndex]
	return &q
}

func (m *Manager) triggeredFollowUp(st *models.ConversationState, answer string, sentiment *float64) *models.Question {
	idx := st.CurrentQuestionIndex
	if idx >= len(st.Flow.Questions) || st.FollowUpAsked == idx || answer == "" {
		return nil
	}
	q := st.Flow.Questions[idx]
	if q.FollowUp == nil || !ShouldTriggerFollowUp(q.FollowUp.Condition, answer, sentiment) {
		return nil
	}
	return followUpOf(q)
}

// followUpOf returns a copy of q's follow-up. Nested follow-ups are dropped.
func followUpOf(q models.Question) *models.Question {
	fu := q.FollowUp.Question
	fu.FollowUp = nil
	return &fu
}

// ShouldTriggerFollowUp evaluates a follow-up condition against an answer.
func ShouldTriggerFollowUp(cond models.FollowUpCondition, answer string, sentiment *float64) bool {
	lower := strings.ToLower(answer)
	switch cond {
	case models.FollowUpNegative:
		if sentiment != nil && *sentiment < negativeSentimentThreshold {
			return true
		}
		return containsAny(lower, negativeKeywords)
	case models.FollowUpPositive:
		if sentiment != nil && *sentiment > positiveSentimentThreshold {
			return true
		}
		return containsAny(lower, positiveKeywords)
	case models.FollowUpSpecificAnswer:
		return containsAny(lower, specificAnswerKeywords)
	default:
		return false
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// Progress returns the 1-based position in the flow. ok is false when the
// state is missing.
func (m *Manager) Progress(ctx context.Context, sessionID string) (p models.Progress, ok bool) {
	st := m.load(ctx, sessionID, "Manager.Progress")
	if st == nil {
		return models.Progress{}, false
	}
	total := len(st.Flow.Questions)
	return models.Progress{Current: min(st.CurrentQuestionIndex+1, total), Total: total}, true
}

// Complete marks the conversation finished.
func (m *Manager) Complete(ctx context.Context, sessionID string) error {
	st := m.load(ctx, sessionID, "Manager.Complete")
	if st == nil || st.IsComplete {
		return nil
	}
	st.IsComplete = true
	st.PendingFollowUp = nil
	return m.save(ctx, st, "Manager.Complete")
}

// Cleanup drops the session's state.
func (m *Manager) Cleanup(ctx context.Context, sessionID string) error {
	if err := m.states.Delete(ctx, sessionID); err != nil {
		slog.Error("Manager.Cleanup: delete failed", "session_id", sessionID, "error", err)
		return err
	}
	slog.Debug("Manager.Cleanup: conversation removed", "session_id", sessionID)
	return nil
}

// Sweep removes conversations not updated within idle and returns how many
// were removed.
func (m *Manager) Sweep(ctx context.Context, idle time.Duration) (int, error) {
	ids, err := m.states.IdleSince(ctx, m.now().Add(-idle))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := m.states.Delete(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		slog.Info("Manager.Sweep: removed idle conversations", "count", removed, "idle", idle)
	}
	return removed, nil
}

func (m *Manager) load(ctx context.Context, sessionID, op string) *models.ConversationState {
	st, err := m.states.Get(ctx, sessionID)
	if errors.Is(err, ErrStateNotFound) {
		slog.Warn(op+": no conversation state", "session_id", sessionID)
		return nil
	}
	if err != nil {
		slog.Error(op+": state lookup failed", "session_id", sessionID, "error", err)
		return nil
	}
	return st
}

func (m *Manager) save(ctx context.Context, st *models.ConversationState, op string) error {
	st.UpdatedAt = m.now()
	if err := m.states.Update(ctx, st); err != nil {
		slog.Error(op+": state write failed", "session_id", st.SessionID, "version", st.Version, "error", err)
		return err
	}
	return nil
}

type sessionLock struct {
	sync.Mutex
	refs int
}

// sessionLocks hands out one mutex per session and forgets it once unused.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	sl, ok := l.locks[id]
	if !ok {
		sl = &sessionLock{}
		l.locks[id] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.Lock()
	return func() {
		sl.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
