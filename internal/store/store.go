// Package store provides storage backends for VoiceFAQ.
//
// It persists conversation sessions, tracked FAQ questions, survey responses
// and per-session metrics, and serves the active question flow. Backends are
// Supabase (hosted PostgREST), PostgreSQL, SQLite and an in-memory store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/VoiceFAQ/internal/models"
)

var (
	// ErrSessionNotFound is returned when a session row does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoActiveFlow is returned when no question flow is marked active.
	ErrNoActiveFlow = errors.New("no active question flow")
	// ErrDSNRequired is returned when a SQL store is opened without a DSN.
	ErrDSNRequired = errors.New("database DSN not set")
)

// Dashboard windows.
const (
	ActiveWindow       = 5 * time.Minute
	RecentSessionLimit = 10
)

// DefaultMessageCategory is used for survey questions logged as messages.
const DefaultMessageCategory = "feedback"

// Store is the persistence surface used by the API.
type Store interface {
	// EnsureSession creates the session row if it does not exist. When the
	// row exists and totalQuestions is positive, its total is updated.
	EnsureSession(ctx context.Context, sessionID, pageURL string, totalQuestions int) error
	// TrackQuestion counts an FAQ question against its session, creating the
	// session on first sight, and appends a message row.
	TrackQuestion(ctx context.Context, req models.TrackRequest) error
	// StoreMessage appends a conversation message.
	StoreMessage(ctx context.Context, msg models.MessageRecord) error
	// StoreResponse appends a survey answer.
	StoreResponse(ctx context.Context, resp models.ResponseRecord) error
	// UpdateSessionMetrics records the completed question count and end time.
	UpdateSessionMetrics(ctx context.Context, sessionID string, completedQuestions int, endedAt time.Time) error
	// SessionStartedAt returns when the session began, or ErrSessionNotFound.
	SessionStartedAt(ctx context.Context, sessionID string) (time.Time, error)
	// StoreMetrics appends aggregate metrics for a finished session.
	StoreMetrics(ctx context.Context, m models.SessionMetrics) error
	// Stats summarizes sessions for the dashboard as of now.
	Stats(ctx context.Context, now time.Time) (*models.Stats, error)
	// ActiveFlow returns the active question flow or ErrNoActiveFlow.
	ActiveFlow(ctx context.Context) (*models.QuestionFlow, error)
	// Close releases the backend.
	Close() error
}
