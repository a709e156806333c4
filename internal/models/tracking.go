package models

import "time"

// TrackRequest is the widget's per-question analytics ping.
type TrackRequest struct {
	SessionID string `json:"session_id" validate:"max=256"`
	Question  string `json:"question" validate:"max=4096"`
	Matched   bool   `json:"matched"`
	Category  string `json:"category" validate:"max=256"`
	PageURL   string `json:"page_url" validate:"omitempty,max=2048"`
}

// TrackResult is always returned by the tracking endpoint.
type TrackResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SessionRecord mirrors a conversation_sessions row.
type SessionRecord struct {
	ID                 int64      `json:"id"`
	SessionID          string     `json:"session_id"`
	PageURL            string     `json:"page_url"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at"`
	TotalQuestions     int        `json:"total_questions"`
	CompletedQuestions int        `json:"completed_questions"`
	MatchedQuestions   int        `json:"matched_questions"`
	CreatedAt          time.Time  `json:"created_at"`
}

// MessageRecord mirrors a conversation_messages row.
type MessageRecord struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question"`
	Matched   bool   `json:"matched"`
	Category  string `json:"category,omitempty"`
}

// ResponseRecord mirrors a feedback_responses row.
type ResponseRecord struct {
	SessionID      string    `json:"session_id"`
	QuestionID     string    `json:"question_id"`
	QuestionText   string    `json:"question_text"`
	UserResponse   string    `json:"user_response"`
	SentimentScore *float64  `json:"sentiment_score"`
	CreatedAt      time.Time `json:"created_at"`
}

// SessionMetrics mirrors a feedback_metrics row.
type SessionMetrics struct {
	SessionID        string  `json:"session_id"`
	CompletionRate   float64 `json:"completion_rate"`
	TotalDuration    int64   `json:"total_duration"`
	SentimentAverage float64 `json:"sentiment_average"`
	NPSScore         *int    `json:"nps_score"`
}

// RecentSession is a session with its recorded answers, newest first in Stats.
type RecentSession struct {
	SessionRecord
	Responses []ResponseRecord `json:"responses"`
}

// Stats is the dashboard summary.
type Stats struct {
	Total          int64           `json:"total"`
	Today          int64           `json:"today"`
	CompletionRate int             `json:"completionRate"`
	ActiveNow      int64           `json:"activeNow"`
	RecentSessions []RecentSession `json:"recentSessions"`
}
