package models

import (
	"errors"
	"time"
)

// QuestionType tags how a survey question expects to be answered.
type QuestionType string

const (
	QuestionTypeOpen           QuestionType = "open"
	QuestionTypeRating         QuestionType = "rating"
	QuestionTypeYesNo          QuestionType = "yes_no"
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
)

// FollowUpCondition names the trigger that decides whether a follow-up is asked.
type FollowUpCondition string

const (
	FollowUpNegative       FollowUpCondition = "negative"
	FollowUpPositive       FollowUpCondition = "positive"
	FollowUpSpecificAnswer FollowUpCondition = "specific_answer"
)

var (
	ErrEmptyFlow           = errors.New("question flow has no questions")
	ErrEmptyQuestionID     = errors.New("question id cannot be empty")
	ErrDuplicateQuestion   = errors.New("duplicate question id in flow")
	ErrEmptyQuestionText   = errors.New("question text cannot be empty")
	ErrInvalidQuestionType = errors.New("invalid question type")
	ErrInvalidCondition    = errors.New("invalid follow-up condition")
)

// IsValidQuestionType checks if the given question type is supported.
func IsValidQuestionType(t QuestionType) bool {
	switch t {
	case QuestionTypeOpen, QuestionTypeRating, QuestionTypeYesNo, QuestionTypeMultipleChoice:
		return true
	default:
		return false
	}
}

// FollowUp is an optional side-question asked when Condition fires.
type FollowUp struct {
	Condition FollowUpCondition `json:"condition"`
	Question  Question          `json:"question"`
}

// Question is a single survey prompt.
type Question struct {
	ID       string       `json:"id"`
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
	Options  []string     `json:"options,omitempty"`
	FollowUp *FollowUp    `json:"followUp,omitempty"`
}

// QuestionFlow is an immutable survey definition.
type QuestionFlow struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Questions       []Question `json:"questions"`
	WelcomeMessage  string     `json:"welcomeMessage"`
	ThankYouMessage string     `json:"thankYouMessage"`
}

// Validate checks that the flow can drive a conversation.
func (f *QuestionFlow) Validate() error {
	if len(f.Questions) == 0 {
		return ErrEmptyFlow
	}
	seen := make(map[string]struct{}, len(f.Questions))
	for _, q := range f.Questions {
		if err := q.validate(); err != nil {
			return err
		}
		if _, dup := seen[q.ID]; dup {
			return ErrDuplicateQuestion
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

func (q *Question) validate() error {
	if q.ID == "" {
		return ErrEmptyQuestionID
	}
	if q.Text == "" {
		return ErrEmptyQuestionText
	}
	if !IsValidQuestionType(q.Type) {
		return ErrInvalidQuestionType
	}
	if q.FollowUp != nil {
		switch q.FollowUp.Condition {
		case FollowUpNegative, FollowUpPositive, FollowUpSpecificAnswer:
		default:
			return ErrInvalidCondition
		}
		return q.FollowUp.Question.validate()
	}
	return nil
}

// Response is a recorded answer to one question.
type Response struct {
	QuestionID   string    `json:"questionId"`
	QuestionText string    `json:"questionText"`
	UserResponse string    `json:"userResponse"`
	Sentiment    *float64  `json:"sentiment,omitempty"`
	AnsweredAt   time.Time `json:"answeredAt"`
}

// Progress is the 1-based position within a flow.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// ConversationState is the mutable per-session survey state.
//
// PendingFollowUp is the follow-up that has been asked and awaits its answer;
// it is cleared when that answer arrives, and the pointer then moves past the
// parent question. FollowUpAsked holds the main index whose follow-up has
// already been issued (-1 when none), so the same trigger cannot fire twice
// for one question.
type ConversationState struct {
	SessionID            string       `json:"sessionId"`
	CurrentQuestionIndex int          `json:"currentQuestionIndex"`
	Flow                 QuestionFlow `json:"flow"`
	Responses            []Response   `json:"responses"`
	IsComplete           bool         `json:"isComplete"`
	PendingFollowUp      *Question    `json:"pendingFollowUp,omitempty"`
	FollowUpAsked        int          `json:"followUpAsked"`
	Version              int64        `json:"version"`
	CreatedAt            time.Time    `json:"createdAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}

// NewConversationState returns fresh state positioned at the first question.
func NewConversationState(sessionID string, flow QuestionFlow, now time.Time) *ConversationState {
	return &ConversationState{
		SessionID:     sessionID,
		Flow:          flow,
		Responses:     []Response{},
		FollowUpAsked: -1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy. Flow is immutable and shared.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	c := *s
	c.Responses = make([]Response, len(s.Responses))
	for i, r := range s.Responses {
		c.Responses[i] = r
		if r.Sentiment != nil {
			v := *r.Sentiment
			c.Responses[i].Sentiment = &v
		}
	}
	if s.PendingFollowUp != nil {
		q := *s.PendingFollowUp
		c.PendingFollowUp = &q
	}
	return &c
}

// AverageSentiment averages the scored responses; 0 when none are scored.
func (s *ConversationState) AverageSentiment() float64 {
	return AverageSentiment(s.Responses)
}

// AverageSentiment averages the scored responses; 0 when none are scored.
func AverageSentiment(responses []Response) float64 {
	var sum float64
	var n int
	for _, r := range responses {
		if r.Sentiment != nil {
			sum += *r.Sentiment
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// ClampSentiment bounds a score to [-1, 1].
func ClampSentiment(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
