// Package voice adapts the voice platform: the webhook event model, the
// server-sent response stream, webhook signatures and the session
// authorization call.
package voice

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the kind of a webhook delivery.
type EventType string

const (
	EventSessionStart  EventType = "session.start"
	EventSessionUpdate EventType = "session.update"
	EventSessionEnd    EventType = "session.end"
	EventMessage       EventType = "message"
	EventInterimDelta  EventType = "user.transcript.interim_delta"
)

// UnknownConversation keys events that carry neither a conversation nor a session id.
const UnknownConversation = "unknown"

// ErrMissingEventType is returned by DecodeEvent for a body without a type.
var ErrMissingEventType = errors.New("webhook event has no type")

// InterruptionContext describes a user barging in on the previous reply.
type InterruptionContext struct {
	PreviousTurnInterrupted bool   `json:"previous_turn_interrupted"`
	WordsHeard              int    `json:"words_heard"`
	TextHeard               string `json:"text_heard"`
	AssistantTurnID         string `json:"assistant_turn_id,omitempty"`
}

// Event is one webhook delivery from the voice platform.
type Event struct {
	Type                EventType            `json:"type"`
	ConversationID      string               `json:"conversation_id"`
	SessionID           string               `json:"session_id,omitempty"`
	Text                string               `json:"text,omitempty"`
	TurnID              string               `json:"turn_id,omitempty"`
	InterruptionContext *InterruptionContext `json:"interruption_context,omitempty"`
	Content             string               `json:"content,omitempty"`
	DeltaCounter        int                  `json:"delta_counter,omitempty"`
}

// ConversationKey is the id conversation state is stored under.
func (e Event) ConversationKey() string {
	switch {
	case e.ConversationID != "":
		return e.ConversationID
	case e.SessionID != "":
		return e.SessionID
	default:
		return UnknownConversation
	}
}

// Interrupted reports whether the user cut off the previous reply.
func (e Event) Interrupted() bool {
	return e.InterruptionContext != nil && e.InterruptionContext.PreviousTurnInterrupted
}

// DecodeEvent parses a webhook body.
func DecodeEvent(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("decoding webhook event: %w", err)
	}
	if e.Type == "" {
		return Event{}, ErrMissingEventType
	}
	return e, nil
}
