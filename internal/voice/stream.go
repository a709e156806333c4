package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// Response frame types.
const (
	FrameTTS  = "response.tts"
	FrameData = "response.data"
	FrameEnd  = "response.end"
)

// ErrStreamEnded is returned when writing after End.
var ErrStreamEnded = errors.New("response stream already ended")

type frame struct {
	Type    string `json:"type"`
	Content any    `json:"content,omitempty"`
	TurnID  string `json:"turn_id,omitempty"`
}

// Stream writes a turn's reply as server-sent events. It is safe for
// concurrent use; frames are flushed as they are written.
type Stream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	turnID  string
	ended   bool
}

// NewStream writes the event-stream headers and returns a stream for turnID.
func NewStream(w http.ResponseWriter, turnID string) *Stream {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s := &Stream{w: w, turnID: turnID}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
		f.Flush()
	}
	return s
}

// TTS queues text to be spoken. Empty text is ignored.
func (s *Stream) TTS(text string) error {
	if text == "" {
		return nil
	}
	return s.write(frame{Type: FrameTTS, Content: text, TurnID: s.turnID})
}

// Data sends a JSON payload to the client UI.
func (s *Stream) Data(v any) error {
	return s.write(frame{Type: FrameData, Content: v, TurnID: s.turnID})
}

// End terminates the turn. Later calls are no-ops.
func (s *Stream) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	err := s.writeLocked(frame{Type: FrameEnd, TurnID: s.turnID})
	s.ended = true
	return err
}

// Ended reports whether End has been called.
func (s *Stream) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Stream) write(f frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrStreamEnded
	}
	return s.writeLocked(f)
}

func (s *Stream) writeLocked(f frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", f.Type, err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		slog.Warn("Stream.write: client went away", "frame", f.Type, "turn_id", s.turnID, "error", err)
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
