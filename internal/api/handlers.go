package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/BTreeMap/VoiceFAQ/internal/models"
	"github.com/BTreeMap/VoiceFAQ/internal/voice"
)

// anonymousSessionPrefix starts the generated id of a tracking ping sent
// without a session id; each such ping gets its own session.
const anonymousSessionPrefix = "anon-"

// ChatRequest is the text chat body.
type ChatRequest struct {
	Message string `json:"message" validate:"required,max=4096"`
}

// ChatResponse answers a text chat message.
type ChatResponse struct {
	Response   string   `json:"response"`
	Type       string   `json:"type"`
	Confidence *float64 `json:"confidence,omitempty"`
	Resources  []string `json:"resources"`
}

// Chat answer sources.
const (
	ChatTypeFAQ = "faq"
	ChatTypeAI  = "ai"
)

func (s *Server) trackHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "Server.trackHandler") {
		return
	}
	logger := LoggerFromContext(r.Context())

	var req models.TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Tracking never breaks the widget.
		logger.Warn("Server.trackHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusOK, models.TrackResult{Success: true})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		logger.Warn("Server.trackHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusOK, models.TrackResult{Success: false, Error: "Invalid tracking request"})
		return
	}
	if req.SessionID == "" {
		req.SessionID = anonymousSessionPrefix + uuid.NewString()
	}

	if err := s.store.TrackQuestion(r.Context(), req); err != nil {
		logger.Error("Server.trackHandler: failed to track question", "error", err, "session_id", req.SessionID)
		writeJSONResponse(w, http.StatusOK, models.TrackResult{Success: false, Error: "Tracking failed"})
		return
	}
	logger.Debug("Server.trackHandler: question tracked", "session_id", req.SessionID, "matched", req.Matched)
	writeJSONResponse(w, http.StatusOK, models.TrackResult{Success: true})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, "Server.statsHandler") {
		return
	}
	setNoCache(w)
	stats, err := s.store.Stats(r.Context(), s.now())
	if err != nil {
		LoggerFromContext(r.Context()).Error("Server.statsHandler: failed to load stats", "error", err)
		stats = &models.Stats{RecentSessions: []models.RecentSession{}}
	}
	writeJSONResponse(w, http.StatusOK, stats)
}

func (s *Server) authorizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "Server.authorizeHandler") {
		return
	}
	logger := LoggerFromContext(r.Context())
	if s.authorizer == nil {
		logger.Error("Server.authorizeHandler: voice platform not configured")
		writeError(w, http.StatusInternalServerError, voice.ErrAPIKeyRequired.Error())
		return
	}

	var req voice.AuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("Server.authorizeHandler: failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	session, err := s.authorizer.Authorize(r.Context(), req)
	if err != nil {
		logger.Error("Server.authorizeHandler: authorization failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, session)
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if !allowMethod(w, r, http.MethodPost, "Server.chatHandler") {
		return
	}
	ctx := r.Context()
	logger := LoggerFromContext(ctx)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("Server.chatHandler: failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	match := s.lexical.Match(req.Message)
	if match == nil && s.semantic != nil {
		m, err := s.semantic.Match(ctx, req.Message)
		if err != nil {
			logger.Warn("Server.chatHandler: semantic lookup failed", "error", err)
		}
		match = m
	}
	if match != nil {
		logger.Debug("Server.chatHandler: answered from corpus", "category", match.Category, "confidence", match.Confidence)
		confidence := match.Confidence
		resources := match.Resources
		if resources == nil {
			resources = []string{}
		}
		writeJSONResponse(w, http.StatusOK, ChatResponse{Response: match.Answer, Type: ChatTypeFAQ, Confidence: &confidence, Resources: resources})
		return
	}

	reply, resources, err := s.responder.Answer(ctx, req.Message)
	if err != nil {
		logger.Error("Server.chatHandler: failed to generate answer", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}
	writeJSONResponse(w, http.StatusOK, ChatResponse{Response: reply, Type: ChatTypeAI, Resources: resources})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, "Server.healthHandler") {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}
