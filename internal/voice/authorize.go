package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultAuthorizeURL is the platform's web session authorization endpoint.
const DefaultAuthorizeURL = "https://api.layercode.com/v1/agents/web/authorize_session"

const defaultAuthorizeTimeout = 15 * time.Second

var (
	ErrAPIKeyRequired     = errors.New("LAYERCODE_API_KEY is not configured")
	ErrPipelineIDRequired = errors.New("LAYERCODE_PIPELINE_ID is not configured")
	ErrAuthorizeFailed    = errors.New("session authorization failed")
)

// AuthorizeRequest is what the browser widget sends to start or resume a session.
type AuthorizeRequest struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Session is the client credential returned to the browser.
type Session struct {
	ClientSessionKey string          `json:"client_session_key"`
	ConversationID   string          `json:"conversation_id"`
	Config           json.RawMessage `json:"config,omitempty"`
}

// AuthorizerOption configures an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithAuthorizeURL overrides the authorization endpoint.
func WithAuthorizeURL(url string) AuthorizerOption {
	return func(a *Authorizer) { a.url = url }
}

// WithHTTPClient sets the client used for the authorization call.
func WithHTTPClient(c *http.Client) AuthorizerOption {
	return func(a *Authorizer) { a.client = c }
}

// Authorizer exchanges the pipeline id for client session keys.
type Authorizer struct {
	apiKey     string
	pipelineID string
	url        string
	client     *http.Client
}

// NewAuthorizer creates an Authorizer. Both the API key and pipeline id are required.
func NewAuthorizer(apiKey, pipelineID string, opts ...AuthorizerOption) (*Authorizer, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if pipelineID == "" {
		return nil, ErrPipelineIDRequired
	}
	a := &Authorizer{
		apiKey:     apiKey,
		pipelineID: pipelineID,
		url:        DefaultAuthorizeURL,
		client:     &http.Client{Timeout: defaultAuthorizeTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

type authorizeBody struct {
	AgentID        string         `json:"agent_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type authorizeReply struct {
	ClientSessionKey string          `json:"client_session_key"`
	ConversationID   string          `json:"conversation_id"`
	SessionID        string          `json:"session_id"`
	Config           json.RawMessage `json:"config"`
}

// Authorize requests a client session key, resuming req.ConversationID when set.
func (a *Authorizer) Authorize(ctx context.Context, req AuthorizeRequest) (*Session, error) {
	payload, err := json.Marshal(authorizeBody{AgentID: a.pipelineID, ConversationID: req.ConversationID, Metadata: req.Metadata})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthorizeFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading reply: %w", ErrAuthorizeFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := strings.TrimSpace(string(body))
		if detail == "" {
			detail = resp.Status
		}
		slog.Error("Authorizer.Authorize: platform rejected authorization", "status", resp.StatusCode, "detail", detail)
		return nil, fmt.Errorf("%w: %s", ErrAuthorizeFailed, detail)
	}

	var reply authorizeReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("%w: decoding reply: %w", ErrAuthorizeFailed, err)
	}
	s := &Session{ClientSessionKey: reply.ClientSessionKey, ConversationID: reply.ConversationID, Config: reply.Config}
	if s.ConversationID == "" {
		s.ConversationID = reply.SessionID
	}
	slog.Debug("Authorizer.Authorize: session authorized", "conversation_id", s.ConversationID)
	return s, nil
}
