// Package genai provides LLM completion, streaming and embedding operations
// behind a single client that delegates to the configured provider (OpenAI or Gemini).
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Provider names accepted by WithProvider.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Default model identifiers.
const (
	DefaultOpenAIModel          = "gpt-4-1106-preview"
	DefaultGeminiModel          = "gemini-2.5-flash-lite"
	DefaultOpenAIEmbeddingModel = "text-embedding-3-small"
	DefaultGeminiEmbeddingModel = "text-embedding-004"
)

var (
	// ErrNoChoicesReturned is returned when the provider answers without any text.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrMissingAPIKey is returned by New when the selected provider has no key.
	ErrMissingAPIKey = errors.New("api key not set for selected provider")
	// ErrUnknownProvider is returned by New for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown AI provider")
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a role-tagged chat message.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// CompletionOptions carries per-call sampling settings. Zero MaxTokens means provider default.
type CompletionOptions struct {
	Temperature float64
	MaxTokens   int
}

// backend is implemented by each provider variant.
type backend interface {
	name() string
	complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)
	stream(ctx context.Context, messages []Message, opts CompletionOptions, emit func(string) error) error
	embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	Provider       string
	OpenAIKey      string
	GeminiKey      string
	Model          string
	EmbeddingModel string
}

// Option defines a functional option for configuring the GenAI client.
type Option func(*Opts)

// WithProvider selects "openai" (default) or "gemini".
func WithProvider(name string) Option {
	return func(o *Opts) { o.Provider = name }
}

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.OpenAIKey = key }
}

// WithGeminiAPIKey sets the Gemini API key.
func WithGeminiAPIKey(key string) Option {
	return func(o *Opts) { o.GeminiKey = key }
}

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithEmbeddingModel overrides the embedding model.
func WithEmbeddingModel(model string) Option {
	return func(o *Opts) { o.EmbeddingModel = model }
}

// Client wraps the selected provider.
type Client struct {
	b backend
}

// NewClient builds a client for the configured provider. A missing key for the
// selected provider is a configuration error.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}
	slog.Debug("genai.NewClient: configuring provider", "provider", provider, "model_override", cfg.Model != "")

	switch provider {
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrMissingAPIKey)
		}
		return &Client{b: newOpenAIBackend(cfg)}, nil
	case ProviderGemini:
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrMissingAPIKey)
		}
		b, err := newGeminiBackend(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		return &Client{b: b}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// Name reports the active provider.
func (c *Client) Name() string {
	return c.b.name()
}

// GenerateCompletion returns the trimmed completion text.
func (c *Client) GenerateCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	text, err := c.b.complete(ctx, messages, opts)
	if err != nil {
		slog.Error("Client.GenerateCompletion: provider call failed", "provider", c.b.name(), "error", err)
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// StreamCompletion starts a streaming completion. Tokens are produced on a
// background goroutine until the provider finishes or ctx is cancelled.
func (c *Client) StreamCompletion(ctx context.Context, messages []Message, opts CompletionOptions) (*TokenStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewTokenStream(ctx, func(emit func(string) error) error {
		err := c.b.stream(ctx, messages, opts, emit)
		if err != nil {
			slog.Error("Client.StreamCompletion: provider stream failed", "provider", c.b.name(), "error", err)
		}
		return err
	}), nil
}

// Embed returns one vector per input text, in order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := c.b.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}
