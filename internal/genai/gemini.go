package genai

import (
	"context"
	"fmt"
	"iter"
	"strings"

	googlegenai "google.golang.org/genai"
)

// geminiModels is the subset of the Gemini Models service used here.
type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*googlegenai.Content, config *googlegenai.GenerateContentConfig) (*googlegenai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*googlegenai.Content, config *googlegenai.GenerateContentConfig) iter.Seq2[*googlegenai.GenerateContentResponse, error]
	EmbedContent(ctx context.Context, model string, contents []*googlegenai.Content, config *googlegenai.EmbedContentConfig) (*googlegenai.EmbedContentResponse, error)
}

type geminiBackend struct {
	models         geminiModels
	model          string
	embeddingModel string
}

func newGeminiBackend(ctx context.Context, cfg Opts) (*geminiBackend, error) {
	client, err := googlegenai.NewClient(ctx, &googlegenai.ClientConfig{
		APIKey:  cfg.GeminiKey,
		Backend: googlegenai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	b := &geminiBackend{
		models:         client.Models,
		model:          DefaultGeminiModel,
		embeddingModel: DefaultGeminiEmbeddingModel,
	}
	if cfg.Model != "" {
		b.model = cfg.Model
	}
	if cfg.EmbeddingModel != "" {
		b.embeddingModel = cfg.EmbeddingModel
	}
	return b, nil
}

func (b *geminiBackend) name() string { return ProviderGemini }

// request splits system messages into the system instruction and maps the rest to contents.
func (b *geminiBackend) request(messages []Message, opts CompletionOptions) ([]*googlegenai.Content, *googlegenai.GenerateContentConfig) {
	var system []string
	var contents []*googlegenai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, googlegenai.NewContentFromText(m.Content, googlegenai.RoleModel))
		default:
			contents = append(contents, googlegenai.NewContentFromText(m.Content, googlegenai.RoleUser))
		}
	}

	temp := float32(opts.Temperature)
	cfg := &googlegenai.GenerateContentConfig{
		Temperature: &temp,
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if len(system) > 0 {
		cfg.SystemInstruction = googlegenai.NewContentFromText(strings.Join(system, "\n\n"), googlegenai.RoleUser)
	}
	return contents, cfg
}

func (b *geminiBackend) complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	contents, cfg := b.request(messages, opts)
	res, err := b.models.GenerateContent(ctx, b.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	text := res.Text()
	if text == "" {
		return "", ErrNoChoicesReturned
	}
	return text, nil
}

func (b *geminiBackend) stream(ctx context.Context, messages []Message, opts CompletionOptions, emit func(string) error) error {
	contents, cfg := b.request(messages, opts)
	for res, err := range b.models.GenerateContentStream(ctx, b.model, contents, cfg) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if err := emit(res.Text()); err != nil {
			return err
		}
	}
	return nil
}

func (b *geminiBackend) embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*googlegenai.Content, len(texts))
	for i, t := range texts {
		contents[i] = googlegenai.NewContentFromText(t, googlegenai.RoleUser)
	}
	res, err := b.models.EmbedContent(ctx, b.embeddingModel, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embed content: %w", err)
	}
	out := make([][]float32, 0, len(res.Embeddings))
	for _, e := range res.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}
