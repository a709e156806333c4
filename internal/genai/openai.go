package genai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chunkStream is satisfied by the SDK's SSE stream.
type chunkStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

// chatService defines the minimal OpenAI surface used for chat and embeddings.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
	CreateStreaming(ctx context.Context, params openai.ChatCompletionNewParams) chunkStream
	Embed(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error)
}

// sdkChatService adapts openai.Client to chatService.
type sdkChatService struct {
	client openai.Client
}

func (s *sdkChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return s.client.Chat.Completions.New(ctx, params)
}

func (s *sdkChatService) CreateStreaming(ctx context.Context, params openai.ChatCompletionNewParams) chunkStream {
	return s.client.Chat.Completions.NewStreaming(ctx, params)
}

func (s *sdkChatService) Embed(ctx context.Context, params openai.EmbeddingNewParams) (*openai.CreateEmbeddingResponse, error) {
	return s.client.Embeddings.New(ctx, params)
}

type openAIBackend struct {
	chat           chatService
	model          string
	embeddingModel string
}

func newOpenAIBackend(cfg Opts) *openAIBackend {
	b := &openAIBackend{
		chat:           &sdkChatService{client: openai.NewClient(option.WithAPIKey(cfg.OpenAIKey))},
		model:          DefaultOpenAIModel,
		embeddingModel: DefaultOpenAIEmbeddingModel,
	}
	if cfg.Model != "" {
		b.model = cfg.Model
	}
	if cfg.EmbeddingModel != "" {
		b.embeddingModel = cfg.EmbeddingModel
	}
	return b
}

func (b *openAIBackend) name() string { return ProviderOpenAI }

func (b *openAIBackend) params(messages []Message, opts CompletionOptions) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	p := openai.ChatCompletionNewParams{
		Messages:    msgs,
		Model:       openai.ChatModel(b.model),
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		p.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	return p
}

func (b *openAIBackend) complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	resp, err := b.chat.Create(ctx, b.params(messages, opts))
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *openAIBackend) stream(ctx context.Context, messages []Message, opts CompletionOptions, emit func(string) error) error {
	s := b.chat.CreateStreaming(ctx, b.params(messages, opts))
	defer s.Close()
	for s.Next() {
		chunk := s.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if err := emit(chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("openai chat stream: %w", err)
	}
	return nil
}

func (b *openAIBackend) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := b.chat.Embed(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(b.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
