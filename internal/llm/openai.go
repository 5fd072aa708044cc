package llm

import (
	"context"
	"fmt"
	"sort"

	"github.com/liliang-cn/policyagent/internal/config"
	"github.com/liliang-cn/policyagent/internal/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// OpenAIClient implements Capability for the OpenAI Chat Completions and
// Embeddings APIs. The same client serves Azure OpenAI, where the model
// names are deployment names.
type OpenAIClient struct {
	client         *openai.Client
	provider       string
	model          string
	embeddingModel string
	defaults       Defaults
	logger         *zap.Logger
}

// NewOpenAIClient creates a client for api.openai.com or a compatible base URL
func NewOpenAIClient(cfg config.OpenAIConfig, defaults Defaults, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", domain.ErrProviderNotConfigured)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return newOpenAIClient(&client, "openai", cfg.Model, cfg.EmbeddingModel, defaults, logger), nil
}

// NewAzureClient creates a client for an Azure OpenAI resource
func NewAzureClient(cfg config.AzureConfig, defaults Defaults, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" || cfg.Endpoint == "" {
		return nil, fmt.Errorf("azure: %w", domain.ErrProviderNotConfigured)
	}
	client := openai.NewClient(
		azure.WithEndpoint(cfg.Endpoint, cfg.APIVersion),
		azure.WithAPIKey(cfg.APIKey),
	)
	return newOpenAIClient(&client, "azure", cfg.Deployment, cfg.EmbeddingDeployment, defaults, logger), nil
}

func newOpenAIClient(client *openai.Client, provider, model, embeddingModel string, defaults Defaults, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Initialized LLM client", zap.String("provider", provider), zap.String("model", model))
	return &OpenAIClient{
		client:         client,
		provider:       provider,
		model:          model,
		embeddingModel: embeddingModel,
		defaults:       defaults,
		logger:         logger.Named(provider),
	}
}

// Provider implements Capability
func (c *OpenAIClient) Provider() string {
	return c.provider
}

func (c *OpenAIClient) params(messages []openai.ChatCompletionMessageParamUnion, opts GenerateOptions) openai.ChatCompletionNewParams {
	opts = c.defaults.apply(opts)
	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(opts.Temperature),
		MaxTokens:   openai.Int(int64(opts.MaxTokens)),
		TopP:        openai.Float(opts.TopP),
	}
}

func promptMessages(prompt string, opts GenerateOptions) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(opts.SystemPrompt))
	}
	return append(messages, openai.UserMessage(prompt))
}

// toOpenAIMessages converts messages, leading with opts.SystemPrompt unless
// the conversation already opens with a system message.
func toOpenAIMessages(messages []ChatMessage, opts GenerateOptions) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if opts.SystemPrompt != "" && (len(messages) == 0 || messages[0].Role != "system") {
		out = append(out, openai.SystemMessage(opts.SystemPrompt))
	}
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (c *OpenAIClient) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s chat completion failed: %w", c.provider, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices returned: %w", c.provider, domain.ErrEmptyResponse)
	}
	return requireText(completion.Choices[0].Message.Content)
}

// Generate implements Capability
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return c.complete(ctx, c.params(promptMessages(prompt, opts), opts))
}

// GenerateWithHistory implements Capability
func (c *OpenAIClient) GenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (string, error) {
	return c.complete(ctx, c.params(toOpenAIMessages(messages, opts), opts))
}

// StreamGenerate implements Capability
func (c *OpenAIClient) StreamGenerate(ctx context.Context, prompt string, opts GenerateOptions, onChunk func(string)) error {
	return c.stream(ctx, c.params(promptMessages(prompt, opts), opts), onChunk)
}

// StreamGenerateWithHistory implements Capability
func (c *OpenAIClient) StreamGenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions, onChunk func(string)) error {
	return c.stream(ctx, c.params(toOpenAIMessages(messages, opts), opts), onChunk)
}

func (c *OpenAIClient) stream(ctx context.Context, params openai.ChatCompletionNewParams, onChunk func(string)) error {
	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onChunk(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("%s streaming failed: %w", c.provider, err)
	}
	return nil
}

// GenerateEmbedding implements Capability
func (c *OpenAIClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// GenerateEmbeddingsBatch sends one request per batch
func (c *OpenAIClient) GenerateEmbeddingsBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, batchSize) {
		vecs, err := c.embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *OpenAIClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("%s embedding failed: %w", c.provider, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%s: expected %d embeddings, got %d", c.provider, len(texts), len(resp.Data))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = toFloat32(d.Embedding)
	}
	return out, nil
}
