package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/liliang-cn/policyagent/internal/config"
	ragodomain "github.com/liliang-cn/rago/v2/pkg/domain"
	"github.com/liliang-cn/rago/v2/pkg/providers"
	"go.uber.org/zap"
)

// RagoClient implements Capability on rago's OpenAI-compatible providers,
// which is how Ollama and other local endpoints are reached.
type RagoClient struct {
	embedder  ragodomain.EmbedderProvider
	generator ragodomain.Generator
	defaults  Defaults
	logger    *zap.Logger
}

// NewRagoClient creates embedder and generator providers for an
// OpenAI-compatible base URL
func NewRagoClient(cfg config.OllamaConfig, defaults Defaults, logger *zap.Logger) (*RagoClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	factory := providers.NewFactory()
	providerCfg := &ragodomain.OpenAIProviderConfig{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		EmbeddingModel: cfg.EmbeddingModel,
		LLMModel:       cfg.Model,
	}

	ctx := context.Background()

	embedder, err := factory.CreateEmbedderProvider(ctx, providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	generator, err := factory.CreateLLMProvider(ctx, providerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	logger.Info("Initialized LLM client",
		zap.String("provider", "ollama"),
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", cfg.Model),
	)
	return &RagoClient{
		embedder:  embedder,
		generator: generator,
		defaults:  defaults,
		logger:    logger.Named("ollama"),
	}, nil
}

// Provider implements Capability
func (c *RagoClient) Provider() string {
	return "ollama"
}

func (c *RagoClient) options(opts GenerateOptions) *ragodomain.GenerationOptions {
	opts = c.defaults.apply(opts)
	return &ragodomain.GenerationOptions{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
}

func withSystem(prompt string, opts GenerateOptions) string {
	if opts.SystemPrompt == "" {
		return prompt
	}
	return opts.SystemPrompt + "\n\n" + prompt
}

// flattenConversation renders a message list as a single prompt
func flattenConversation(messages []ChatMessage) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			parts = append(parts, m.Content)
		case "assistant":
			parts = append(parts, "Assistant: "+m.Content)
		default:
			parts = append(parts, "User: "+m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Generate implements Capability
func (c *RagoClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	text, err := c.generator.Generate(ctx, withSystem(prompt, opts), c.options(opts))
	if err != nil {
		return "", fmt.Errorf("ollama generation failed: %w", err)
	}
	return requireText(text)
}

// GenerateWithHistory implements Capability
func (c *RagoClient) GenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (string, error) {
	return c.Generate(ctx, flattenConversation(messages), opts)
}

// StreamGenerate implements Capability
func (c *RagoClient) StreamGenerate(ctx context.Context, prompt string, opts GenerateOptions, onChunk func(string)) error {
	if err := c.generator.Stream(ctx, withSystem(prompt, opts), c.options(opts), onChunk); err != nil {
		return fmt.Errorf("ollama streaming failed: %w", err)
	}
	return nil
}

// StreamGenerateWithHistory streams the flattened conversation
func (c *RagoClient) StreamGenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions, onChunk func(string)) error {
	return c.StreamGenerate(ctx, flattenConversation(messages), opts, onChunk)
}

// GenerateEmbedding implements Capability
func (c *RagoClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	return toFloat32(vec), nil
}

// GenerateEmbeddingsBatch embeds one text at a time; the provider has no
// batch endpoint.
func (c *RagoClient) GenerateEmbeddingsBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := c.GenerateEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
