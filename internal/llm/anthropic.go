package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/liliang-cn/policyagent/internal/config"
	"github.com/liliang-cn/policyagent/internal/domain"
)

// AnthropicClient implements the generation half of Capability on the
// Anthropic Messages API. Anthropic has no embedding endpoint, so retrieval
// needs a different provider for indexing and queries.
type AnthropicClient struct {
	client   *anthropic.Client
	model    anthropic.Model
	defaults Defaults
}

// NewAnthropicClient creates an Anthropic client
func NewAnthropicClient(cfg config.AnthropicConfig, defaults Defaults) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: %w", domain.ErrProviderNotConfigured)
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &AnthropicClient{
		client:   &client,
		model:    anthropic.Model(cfg.Model),
		defaults: defaults,
	}, nil
}

// Provider implements Capability
func (c *AnthropicClient) Provider() string {
	return "anthropic"
}

func (c *AnthropicClient) params(messages []ChatMessage, opts GenerateOptions) anthropic.MessageNewParams {
	opts = c.defaults.apply(opts)

	system := []string{}
	if opts.SystemPrompt != "" {
		system = append(system, opts.SystemPrompt)
	}
	var params []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			params = append(params, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params = append(params, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	p := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   int64(opts.MaxTokens),
		Messages:    params,
		Temperature: anthropic.Float(opts.Temperature),
		TopP:        anthropic.Float(opts.TopP),
	}
	if len(system) > 0 {
		p.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	return p
}

func (c *AnthropicClient) complete(ctx context.Context, params anthropic.MessageNewParams) (string, error) {
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.AsText().Text)
		}
	}
	return requireText(b.String())
}

// Generate implements Capability
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return c.complete(ctx, c.params([]ChatMessage{{Role: "user", Content: prompt}}, opts))
}

// GenerateWithHistory implements Capability
func (c *AnthropicClient) GenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (string, error) {
	return c.complete(ctx, c.params(messages, opts))
}

// StreamGenerate implements Capability
func (c *AnthropicClient) StreamGenerate(ctx context.Context, prompt string, opts GenerateOptions, onChunk func(string)) error {
	return c.StreamGenerateWithHistory(ctx, []ChatMessage{{Role: "user", Content: prompt}}, opts, onChunk)
}

// StreamGenerateWithHistory implements Capability
func (c *AnthropicClient) StreamGenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions, onChunk func(string)) error {
	stream := c.client.Messages.NewStreaming(ctx, c.params(messages, opts))
	defer stream.Close()
	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				onChunk(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("anthropic streaming failed: %w", err)
	}
	return nil
}

// GenerateEmbedding is not offered by Anthropic
func (c *AnthropicClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("anthropic embeddings: %w", domain.ErrUnsupported)
}

// GenerateEmbeddingsBatch is not offered by Anthropic
func (c *AnthropicClient) GenerateEmbeddingsBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	return nil, fmt.Errorf("anthropic embeddings: %w", domain.ErrUnsupported)
}
