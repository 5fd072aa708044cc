package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/liliang-cn/policyagent/internal/config"
	"github.com/liliang-cn/policyagent/internal/domain"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiClient implements Capability for Google Gemini.
type GeminiClient struct {
	client         *genai.Client
	model          string
	embeddingModel string
	defaults       Defaults
	logger         *zap.Logger
}

// NewGeminiClient creates a Gemini API client
func NewGeminiClient(cfg config.GeminiConfig, defaults Defaults, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", domain.ErrProviderNotConfigured)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logger.Info("Initialized LLM client", zap.String("provider", "gemini"), zap.String("model", cfg.Model))
	return &GeminiClient{
		client:         client,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		defaults:       defaults,
		logger:         logger.Named("gemini"),
	}, nil
}

// Provider implements Capability
func (c *GeminiClient) Provider() string {
	return "gemini"
}

func (c *GeminiClient) generationConfig(opts GenerateOptions) *genai.GenerateContentConfig {
	opts = c.defaults.apply(opts)
	temperature := float32(opts.Temperature)
	topP := float32(opts.TopP)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		TopP:            &topP,
		MaxOutputTokens: int32(opts.MaxTokens),
	}
	if opts.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.SystemPrompt, genai.RoleUser)
	}
	return cfg
}

// toGeminiContents maps roles; Gemini calls the assistant "model" and has
// no system role inside the conversation, so system turns become the
// system instruction.
func toGeminiContents(messages []ChatMessage) ([]*genai.Content, string) {
	var (
		contents []*genai.Content
		system   []string
	)
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" && !part.Thought {
				b.WriteString(part.Text)
			}
		}
		break
	}
	return b.String()
}

func (c *GeminiClient) generate(ctx context.Context, contents []*genai.Content, opts GenerateOptions) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.generationConfig(opts))
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	text := responseText(resp)
	if text == "" && resp != nil && resp.PromptFeedback != nil {
		c.logger.Warn("Gemini returned no text", zap.String("block_reason", string(resp.PromptFeedback.BlockReason)))
	}
	return requireText(text)
}

// Generate implements Capability
func (c *GeminiClient) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return c.generate(ctx, []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, opts)
}

// GenerateWithHistory implements Capability
func (c *GeminiClient) GenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (string, error) {
	contents, opts := historyContents(messages, opts)
	return c.generate(ctx, contents, opts)
}

// historyContents converts messages; in-conversation system turns are used
// when opts carries no system prompt.
func historyContents(messages []ChatMessage, opts GenerateOptions) ([]*genai.Content, GenerateOptions) {
	contents, system := toGeminiContents(messages)
	if system != "" && opts.SystemPrompt == "" {
		opts.SystemPrompt = system
	}
	return contents, opts
}

// StreamGenerate implements Capability
func (c *GeminiClient) StreamGenerate(ctx context.Context, prompt string, opts GenerateOptions, onChunk func(string)) error {
	return c.stream(ctx, []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, opts, onChunk)
}

// StreamGenerateWithHistory implements Capability
func (c *GeminiClient) StreamGenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions, onChunk func(string)) error {
	contents, opts := historyContents(messages, opts)
	return c.stream(ctx, contents, opts, onChunk)
}

func (c *GeminiClient) stream(ctx context.Context, contents []*genai.Content, opts GenerateOptions, onChunk func(string)) error {
	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, c.generationConfig(opts)) {
		if err != nil {
			return fmt.Errorf("gemini streaming failed: %w", err)
		}
		if text := responseText(resp); text != "" {
			onChunk(text)
		}
	}
	return nil
}

// GenerateEmbedding implements Capability
func (c *GeminiClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// GenerateEmbeddingsBatch implements Capability
func (c *GeminiClient) GenerateEmbeddingsBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
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

func (c *GeminiClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents, &genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}
