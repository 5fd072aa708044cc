// Package llm defines the generation and embedding capability consumed by
// the agent, with one implementation per provider and a retrying decorator.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/liliang-cn/policyagent/internal/config"
	"github.com/liliang-cn/policyagent/internal/domain"
	"go.uber.org/zap"
)

// ChatMessage is a role/content pair sent to the model
type ChatMessage struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// GenerateOptions carries sampling parameters for one call.
// Zero values fall back to the client defaults.
type GenerateOptions struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	TopP         float64
}

// Capability is everything the core needs from a model provider
type Capability interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	GenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (string, error)
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddingsBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	StreamGenerate(ctx context.Context, prompt string, opts GenerateOptions, onChunk func(string)) error
	StreamGenerateWithHistory(ctx context.Context, messages []ChatMessage, opts GenerateOptions, onChunk func(string)) error
	Provider() string
}

// Defaults are the configured sampling parameters
type Defaults struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// apply fills zero fields of opts from the defaults
func (d Defaults) apply(opts GenerateOptions) GenerateOptions {
	if opts.Temperature == 0 {
		opts.Temperature = d.Temperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = d.MaxTokens
	}
	if opts.TopP == 0 {
		opts.TopP = d.TopP
	}
	return opts
}

// New builds the capability selected by configuration, wrapped with retries
func New(cfg *config.Config, logger *zap.Logger) (Capability, error) {
	defaults := Defaults{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		TopP:        cfg.LLM.TopP,
	}

	var (
		client Capability
		err    error
	)
	switch strings.ToLower(cfg.ProviderName()) {
	case "openai":
		client, err = NewOpenAIClient(cfg.LLM.OpenAI, defaults, logger)
	case "azure":
		client, err = NewAzureClient(cfg.LLM.Azure, defaults, logger)
	case "gemini":
		client, err = NewGeminiClient(cfg.LLM.Gemini, defaults, logger)
	case "anthropic":
		client, err = NewAnthropicClient(cfg.LLM.Anthropic, defaults)
	case "ollama":
		client, err = NewRagoClient(cfg.LLM.Ollama, defaults, logger)
	case "mock":
		client = NewMockClient()
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewRetrying(client, RetryPolicy{
		MaxAttempts:     cfg.LLM.MaxRetries,
		InitialInterval: cfg.LLM.RetryInitialInterval,
		MaxInterval:     cfg.LLM.RetryMaxInterval,
		Timeout:         cfg.LLM.RequestTimeout,
	}, logger), nil
}

// batches splits texts into slices of at most size elements
func batches(texts []string, size int) [][]string {
	if size <= 0 {
		size = 16
	}
	var out [][]string
	for i := 0; i < len(texts); i += size {
		end := i + size
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, texts[i:end])
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func requireText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ErrEmptyResponse
	}
	return text, nil
}
