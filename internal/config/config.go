package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environments
const (
	EnvLocal      = "local"
	EnvProduction = "production"
)

// Config holds all configuration for PolicyAgent
type Config struct {
	Environment string        `mapstructure:"environment"`
	Server      ServerConfig  `mapstructure:"server"`
	Log         LogConfig     `mapstructure:"log"`
	Session     SessionConfig `mapstructure:"session"`
	RAG         RAGConfig     `mapstructure:"rag"`
	LLM         LLMConfig     `mapstructure:"llm"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// SessionConfig holds conversation memory configuration
type SessionConfig struct {
	Timeout                time.Duration `mapstructure:"timeout"`
	CleanupInterval        time.Duration `mapstructure:"cleanup_interval"`
	MaxConversationHistory int           `mapstructure:"max_conversation_history"`
	ArchivePath            string        `mapstructure:"archive_path"`
}

// RAGConfig holds retrieval and ingestion configuration
type RAGConfig struct {
	TopKResults         int     `mapstructure:"top_k_results"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	Rerank              bool    `mapstructure:"rerank"`
	ChunkSize           int     `mapstructure:"chunk_size"`
	ChunkOverlap        int     `mapstructure:"chunk_overlap"`
	EmbeddingBatchSize  int     `mapstructure:"embedding_batch_size"`
	IndexPath           string  `mapstructure:"index_path"`
	Dimension           int     `mapstructure:"dimension"`
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	Provider             string        `mapstructure:"provider"`
	Temperature          float64       `mapstructure:"temperature"`
	MaxTokens            int           `mapstructure:"max_tokens"`
	TopP                 float64       `mapstructure:"top_p"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `mapstructure:"retry_max_interval"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`

	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Azure     AzureConfig     `mapstructure:"azure"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
}

// OpenAIConfig configures the OpenAI provider
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// AzureConfig configures the Azure OpenAI provider
type AzureConfig struct {
	Endpoint            string `mapstructure:"endpoint"`
	APIKey              string `mapstructure:"api_key"`
	APIVersion          string `mapstructure:"api_version"`
	Deployment          string `mapstructure:"deployment"`
	EmbeddingDeployment string `mapstructure:"embedding_deployment"`
}

// GeminiConfig configures the Google Gemini provider
type GeminiConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// AnthropicConfig configures the Anthropic provider
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// OllamaConfig configures an OpenAI-compatible local endpoint
type OllamaConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	// A missing .env is fine
	_ = godotenv.Load()

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables, e.g. POLICYAGENT_LLM_PROVIDER
	v.SetEnvPrefix("POLICYAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", EnvLocal)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000", "http://localhost:8000"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("session.timeout", time.Hour)
	v.SetDefault("session.cleanup_interval", 5*time.Minute)
	v.SetDefault("session.max_conversation_history", 10)
	v.SetDefault("session.archive_path", "./data/transcripts.db")

	v.SetDefault("rag.top_k_results", 5)
	v.SetDefault("rag.similarity_threshold", 0.7)
	v.SetDefault("rag.rerank", false)
	v.SetDefault("rag.chunk_size", 500)
	v.SetDefault("rag.chunk_overlap", 50)
	v.SetDefault("rag.embedding_batch_size", 16)
	v.SetDefault("rag.index_path", "./data/vector_index.db")
	v.SetDefault("rag.dimension", 0)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.top_p", 0.9)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_initial_interval", 2*time.Second)
	v.SetDefault("llm.retry_max_interval", 10*time.Second)
	v.SetDefault("llm.request_timeout", 60*time.Second)

	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.embedding_model", "text-embedding-3-small")

	v.SetDefault("llm.azure.api_version", "2024-02-01")
	v.SetDefault("llm.azure.deployment", "gpt-4")
	v.SetDefault("llm.azure.embedding_deployment", "text-embedding-ada-002")

	v.SetDefault("llm.gemini.model", "gemini-1.5-flash")
	v.SetDefault("llm.gemini.embedding_model", "text-embedding-004")

	v.SetDefault("llm.anthropic.model", "claude-3-5-haiku-latest")

	v.SetDefault("llm.ollama.base_url", "http://localhost:11434/v1")
	v.SetDefault("llm.ollama.model", "qwen2.5:7b")
	v.SetDefault("llm.ollama.embedding_model", "nomic-embed-text")
}

// Validate checks the settings required by the selected environment
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvLocal, EnvProduction:
	default:
		return fmt.Errorf("environment must be %q or %q, got %q", EnvLocal, EnvProduction, c.Environment)
	}

	if c.IsProduction() {
		if c.LLM.Azure.APIKey == "" || c.LLM.Azure.Endpoint == "" {
			return fmt.Errorf("llm.azure.api_key and llm.azure.endpoint are required in production")
		}
	}

	if c.Session.MaxConversationHistory < 1 {
		return fmt.Errorf("session.max_conversation_history must be positive")
	}
	if c.Session.CleanupInterval <= 0 {
		return fmt.Errorf("session.cleanup_interval must be positive")
	}
	if c.RAG.TopKResults < 1 {
		return fmt.Errorf("rag.top_k_results must be positive")
	}
	if c.RAG.SimilarityThreshold < 0 || c.RAG.SimilarityThreshold > 1 {
		return fmt.Errorf("rag.similarity_threshold must be within [0,1]")
	}
	if c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be smaller than rag.chunk_size")
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// ProviderName returns the LLM provider actually in use. Production always
// runs against Azure OpenAI.
func (c *Config) ProviderName() string {
	if c.IsProduction() {
		return "azure"
	}
	return c.LLM.Provider
}

// VectorStoreKind names the vector index backing retrieval
func (c *Config) VectorStoreKind() string {
	return "flat_l2"
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
