// Package config provides configuration management for farmmemory.
// It loads settings from environment variables with the FARMMEM_ prefix,
// optionally seeded from a .env file, and provides sensible defaults for
// every option.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "FARMMEM_"

// Config holds all configuration settings for the application.
type Config struct {
	Storage StorageConfig `envPrefix:"STORAGE_"`
	LLM     LLMConfig     `envPrefix:"LLM_"`
	Memory  MemoryConfig  `envPrefix:"MEMORY_"`
	Log     LogConfig     `envPrefix:"LOG_"`
}

// StorageConfig contains repository and vector index configuration.
type StorageConfig struct {
	Engine      string `env:"ENGINE" envDefault:"sqlite"`   // Vector index backend: sqlite or postgres
	DataPath    string `env:"DATA_PATH" envDefault:"./data"` // Directory holding the SQLite database
	PostgresDSN string `env:"POSTGRES_DSN"`                  // Required when Engine is postgres
}

// LLMConfig contains completion and embedding provider configuration.
type LLMConfig struct {
	Provider        string        `env:"PROVIDER" envDefault:"openai"`                        // Completion provider: openai, anthropic or ollama
	OpenAIBaseURL   string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com"` // Any OpenAI-compatible endpoint
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIModel     string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string        `env:"ANTHROPIC_MODEL" envDefault:"claude-haiku-4-5-20251001"`
	OllamaURL       string        `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaModel     string        `env:"OLLAMA_MODEL" envDefault:"qwen2.5:7b"`
	Temperature     float64       `env:"TEMPERATURE" envDefault:"0.3"`
	MaxTokens       int           `env:"MAX_TOKENS" envDefault:"512"`
	Timeout         time.Duration `env:"TIMEOUT" envDefault:"30s"`

	EmbeddingProvider  string        `env:"EMBEDDING_PROVIDER" envDefault:"ollama"` // openai or ollama; anthropic has no embeddings API
	EmbeddingModel     string        `env:"EMBEDDING_MODEL" envDefault:"all-minilm"`
	EmbeddingDimension int           `env:"EMBEDDING_DIMENSION" envDefault:"384"`
	EmbeddingTimeout   time.Duration `env:"EMBEDDING_TIMEOUT" envDefault:"10s"`
}

// MemoryConfig tunes retrieval, insight mining and consolidation.
type MemoryConfig struct {
	MaxMemories         int           `env:"MAX_MEMORIES" envDefault:"5"`
	MinSimilarity       float64       `env:"MIN_SIMILARITY" envDefault:"0.6"`
	InsightWindowDays   int           `env:"INSIGHT_WINDOW_DAYS" envDefault:"30"`
	InsightMinFrequency int           `env:"INSIGHT_MIN_FREQUENCY" envDefault:"2"`
	InsightMinScore     float64       `env:"INSIGHT_MIN_IMPORTANCE" envDefault:"0.5"`
	InsightLimit        int           `env:"INSIGHT_LIMIT" envDefault:"3"`
	SummaryConcurrency  int           `env:"SUMMARY_CONCURRENCY" envDefault:"3"`
	GenerationRate      float64       `env:"GENERATION_RATE" envDefault:"2"` // Completion calls per second
	GenerationBurst     int           `env:"GENERATION_BURST" envDefault:"2"`
	LookupConcurrency   int           `env:"LOOKUP_CONCURRENCY" envDefault:"4"`
	LookupTimeout       time.Duration `env:"LOOKUP_TIMEOUT" envDefault:"5s"`
	SearchTimeout       time.Duration `env:"SEARCH_TIMEOUT" envDefault:"5s"`
	TaxonomyPath        string        `env:"TAXONOMY_PATH"`                // Optional YAML keyword table
	AgentName           string        `env:"AGENT_NAME" envDefault:"Guka"` // Assistant label in session transcripts
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"console"` // console or json
}

// LoadConfig loads configuration from environment variables with defaults.
// If a .env file exists in the working directory it is loaded first; values
// already present in the environment win.
func LoadConfig() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("config: failed to load .env: %w", err)
		}
	}
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the config is internally consistent.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: postgres storage engine requires FARMMEM_STORAGE_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unsupported storage engine %q", c.Storage.Engine)
	}

	switch c.LLM.Provider {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("config: unsupported LLM provider %q", c.LLM.Provider)
	}
	switch c.LLM.EmbeddingProvider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("config: unsupported embedding provider %q", c.LLM.EmbeddingProvider)
	}

	if c.LLM.EmbeddingDimension < 1 {
		return fmt.Errorf("config: embedding dimension must be >= 1, got %d", c.LLM.EmbeddingDimension)
	}

	m := c.Memory
	if m.MaxMemories < 1 {
		return fmt.Errorf("config: max memories must be >= 1, got %d", m.MaxMemories)
	}
	// Zero is reserved for "use the engine default", so it cannot be set here.
	if m.MinSimilarity <= 0 || m.MinSimilarity > 1 {
		return fmt.Errorf("config: min similarity must be in (0,1], got %v", m.MinSimilarity)
	}
	if m.InsightMinScore <= 0 || m.InsightMinScore >= 1 {
		return fmt.Errorf("config: insight min importance must be in (0,1), got %v", m.InsightMinScore)
	}
	if m.InsightWindowDays < 1 {
		return fmt.Errorf("config: insight window must be >= 1 day, got %d", m.InsightWindowDays)
	}
	if m.InsightMinFrequency < 1 {
		return fmt.Errorf("config: insight min frequency must be >= 1, got %d", m.InsightMinFrequency)
	}
	if m.SummaryConcurrency < 1 || m.LookupConcurrency < 1 {
		return errors.New("config: concurrency limits must be >= 1")
	}
	if m.GenerationRate <= 0 || m.GenerationBurst < 1 {
		return errors.New("config: generation rate and burst must be positive")
	}
	return nil
}
