package llm

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/scrypster/farmmemory/internal/config"
)

// NewGenerator creates the Generator selected by cfg.Provider.
func NewGenerator(cfg config.LLMConfig, logger zerolog.Logger) (Generator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			BaseURL:     cfg.OpenAIBaseURL,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			Logger:      logger,
		}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:      cfg.AnthropicAPIKey,
			Model:       cfg.AnthropicModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			Logger:      logger,
		}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL:     cfg.OllamaURL,
			Model:       cfg.OllamaModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
			Logger:      logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the EmbeddingGenerator selected by
// cfg.EmbeddingProvider. Both supported clients also implement BatchEmbedder.
func NewEmbeddingGenerator(cfg config.LLMConfig, logger zerolog.Logger) (EmbeddingGenerator, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.EmbeddingModel,
			BaseURL:    cfg.OpenAIBaseURL,
			Dimensions: cfg.EmbeddingDimension,
			Timeout:    cfg.EmbeddingTimeout,
			Logger:     logger,
		}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.EmbeddingModel,
			Timeout: cfg.EmbeddingTimeout,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.EmbeddingProvider)
	}
}
