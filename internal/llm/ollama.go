package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// OllamaClient handles communication with the Ollama API for local inference.
// It wraps all HTTP calls with circuit breaker protection to prevent cascading failures.
type OllamaClient struct {
	baseURL        string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	model          string
	temperature    float64
	maxTokens      int
	timeout        time.Duration
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the model name to use for chat or embeddings (default: qwen2.5:7b)
	Model string

	// Temperature and MaxTokens map to the chat "options" block.
	Temperature float64
	MaxTokens   int

	// Timeout is the request timeout duration (default: 30s)
	Timeout time.Duration

	Logger zerolog.Logger
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// chatRequest represents the request body for the /api/chat endpoint
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

// chatResponse represents the non-streamed response from /api/chat
type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// embedRequest represents the request body for the /api/embed endpoint
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse represents the response from /api/embed; one row per input
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaClient creates a new Ollama client with the given configuration.
// If configuration values are not provided, the following defaults are used:
//   - BaseURL: http://localhost:11434
//   - Model: qwen2.5:7b
//   - Timeout: 30 seconds
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "qwen2.5:7b"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &OllamaClient{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
		circuitBreaker: NewCircuitBreakerWithConfig(CircuitBreakerConfig{
			Name:                 "ollama:" + config.Model,
			MaxFailures:          3,
			Timeout:              30 * time.Second,
			HalfOpenMaxSuccesses: 2,
			Logger:               config.Logger,
		}),
		model:       config.Model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		timeout:     config.Timeout,
	}
}

// Complete sends a chat request to Ollama.
func (c *OllamaClient) Complete(ctx context.Context, messages []ChatMessage) (*Completion, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, messages)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.(*Completion), nil
}

// complete is the internal implementation of Complete without circuit breaker wrapping
func (c *OllamaClient) complete(ctx context.Context, messages []ChatMessage) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: c.temperature,
			NumPredict:  c.maxTokens,
		},
	}

	var respData chatResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/api/chat", nil, reqBody, &respData, "ollama"); err != nil {
		return nil, err
	}

	model := respData.Model
	if model == "" {
		model = c.model
	}
	return &Completion{
		Text:       respData.Message.Content,
		ModelID:    model,
		TokensUsed: respData.PromptEvalCount + respData.EvalCount,
	}, nil
}

// Embed generates an embedding for the given text using the configured model.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for several texts in one /api/embed call.
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.embed(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("ollama circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.([][]float32), nil
}

// embed is the internal implementation of EmbedBatch without circuit breaker wrapping
func (c *OllamaClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var respData embedResponse
	if err := postJSON(ctx, c.client, c.baseURL+"/api/embed", nil, embedRequest{Model: c.model, Input: texts}, &respData, "ollama"); err != nil {
		return nil, err
	}

	if len(respData.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(respData.Embeddings), len(texts))
	}
	for i, vec := range respData.Embeddings {
		if len(vec) == 0 {
			return nil, fmt.Errorf("ollama returned empty embedding vector at index %d", i)
		}
	}
	return respData.Embeddings, nil
}

// HealthCheck verifies that Ollama is reachable via the /api/version endpoint.
// It bypasses the circuit breaker since it is a health check itself.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("health check returned status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.model
}

// Compile-time assertions that OllamaClient satisfies the LLM interfaces.
var (
	_ Generator          = (*OllamaClient)(nil)
	_ EmbeddingGenerator = (*OllamaClient)(nil)
	_ BatchEmbedder      = (*OllamaClient)(nil)
)
