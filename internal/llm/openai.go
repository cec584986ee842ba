package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// OpenAIConfig holds configuration for the OpenAI-compatible chat client.
type OpenAIConfig struct {
	APIKey      string
	Model       string        // default: gpt-4o-mini
	BaseURL     string        // default: https://api.openai.com
	Temperature float64       // sampling temperature
	MaxTokens   int           // 0 leaves the server default
	Timeout     time.Duration // default: 60s
	Logger      zerolog.Logger
}

// OpenAIClient implements Generator using the OpenAI chat completions API.
// Any server exposing the same API (vLLM, LiteLLM, Azure proxies) works.
type OpenAIClient struct {
	cfg            OpenAIConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
}

// NewOpenAIClient creates a new OpenAI client with the given configuration.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreakerWithConfig(CircuitBreakerConfig{
			Name:                 "openai-chat",
			MaxFailures:          3,
			Timeout:              30 * time.Second,
			HalfOpenMaxSuccesses: 2,
			Logger:               cfg.Logger,
		}),
	}
}

// openAIChatRequest is the request body for POST /v1/chat/completions.
type openAIChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// openAIChatResponse is the response body from POST /v1/chat/completions.
type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends a chat completion to OpenAI.
func (c *OpenAIClient) Complete(ctx context.Context, messages []ChatMessage) (*Completion, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, messages)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("openai circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.(*Completion), nil
}

func (c *OpenAIClient) complete(ctx context.Context, messages []ChatMessage) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reqBody := openAIChatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	var respData openAIChatResponse
	if err := postJSON(ctx, c.client, c.cfg.BaseURL+"/v1/chat/completions", c.headers(), reqBody, &respData, "openai"); err != nil {
		return nil, err
	}

	if len(respData.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	model := respData.Model
	if model == "" {
		model = c.cfg.Model
	}
	return &Completion{
		Text:       respData.Choices[0].Message.Content,
		ModelID:    model,
		TokensUsed: respData.Usage.TotalTokens,
	}, nil
}

func (c *OpenAIClient) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.cfg.Model
}

// Compile-time assertion.
var _ Generator = (*OpenAIClient)(nil)

// OpenAIEmbeddingConfig holds configuration for the OpenAI embedding client.
type OpenAIEmbeddingConfig struct {
	APIKey     string
	Model      string        // default: text-embedding-3-small
	BaseURL    string        // default: https://api.openai.com
	Dimensions int           // requested output size; 0 leaves the model default
	Timeout    time.Duration // default: 30s
	Logger     zerolog.Logger
}

// OpenAIEmbeddingClient implements EmbeddingGenerator and BatchEmbedder using
// the OpenAI embeddings API.
type OpenAIEmbeddingClient struct {
	cfg            OpenAIEmbeddingConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
}

// NewOpenAIEmbeddingClient creates a new OpenAI embedding client.
func NewOpenAIEmbeddingClient(cfg OpenAIEmbeddingConfig) *OpenAIEmbeddingClient {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAIEmbeddingClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreakerWithConfig(CircuitBreakerConfig{
			Name:                 "openai-embeddings",
			MaxFailures:          3,
			Timeout:              30 * time.Second,
			HalfOpenMaxSuccesses: 2,
			Logger:               cfg.Logger,
		}),
	}
}

// openAIEmbeddingRequest is the request body for POST /v1/embeddings.
type openAIEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

// openAIEmbeddingResponse is the response body from POST /v1/embeddings.
type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed generates an embedding vector for the given text.
func (c *OpenAIEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates one embedding per input text in a single request.
func (c *OpenAIEmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.embed(ctx, texts)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("openai embedding circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.([][]float32), nil
}

func (c *OpenAIEmbeddingClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reqBody := openAIEmbeddingRequest{
		Model:      c.cfg.Model,
		Input:      texts,
		Dimensions: c.cfg.Dimensions,
	}

	var respData openAIEmbeddingResponse
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	if err := postJSON(ctx, c.client, c.cfg.BaseURL+"/v1/embeddings", headers, reqBody, &respData, "openai"); err != nil {
		return nil, err
	}

	if len(respData.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(respData.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range respData.Data {
		idx := d.Index
		if idx < 0 || idx >= len(texts) {
			return nil, fmt.Errorf("openai returned embedding index %d for %d inputs", idx, len(texts))
		}
		if out[idx] != nil {
			return nil, fmt.Errorf("openai returned duplicate embedding index %d", idx)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("openai returned empty embedding at index %d", idx)
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[idx] = vec
	}
	return out, nil
}

// GetModel returns the configured model name.
func (c *OpenAIEmbeddingClient) GetModel() string {
	return c.cfg.Model
}

// Compile-time assertions.
var (
	_ EmbeddingGenerator = (*OpenAIEmbeddingClient)(nil)
	_ BatchEmbedder      = (*OpenAIEmbeddingClient)(nil)
)

// postJSON sends body as JSON to url and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out interface{}, provider string) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned status %d: %s", provider, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
