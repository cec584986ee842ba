package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey      string
	Model       string        // default: claude-haiku-4-5-20251001
	BaseURL     string        // default: https://api.anthropic.com
	Temperature float64       // sampling temperature
	MaxTokens   int           // default: 1024
	Timeout     time.Duration // default: 60s
	Logger      zerolog.Logger
}

// AnthropicClient implements Generator using the Anthropic Messages API.
type AnthropicClient struct {
	cfg            AnthropicConfig
	client         *http.Client
	circuitBreaker *CircuitBreaker
}

// NewAnthropicClient creates a new Anthropic client with the given configuration.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &AnthropicClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		circuitBreaker: NewCircuitBreakerWithConfig(CircuitBreakerConfig{
			Name:                 "anthropic",
			MaxFailures:          3,
			Timeout:              30 * time.Second,
			HalfOpenMaxSuccesses: 2,
			Logger:               cfg.Logger,
		}),
	}
}

// anthropicMessagesRequest is the request body for POST /v1/messages.
// System prompts travel in their own field rather than as a message.
type anthropicMessagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Temperature float64       `json:"temperature"`
	Messages    []ChatMessage `json:"messages"`
}

// anthropicMessagesResponse is the response body from POST /v1/messages.
type anthropicMessagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends a chat completion to Anthropic.
func (c *AnthropicClient) Complete(ctx context.Context, messages []ChatMessage) (*Completion, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, messages)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("anthropic circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.(*Completion), nil
}

func (c *AnthropicClient) complete(ctx context.Context, messages []ChatMessage) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	reqBody := anthropicMessagesRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	var system []string
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		reqBody.Messages = append(reqBody.Messages, m)
	}
	reqBody.System = strings.Join(system, "\n\n")

	headers := map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": "2023-06-01",
	}

	var respData anthropicMessagesResponse
	if err := postJSON(ctx, c.client, c.cfg.BaseURL+"/v1/messages", headers, reqBody, &respData, "anthropic"); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range respData.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if len(respData.Content) == 0 {
		return nil, fmt.Errorf("anthropic returned empty content")
	}

	model := respData.Model
	if model == "" {
		model = c.cfg.Model
	}
	return &Completion{
		Text:       text.String(),
		ModelID:    model,
		TokensUsed: respData.Usage.InputTokens + respData.Usage.OutputTokens,
	}, nil
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.cfg.Model
}

// Compile-time assertion.
var _ Generator = (*AnthropicClient)(nil)
