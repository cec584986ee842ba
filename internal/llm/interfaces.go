// Package llm contains the clients for the generation and embedding services
// used by the memory engine, the prompts sent to them and the parsing of
// their structured replies.
package llm

import "context"

// Chat roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a chat-style completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is a generation reply together with its accounting data.
type Completion struct {
	Text       string
	ModelID    string
	TokensUsed int
}

// Generator is the interface for chat-style text generation.
type Generator interface {
	Complete(ctx context.Context, messages []ChatMessage) (*Completion, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}

// BatchEmbedder is implemented by embedding clients that can encode several
// texts in one request. Results are in input order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
