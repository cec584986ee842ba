package types

import (
	"fmt"
	"strings"
	"time"
)

// Message is a single stored conversation turn. Messages are immutable after
// creation except for the embedding back-reference.
type Message struct {
	ID          string                 `json:"id"`                     // Unique identifier (uuid)
	SessionID   string                 `json:"session_id"`             // Owning session
	UserID      string                 `json:"user_id"`                // Owning user
	Role        Role                   `json:"role"`                   // user or assistant
	Content     string                 `json:"content"`                // Raw message text
	TokenCount  int                    `json:"token_count,omitempty"`  // Tokens reported by the generation service
	ModelID     string                 `json:"model_id,omitempty"`     // Model that produced an assistant message
	CreatedAt   time.Time              `json:"created_at"`             // When the message was written
	Metadata    map[string]interface{} `json:"metadata,omitempty"`     // Arbitrary caller metadata
	EmbeddingID string                 `json:"embedding_id,omitempty"` // Vector id in the index, empty until embedded
}

// Validate checks the fields required to persist a message.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.SessionID) == "" {
		return fmt.Errorf("message session_id is required")
	}
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("message user_id is required")
	}
	if !m.Role.IsValid() {
		return fmt.Errorf("invalid message role: %q (must be user or assistant)", m.Role)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("message content is required")
	}
	return nil
}

// Session groups the messages of one conversation. It is mutated on every
// new message (LastActivity, MessageCount).
type Session struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	StartedAt    time.Time              `json:"started_at"`
	LastActivity time.Time              `json:"last_activity"`
	MessageCount int                    `json:"message_count"`
	Context      map[string]interface{} `json:"context,omitempty"`
}

// UserProfile describes a farmer. Profiles have upsert semantics keyed by UserID.
type UserProfile struct {
	UserID            string    `json:"user_id"`
	Name              string    `json:"name,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	Location          string    `json:"location,omitempty"`
	FarmSizeAcres     float64   `json:"farm_size_acres,omitempty"`
	CoffeeVarieties   []string  `json:"coffee_varieties,omitempty"`
	ExperienceYears   int       `json:"farming_experience_years,omitempty"`
	PreferredLanguage string    `json:"preferred_language,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EmbeddingRecord is a weak back-reference from a message to the vector that
// represents it. The vector itself lives in the vector index.
type EmbeddingRecord struct {
	VectorID  string    `json:"vector_id"`
	MessageID string    `json:"message_id"`
	ModelID   string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
}
