package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// MemoryPayload is the typed payload stored next to every vector in the
// index. Fields the index returns that are not modelled here belong in
// Metadata; they are never merged into the typed fields.
//
// Metadata is stored as JSON, so its values read back as JSON values:
// numbers are float64, arrays are []interface{} and objects are
// map[string]interface{}. Pass it through NormalizeMetadata before writing
// when the written payload must compare equal to the one read back.
type MemoryPayload struct {
	MessageID  string                 `json:"message_id"`
	UserID     string                 `json:"user_id"`
	SessionID  string                 `json:"session_id"`
	Role       Role                   `json:"message_type"`
	Content    string                 `json:"content"`
	Timestamp  time.Time              `json:"timestamp"`
	TokenCount int                    `json:"token_count,omitempty"`
	ModelID    string                 `json:"model_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NormalizeMetadata converts meta to the form it takes after a JSON round
// trip. An empty map normalizes to nil.
func NormalizeMetadata(meta map[string]interface{}) (map[string]interface{}, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("metadata is not JSON-encodable: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("metadata is not JSON-encodable: %w", err)
	}
	return out, nil
}

// MemoryCandidate is a raw nearest-neighbour hit that cleared the index
// similarity threshold.
type MemoryCandidate struct {
	MessageID string        `json:"message_id"`
	Excerpt   string        `json:"excerpt"`
	Score     float64       `json:"similarity_score"` // Cosine similarity reported by the index
	SessionID string        `json:"session_id"`
	Timestamp time.Time     `json:"timestamp"` // Zero when the payload carried no timestamp
	Payload   MemoryPayload `json:"payload"`
}

// RelevanceFactors breaks the enhanced relevance score into its inputs.
// Every factor is in [0, 1].
type RelevanceFactors struct {
	Semantic       float64 `json:"semantic_similarity"`
	Recency        float64 `json:"recency_score"`
	Frequency      float64 `json:"frequency_score"` // Reserved; always 0 on the single-query path
	TopicAlignment float64 `json:"topic_alignment"`
	Continuity     float64 `json:"context_continuity"`
}

// FarmingContext holds farming-specific facts pulled from a memory's text.
type FarmingContext struct {
	CropsMentioned   []string `json:"crop_mentioned"`
	ActivityType     string   `json:"activity_type,omitempty"`
	SeasonReference  string   `json:"season_reference,omitempty"`
	ProblemMentioned bool     `json:"problem_mentioned"`
}

// EnhancedMemory is a candidate after relevance scoring and classification.
// When Enhanced is false the candidate could not be analysed: TotalScore is
// the clamped raw similarity and Factors is empty.
type EnhancedMemory struct {
	MemoryCandidate

	Factors        RelevanceFactors `json:"relevance_factors"`
	TotalScore     float64          `json:"enhanced_relevance"`
	MemoryType     MemoryType       `json:"memory_type,omitempty"`
	Topics         []string         `json:"topics,omitempty"`
	Entities       []string         `json:"key_entities,omitempty"` // "category:value" tags
	FarmingContext FarmingContext   `json:"farming_context"`
	Enhanced       bool             `json:"enhanced"`
}

// IntelligentContext is what the chat orchestrator receives for one turn.
type IntelligentContext struct {
	RelevantMemories []EnhancedMemory `json:"relevant_memories"`
	Insights         []Insight        `json:"memory_insights"`
	ContextSummary   string           `json:"context_summary"`
	TotalFound       int              `json:"total_memories_found"`
	Confidence       float64          `json:"confidence_score"`
}

// EmptyContext returns a valid zero-confidence context with non-nil slices.
func EmptyContext() *IntelligentContext {
	return &IntelligentContext{
		RelevantMemories: []EnhancedMemory{},
		Insights:         []Insight{},
	}
}
