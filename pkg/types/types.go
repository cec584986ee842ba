// Package types defines the core data structures for the farm memory system.
// These types represent stored conversation history (messages, sessions,
// profiles) and the transient records produced by the memory intelligence
// engine (enhanced memories, insights, session summaries).
package types

import "math"

// Role identifies who authored a message.
type Role string

// Message role constants
const (
	// RoleUser marks a message written by the farmer
	RoleUser Role = "user"

	// RoleAssistant marks a message written by the advisory agent
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// MemoryType is the coarse classification assigned to a retrieved memory.
type MemoryType string

// Memory type constants.
const (
	MemoryTypeQuestion            MemoryType = "question"
	MemoryTypeProblemSolving      MemoryType = "problem_solving"
	MemoryTypePositiveFeedback    MemoryType = "positive_feedback"
	MemoryTypeMarketInquiry       MemoryType = "market_inquiry"
	MemoryTypeFarmingActivity     MemoryType = "farming_activity"
	MemoryTypeGeneralConversation MemoryType = "general_conversation"
)

// SummarySource records whether generated text came from the completion
// service or from a local template.
type SummarySource string

const (
	// SourceGenerated means the text was produced by the completion service
	SourceGenerated SummarySource = "generated"

	// SourceFallback means the completion failed or was unusable and a
	// template was used instead
	SourceFallback SummarySource = "fallback"
)

// Clamp01 bounds v to the closed interval [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
