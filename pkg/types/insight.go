package types

import "time"

// Insight is a recurring topic mined from a user's recent history.
type Insight struct {
	Topic           string        `json:"topic"`
	Summary         string        `json:"summary"`
	SummarySource   SummarySource `json:"summary_source"`
	ImportanceScore float64       `json:"importance_score"`
	Frequency       int           `json:"frequency"`
	FirstMentioned  time.Time     `json:"first_mentioned"`
	LastMentioned   time.Time     `json:"last_mentioned"`
	RelatedSessions []string      `json:"related_conversations"`
}

// ConversationSummary is the structured consolidation of one session.
type ConversationSummary struct {
	SessionID       string        `json:"session_id"`
	Summary         string        `json:"summary"`
	KeyTopics       []string      `json:"key_topics"`
	ActionItems     []string      `json:"action_items"`
	DomainInsights  []string      `json:"domain_insights"`
	Tone            string        `json:"tone"`
	MessageCount    int           `json:"message_count"`
	DurationMinutes int           `json:"duration_minutes"`
	Source          SummarySource `json:"source"`
}
