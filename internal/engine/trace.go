package engine

import (
	"time"

	"github.com/scrypster/farmmemory/pkg/types"
)

// TraceEventKind classifies each trace event by type.
type TraceEventKind string

const (
	// KindRetrievalStarted is emitted at the beginning of context composition.
	KindRetrievalStarted TraceEventKind = "retrieval_started"

	// KindCandidatesFound is emitted after the vector index returns.
	KindCandidatesFound TraceEventKind = "candidates_found"

	// KindScoredMemory is emitted once per candidate after relevance scoring.
	KindScoredMemory TraceEventKind = "scored_memory"

	// KindFilteredOut is emitted for every candidate that was discarded.
	KindFilteredOut TraceEventKind = "filtered_out"

	// KindInsightsMined is emitted after the insight miner returns.
	KindInsightsMined TraceEventKind = "insights_mined"

	// KindResultsReturned is emitted with the memories placed in the context.
	KindResultsReturned TraceEventKind = "results_returned"
)

// TraceEvent is a single structured event emitted while composing a context.
type TraceEvent struct {
	// Kind identifies the event type.
	Kind TraceEventKind `json:"kind"`

	// At is the wall-clock time the event was recorded.
	At time.Time `json:"at"`

	// MessageID is populated for per-memory events.
	MessageID string `json:"message_id,omitempty"`

	// Source names the backend that produced candidates.
	Source string `json:"source,omitempty"`

	// Count is used by candidates_found, insights_mined and results_returned.
	Count int `json:"count,omitempty"`

	// Factors holds the relevance breakdown for scored_memory events.
	Factors *types.RelevanceFactors `json:"factors,omitempty"`

	// TotalScore is the combined relevance score for scored_memory events.
	TotalScore float64 `json:"total_score,omitempty"`

	// MemoryType is the classification for scored_memory events.
	MemoryType types.MemoryType `json:"memory_type,omitempty"`

	// FilterReason explains filtered_out events.
	FilterReason string `json:"filter_reason,omitempty"`

	// Query is the farmer's message, populated in retrieval_started.
	Query string `json:"query,omitempty"`

	// UserID is populated in retrieval_started.
	UserID string `json:"user_id,omitempty"`

	// MessageIDs lists all returned memories for results_returned events.
	MessageIDs []string `json:"message_ids,omitempty"`
}

func newTraceEvent(kind TraceEventKind) TraceEvent {
	return TraceEvent{Kind: kind, At: time.Now()}
}

// EventRetrievalStarted creates a retrieval_started trace event.
func EventRetrievalStarted(userID, query string) TraceEvent {
	e := newTraceEvent(KindRetrievalStarted)
	e.UserID = userID
	e.Query = query
	return e
}

// EventCandidatesFound creates a candidates_found trace event.
func EventCandidatesFound(count int, source string) TraceEvent {
	e := newTraceEvent(KindCandidatesFound)
	e.Count = count
	e.Source = source
	return e
}

// EventScoredMemory creates a scored_memory trace event.
func EventScoredMemory(m types.EnhancedMemory) TraceEvent {
	e := newTraceEvent(KindScoredMemory)
	e.MessageID = m.MessageID
	e.TotalScore = m.TotalScore
	e.MemoryType = m.MemoryType
	if m.Enhanced {
		f := m.Factors
		e.Factors = &f
	}
	return e
}

// EventFilteredOut creates a filtered_out trace event.
func EventFilteredOut(messageID, reason string) TraceEvent {
	e := newTraceEvent(KindFilteredOut)
	e.MessageID = messageID
	e.FilterReason = reason
	return e
}

// EventInsightsMined creates an insights_mined trace event.
func EventInsightsMined(count int) TraceEvent {
	e := newTraceEvent(KindInsightsMined)
	e.Count = count
	return e
}

// EventResultsReturned creates a results_returned trace event.
func EventResultsReturned(messageIDs []string) TraceEvent {
	e := newTraceEvent(KindResultsReturned)
	e.MessageIDs = messageIDs
	e.Count = len(messageIDs)
	return e
}
