package engine

import (
	"context"
	"sync"
	"time"

	"github.com/scrypster/farmmemory/pkg/types"
)

// contextKey is an unexported type for context keys owned by this package.
type contextKey string

const traceKey contextKey = "retrieval_trace"

// TraceCollector accumulates TraceEvents for a single context composition.
// It is safe for concurrent use.
type TraceCollector struct {
	mu        sync.Mutex
	events    []TraceEvent
	startedAt time.Time
}

// NewTraceCollector returns a fresh collector.
func NewTraceCollector() *TraceCollector {
	return &TraceCollector{startedAt: time.Now()}
}

// Emit appends an event to the collector.
func (tc *TraceCollector) Emit(e TraceEvent) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.events = append(tc.events, e)
}

// Events returns a copy of the collected events in emission order.
func (tc *TraceCollector) Events() []TraceEvent {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return append([]TraceEvent(nil), tc.events...)
}

// ElapsedMS returns the elapsed time since the collector was created, in milliseconds.
func (tc *TraceCollector) ElapsedMS() int64 {
	return time.Since(tc.startedAt).Milliseconds()
}

// WithTraceCollector stores a collector in the context.
func WithTraceCollector(ctx context.Context, tc *TraceCollector) context.Context {
	return context.WithValue(ctx, traceKey, tc)
}

// TraceCollectorFromContext retrieves the collector from the context.
// Returns (nil, false) if none is present.
func TraceCollectorFromContext(ctx context.Context) (*TraceCollector, bool) {
	tc, ok := ctx.Value(traceKey).(*TraceCollector)
	return tc, ok
}

// emitToContext emits an event only when a collector is present.
func emitToContext(ctx context.Context, e TraceEvent) {
	if tc, ok := TraceCollectorFromContext(ctx); ok {
		tc.Emit(e)
	}
}

// RetrievalTrace is the structured explanation of one context composition.
type RetrievalTrace struct {
	// UserID and Query mirror the request.
	UserID string `json:"user_id"`
	Query  string `json:"query"`

	// CandidatesFound is the number of candidates the vector index returned.
	CandidatesFound int `json:"candidates_found"`

	// Scored contains every candidate that reached the relevance engine.
	Scored []ScoredEntry `json:"scored"`

	// FilteredOut contains every candidate that was discarded and why.
	FilteredOut []FilteredEntry `json:"filtered_out"`

	// InsightCount is how many insights were attached.
	InsightCount int `json:"insight_count"`

	// Returned lists the message IDs placed in the context.
	Returned []string `json:"returned"`

	// TimingMS is the total composition duration in milliseconds.
	TimingMS int64 `json:"timing_ms"`
}

// ScoredEntry is one candidate after relevance scoring.
type ScoredEntry struct {
	MessageID  string                  `json:"message_id"`
	Factors    *types.RelevanceFactors `json:"factors,omitempty"` // nil when unenhanced
	Total      float64                 `json:"total"`
	MemoryType types.MemoryType        `json:"memory_type,omitempty"`
}

// FilteredEntry is a candidate that was discarded.
type FilteredEntry struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

// BuildRetrievalTrace converts collected trace events into a RetrievalTrace.
func BuildRetrievalTrace(events []TraceEvent, elapsedMS int64) *RetrievalTrace {
	result := &RetrievalTrace{TimingMS: elapsedMS}

	for _, e := range events {
		switch e.Kind {
		case KindRetrievalStarted:
			result.UserID = e.UserID
			result.Query = e.Query
		case KindCandidatesFound:
			result.CandidatesFound += e.Count
		case KindScoredMemory:
			result.Scored = append(result.Scored, ScoredEntry{
				MessageID:  e.MessageID,
				Factors:    e.Factors,
				Total:      e.TotalScore,
				MemoryType: e.MemoryType,
			})
		case KindFilteredOut:
			result.FilteredOut = append(result.FilteredOut, FilteredEntry{
				MessageID: e.MessageID,
				Reason:    e.FilterReason,
			})
		case KindInsightsMined:
			result.InsightCount = e.Count
		case KindResultsReturned:
			result.Returned = e.MessageIDs
		}
	}

	// Guarantee non-nil slices for clean JSON output.
	if result.Scored == nil {
		result.Scored = []ScoredEntry{}
	}
	if result.FilteredOut == nil {
		result.FilteredOut = []FilteredEntry{}
	}
	if result.Returned == nil {
		result.Returned = []string{}
	}

	return result
}
