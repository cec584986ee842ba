package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scrypster/farmmemory/internal/llm"
	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/internal/topics"
	"github.com/scrypster/farmmemory/pkg/types"
)

// Reasons reported for an ineligible consolidation.
const (
	ReasonTooFewMessages     = "session has fewer than 2 messages"
	ReasonHistoryUnavailable = "history unavailable"
	ReasonMissingSession     = "session id is required"
)

const (
	minConsolidationMessages = 2
	maxFallbackTopics        = 5
	farmerLabel              = "Farmer"
	neutralTone              = "neutral"
)

// Consolidation is the result of consolidating a session. When Eligible is
// false, Summary is nil and Reason says why.
type Consolidation struct {
	Eligible bool                       `json:"eligible"`
	Reason   string                     `json:"reason,omitempty"`
	Summary  *types.ConversationSummary `json:"summary,omitempty"`
}

// SessionConsolidator turns a finished session into a structured summary.
// It does not persist anything.
type SessionConsolidator struct {
	history    storage.MessageRepository
	generator  llm.Generator
	classifier topics.Classifier
	cfg        Config
	logger     zerolog.Logger
}

// NewSessionConsolidator creates a consolidator. generator may be nil, in
// which case every summary is the local fallback.
func NewSessionConsolidator(history storage.MessageRepository, generator llm.Generator, classifier topics.Classifier, cfg Config, logger zerolog.Logger) *SessionConsolidator {
	if classifier == nil {
		classifier = topics.DefaultTaxonomy()
	}
	return &SessionConsolidator{
		history:    history,
		generator:  generator,
		classifier: classifier,
		cfg:        cfg.withDefaults(),
		logger:     logger.With().Str("component", "consolidator").Logger(),
	}
}

// Consolidate summarizes the session. Sessions with fewer than two stored
// messages are not eligible.
func (c *SessionConsolidator) Consolidate(ctx context.Context, sessionID, userID string) Consolidation {
	if strings.TrimSpace(sessionID) == "" {
		return Consolidation{Reason: ReasonMissingSession}
	}

	msgs, err := c.messages(ctx, sessionID, userID)
	if err != nil {
		c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to load session history")
		return Consolidation{Reason: ReasonHistoryUnavailable}
	}
	if len(msgs) < minConsolidationMessages {
		return Consolidation{Reason: ReasonTooFewMessages}
	}

	summary := &types.ConversationSummary{
		SessionID:       sessionID,
		MessageCount:    len(msgs),
		DurationMinutes: durationMinutes(msgs[0].CreatedAt, msgs[len(msgs)-1].CreatedAt),
	}

	reply, err := c.generate(ctx, msgs)
	if err != nil {
		c.logger.Info().Err(err).Str("session_id", sessionID).Msg("using fallback session summary")
		c.applyFallback(summary, msgs)
	} else {
		summary.Summary = reply.Summary
		summary.KeyTopics = reply.KeyTopics
		summary.ActionItems = reply.ActionItems
		summary.DomainInsights = reply.DomainInsights
		summary.Tone = reply.Tone
		summary.Source = types.SourceGenerated
		if len(summary.KeyTopics) == 0 {
			summary.KeyTopics = c.transcriptTopics(msgs)
		}
		if summary.Tone == "" {
			summary.Tone = neutralTone
		}
	}

	return Consolidation{Eligible: true, Summary: summary}
}

func (c *SessionConsolidator) messages(ctx context.Context, sessionID, userID string) ([]types.Message, error) {
	if c.history == nil {
		return nil, fmt.Errorf("no message repository configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	defer cancel()
	return c.history.GetMessages(ctx, storage.MessageQuery{
		SessionID: sessionID,
		UserID:    userID,
		Order:     storage.OrderAsc,
	})
}

func (c *SessionConsolidator) generate(ctx context.Context, msgs []types.Message) (llm.SessionSummaryReply, error) {
	if c.generator == nil {
		return llm.SessionSummaryReply{}, fmt.Errorf("no generator configured")
	}

	transcript := make([]llm.TranscriptLine, len(msgs))
	for i, msg := range msgs {
		speaker := farmerLabel
		if msg.Role == types.RoleAssistant {
			speaker = c.cfg.AgentName
		}
		transcript[i] = llm.TranscriptLine{Speaker: speaker, Content: msg.Content}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.GenerationTimeout)
	defer cancel()

	completion, err := c.generator.Complete(ctx, llm.SessionSummaryPrompt(c.cfg.AgentName, transcript))
	if err != nil {
		return llm.SessionSummaryReply{}, err
	}

	parsed := llm.ParseSessionSummary(completion.Text)
	if parsed.Outcome != llm.Parsed {
		return llm.SessionSummaryReply{}, parsed.Err
	}
	return parsed.Value, nil
}

func (c *SessionConsolidator) applyFallback(summary *types.ConversationSummary, msgs []types.Message) {
	keyTopics := c.transcriptTopics(msgs)

	questions := 0
	for _, msg := range msgs {
		if msg.Role == types.RoleUser {
			questions++
		}
	}

	about := "general farming"
	if len(keyTopics) > 0 {
		n := len(keyTopics)
		if n > 3 {
			n = 3
		}
		about = strings.Join(keyTopics[:n], ", ")
	}

	summary.Summary = fmt.Sprintf("Conversation about %s with %d farmer questions.", about, questions)
	summary.KeyTopics = keyTopics
	summary.ActionItems = []string{}
	summary.DomainInsights = []string{}
	summary.Tone = neutralTone
	summary.Source = types.SourceFallback
}

// transcriptTopics classifies the whole conversation, capped at five topics.
func (c *SessionConsolidator) transcriptTopics(msgs []types.Message) []string {
	contents := make([]string, len(msgs))
	for i, msg := range msgs {
		contents[i] = msg.Content
	}
	found := topics.Strings(c.classifier.Topics(strings.Join(contents, " ")))
	if len(found) > maxFallbackTopics {
		found = found[:maxFallbackTopics]
	}
	return found
}

func durationMinutes(first, last time.Time) int {
	d := last.Sub(first)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}
