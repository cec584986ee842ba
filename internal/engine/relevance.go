package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/internal/topics"
	"github.com/scrypster/farmmemory/pkg/types"
)

// RelevanceEngine scores, classifies and orders retrieved memories against
// the current query.
type RelevanceEngine struct {
	classifier    topics.Classifier
	history       storage.MessageRepository
	concurrency   int
	lookupTimeout time.Duration
	logger        zerolog.Logger
	now           func() time.Time
}

// NewRelevanceEngine creates a relevance engine. history is used for the
// continuity factor; a nil history scores every candidate as having no
// session context.
func NewRelevanceEngine(classifier topics.Classifier, history storage.MessageRepository, cfg Config, logger zerolog.Logger) *RelevanceEngine {
	cfg = cfg.withDefaults()
	if classifier == nil {
		classifier = topics.DefaultTaxonomy()
	}
	return &RelevanceEngine{
		classifier:    classifier,
		history:       history,
		concurrency:   cfg.LookupConcurrency,
		lookupTimeout: cfg.LookupTimeout,
		logger:        logger.With().Str("component", "relevance").Logger(),
		now:           time.Now,
	}
}

// Enhance scores every candidate and returns them ordered by descending
// total score, ties in input order. It never fails: a candidate that cannot
// be analysed is returned unenhanced.
func (r *RelevanceEngine) Enhance(ctx context.Context, userID, query string, candidates []types.MemoryCandidate) []types.EnhancedMemory {
	out := make([]types.EnhancedMemory, 0, len(candidates))
	if len(candidates) == 0 {
		return out
	}

	now := r.now()
	queryTopics := r.topicsOf(query)
	continuity := r.continuity(ctx, userID, candidates)

	for _, c := range candidates {
		out = append(out, r.enhanceOne(c, queryTopics, continuity[c.SessionID], now))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TotalScore > out[j].TotalScore
	})
	return out
}

// enhanceOne computes the factors for a single candidate. A panic in the
// classifier or extractors yields the unenhanced candidate.
func (r *RelevanceEngine) enhanceOne(c types.MemoryCandidate, queryTopics []topics.Topic, continuity float64, now time.Time) (em types.EnhancedMemory) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn().
				Str("message_id", c.MessageID).
				Str("panic", fmt.Sprint(p)).
				Msg("memory analysis failed, returning unenhanced candidate")
			em = unenhanced(c)
		}
	}()

	memTopics := r.classifier.Topics(c.Excerpt)
	factors := types.RelevanceFactors{
		Semantic:       types.Clamp01(c.Score),
		Recency:        recencyScore(c.Timestamp, now),
		Frequency:      0,
		TopicAlignment: topicAlignment(memTopics, queryTopics),
		Continuity:     continuity,
	}

	return types.EnhancedMemory{
		MemoryCandidate: c,
		Factors:         factors,
		TotalScore:      totalScore(factors),
		MemoryType:      topics.ClassifyMemoryType(c.Excerpt),
		Topics:          topics.Strings(memTopics),
		Entities:        topics.ExtractEntities(c.Excerpt),
		FarmingContext:  topics.ExtractFarmingContext(c.Excerpt),
		Enhanced:        true,
	}
}

// topicsOf classifies the query, treating a classifier panic as no topics.
func (r *RelevanceEngine) topicsOf(text string) (ts []topics.Topic) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn().Str("panic", fmt.Sprint(p)).Msg("query classification failed")
			ts = nil
		}
	}()
	return r.classifier.Topics(text)
}

// continuity looks up each distinct session once, with bounded concurrency.
// Sessions that cannot be looked up score 0.3.
func (r *RelevanceEngine) continuity(ctx context.Context, userID string, candidates []types.MemoryCandidate) map[string]float64 {
	scores := make(map[string]float64)
	var sessions []string
	for _, c := range candidates {
		if _, ok := scores[c.SessionID]; !ok {
			scores[c.SessionID] = continuityScore(0)
			if c.SessionID != "" {
				sessions = append(sessions, c.SessionID)
			}
		}
	}
	if r.history == nil || len(sessions) == 0 {
		return scores
	}

	results := make([]float64, len(sessions))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, sessionID := range sessions {
		g.Go(func() error {
			results[i] = r.lookupContinuity(ctx, userID, sessionID)
			return nil
		})
	}
	_ = g.Wait()

	for i, sessionID := range sessions {
		scores[sessionID] = results[i]
	}
	return scores
}

func (r *RelevanceEngine) lookupContinuity(ctx context.Context, userID, sessionID string) float64 {
	ctx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	msgs, err := r.history.GetMessages(ctx, storage.MessageQuery{
		SessionID: sessionID,
		UserID:    userID,
		Order:     storage.OrderDesc,
		Limit:     continuityLookback,
	})
	if err != nil {
		r.logger.Debug().Err(err).Str("session_id", sessionID).Msg("continuity lookup failed")
		return continuityScore(0)
	}
	return continuityScore(len(msgs))
}

func continuityScore(recentMessages int) float64 {
	switch {
	case recentMessages >= 2:
		return 0.8
	case recentMessages == 1:
		return 0.6
	default:
		return 0.3
	}
}

// topicAlignment is the share of query topics the memory also mentions.
func topicAlignment(memory, query []topics.Topic) float64 {
	if len(memory) == 0 || len(query) == 0 {
		return defaultTopicAlignment
	}
	inMemory := make(map[topics.Topic]bool, len(memory))
	for _, t := range memory {
		inMemory[t] = true
	}
	shared := 0
	for _, t := range query {
		if inMemory[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(query))
}

func totalScore(f types.RelevanceFactors) float64 {
	return types.Clamp01(WeightSemantic*f.Semantic +
		WeightRecency*f.Recency +
		WeightFrequency*f.Frequency +
		WeightTopic*f.TopicAlignment +
		WeightContinuity*f.Continuity)
}

func unenhanced(c types.MemoryCandidate) types.EnhancedMemory {
	return types.EnhancedMemory{
		MemoryCandidate: c,
		TotalScore:      types.Clamp01(c.Score),
		FarmingContext:  types.FarmingContext{CropsMentioned: []string{}},
	}
}
