package engine

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/pkg/types"
)

// Embedder converts text into a vector. *embedding.Gateway implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ComposeOptions tunes a single Compose call.
type ComposeOptions struct {
	// MaxMemories overrides the configured number of memories when > 0.
	MaxMemories int

	// SkipInsights leaves Insights empty and skips insight mining.
	SkipInsights bool
}

// ContextComposer builds the per-turn intelligent context: embed the query,
// search the index, score the candidates and attach insights.
type ContextComposer struct {
	embedder  Embedder
	index     storage.VectorIndex
	relevance *RelevanceEngine
	insights  *InsightMiner
	cfg       Config
	logger    zerolog.Logger
}

// NewContextComposer wires the composer. insights may be nil.
func NewContextComposer(embedder Embedder, index storage.VectorIndex, relevance *RelevanceEngine, insights *InsightMiner, cfg Config, logger zerolog.Logger) *ContextComposer {
	return &ContextComposer{
		embedder:  embedder,
		index:     index,
		relevance: relevance,
		insights:  insights,
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "composer").Logger(),
	}
}

// Compose returns the intelligent context for query. It never fails: an
// embedding failure yields an empty zero-confidence context and an index
// failure yields a context without memories.
func (c *ContextComposer) Compose(ctx context.Context, userID, query string, opts ComposeOptions) *types.IntelligentContext {
	maxMemories := opts.MaxMemories
	if maxMemories <= 0 {
		maxMemories = c.cfg.MaxMemories
	}
	emitToContext(ctx, EventRetrievalStarted(userID, query))

	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("query embedding failed, returning empty context")
		return types.EmptyContext()
	}

	raw := c.search(ctx, userID, vector, maxMemories)
	candidates := c.admit(ctx, raw)

	var (
		enhanced []types.EnhancedMemory
		insights = []types.Insight{}
		g        errgroup.Group
	)
	g.Go(func() error {
		enhanced = c.relevance.Enhance(ctx, userID, query, candidates)
		return nil
	})
	if c.insights != nil && !opts.SkipInsights {
		g.Go(func() error {
			insights = c.insights.Insights(ctx, userID, c.cfg.InsightLimit)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		c.logger.Debug().Err(ctx.Err()).Msg("context composition cancelled")
		return types.EmptyContext()
	}

	for _, m := range enhanced {
		emitToContext(ctx, EventScoredMemory(m))
	}
	if len(enhanced) > maxMemories {
		for _, m := range enhanced[maxMemories:] {
			emitToContext(ctx, EventFilteredOut(m.MessageID, "beyond max memories"))
		}
		enhanced = enhanced[:maxMemories]
	}
	emitToContext(ctx, EventInsightsMined(len(insights)))
	emitToContext(ctx, EventResultsReturned(messageIDs(enhanced)))

	result := &types.IntelligentContext{
		RelevantMemories: enhanced,
		Insights:         insights,
		ContextSummary:   contextSummary(enhanced, insights),
		TotalFound:       len(raw),
		Confidence:       confidence(enhanced),
	}
	c.logger.Debug().
		Str("user_id", userID).
		Int("memories", len(enhanced)).
		Int("insights", len(insights)).
		Float64("confidence", result.Confidence).
		Msg("built intelligent context")
	return result
}

// search asks the index for twice the wanted number of memories so the
// relevance engine has room to reorder.
func (c *ContextComposer) search(ctx context.Context, userID string, vector []float32, maxMemories int) []storage.ScoredPoint {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SearchTimeout)
	defer cancel()

	points, err := c.index.Query(ctx, vector, storage.Filter{UserID: userID}, 2*maxMemories, c.cfg.MinSimilarity)
	if err != nil {
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("vector search failed, continuing without memories")
		return nil
	}
	emitToContext(ctx, EventCandidatesFound(len(points), "vector_index"))
	return points
}

// admit converts index hits into candidates, dropping any below the
// similarity threshold.
func (c *ContextComposer) admit(ctx context.Context, points []storage.ScoredPoint) []types.MemoryCandidate {
	candidates := make([]types.MemoryCandidate, 0, len(points))
	for _, p := range points {
		id := p.Payload.MessageID
		if id == "" {
			id = p.ID
		}
		if p.Score < c.cfg.MinSimilarity {
			emitToContext(ctx, EventFilteredOut(id, "below similarity threshold"))
			continue
		}
		candidates = append(candidates, types.MemoryCandidate{
			MessageID: id,
			Excerpt:   p.Payload.Content,
			Score:     p.Score,
			SessionID: p.Payload.SessionID,
			Timestamp: p.Payload.Timestamp,
			Payload:   p.Payload,
		})
	}
	return candidates
}

// confidence is the mean total score plus 0.1 per memory above 0.7, the
// boost capped at 0.2.
func confidence(memories []types.EnhancedMemory) float64 {
	if len(memories) == 0 {
		return 0
	}
	var sum float64
	high := 0
	for _, m := range memories {
		sum += m.TotalScore
		if m.TotalScore > highQualityScore {
			high++
		}
	}
	boost := 0.1 * float64(high)
	if boost > 0.2 {
		boost = 0.2
	}
	return types.Clamp01(sum/float64(len(memories)) + boost)
}

func contextSummary(memories []types.EnhancedMemory, insights []types.Insight) string {
	var parts []string

	var recent []string
	seen := make(map[string]bool)
	for i := 0; i < len(memories) && i < 3; i++ {
		for _, t := range memories[i].Topics {
			if !seen[t] {
				seen[t] = true
				recent = append(recent, t)
			}
		}
	}
	if len(recent) > 0 {
		parts = append(parts, "Recent conversations about: "+strings.Join(recent, ", "))
	}

	var key []string
	for i := 0; i < len(insights) && i < 2; i++ {
		key = append(key, insights[i].Topic)
	}
	if len(key) > 0 {
		parts = append(parts, "Key farming insights: "+strings.Join(key, ", "))
	}

	return strings.Join(parts, "; ")
}

func messageIDs(memories []types.EnhancedMemory) []string {
	ids := make([]string, len(memories))
	for i, m := range memories {
		ids[i] = m.MessageID
	}
	return ids
}
