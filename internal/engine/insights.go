package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/scrypster/farmmemory/internal/llm"
	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/internal/topics"
	"github.com/scrypster/farmmemory/pkg/types"
)

// InsightMiner turns a farmer's recent questions into ranked recurring
// topics.
type InsightMiner struct {
	history    storage.MessageRepository
	generator  llm.Generator
	classifier topics.Classifier
	limiter    *rate.Limiter
	cfg        Config
	logger     zerolog.Logger
	now        func() time.Time
}

// NewInsightMiner creates an insight miner. generator may be nil, in which
// case every insight uses the templated summary. limiter may be nil for no
// rate limiting.
func NewInsightMiner(history storage.MessageRepository, generator llm.Generator, classifier topics.Classifier, limiter *rate.Limiter, cfg Config, logger zerolog.Logger) *InsightMiner {
	if classifier == nil {
		classifier = topics.DefaultTaxonomy()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &InsightMiner{
		history:    history,
		generator:  generator,
		classifier: classifier,
		limiter:    limiter,
		cfg:        cfg.withDefaults(),
		logger:     logger.With().Str("component", "insights").Logger(),
		now:        time.Now,
	}
}

// topicBucket accumulates the messages that mention one topic.
type topicBucket struct {
	topic    topics.Topic
	messages []types.Message // ascending by created_at
}

// Insights returns up to limit insights for userID, most important first.
// limit <= 0 uses the configured default. Failures yield fewer or no
// insights, never an error.
func (m *InsightMiner) Insights(ctx context.Context, userID string, limit int) []types.Insight {
	if limit <= 0 {
		limit = m.cfg.InsightLimit
	}
	if m.history == nil {
		return []types.Insight{}
	}
	now := m.now()

	msgs, err := m.recentQuestions(ctx, userID, now)
	if err != nil {
		m.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to load history for insights")
		return []types.Insight{}
	}

	insights, buckets := m.rank(m.bucket(msgs), now)
	if len(insights) > limit {
		insights = insights[:limit]
		buckets = buckets[:limit]
	}
	m.summarize(ctx, insights, buckets)
	return insights
}

func (m *InsightMiner) recentQuestions(ctx context.Context, userID string, now time.Time) ([]types.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.LookupTimeout)
	defer cancel()
	return m.history.GetMessages(ctx, storage.MessageQuery{
		UserID: userID,
		Role:   types.RoleUser,
		Since:  now.Add(-m.cfg.InsightWindow),
		Order:  storage.OrderAsc,
	})
}

// bucket groups messages by topic in order of first mention. A message can
// land in several buckets.
func (m *InsightMiner) bucket(msgs []types.Message) []*topicBucket {
	var buckets []*topicBucket
	byTopic := make(map[topics.Topic]*topicBucket)
	for _, msg := range msgs {
		for _, t := range m.classifier.Topics(msg.Content) {
			b, ok := byTopic[t]
			if !ok {
				b = &topicBucket{topic: t}
				byTopic[t] = b
				buckets = append(buckets, b)
			}
			b.messages = append(b.messages, msg)
		}
	}
	return buckets
}

// rank scores frequent topics and keeps those above the importance bound,
// ordered by descending importance. The returned buckets are parallel to
// the insights.
func (m *InsightMiner) rank(buckets []*topicBucket, now time.Time) ([]types.Insight, []*topicBucket) {
	type ranked struct {
		insight types.Insight
		bucket  *topicBucket
	}

	var kept []ranked
	for _, b := range buckets {
		if len(b.messages) < m.cfg.InsightMinFrequency {
			continue
		}
		first, last := mentionSpan(b.messages)
		importance := importanceScore(len(b.messages), first, last, now)
		if importance <= m.cfg.InsightMinImportance {
			continue
		}
		kept = append(kept, ranked{
			insight: types.Insight{
				Topic:           string(b.topic),
				ImportanceScore: importance,
				Frequency:       len(b.messages),
				FirstMentioned:  first,
				LastMentioned:   last,
				RelatedSessions: relatedSessions(b.messages),
			},
			bucket: b,
		})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].insight.ImportanceScore > kept[j].insight.ImportanceScore
	})

	insights := make([]types.Insight, len(kept))
	out := make([]*topicBucket, len(kept))
	for i, k := range kept {
		insights[i] = k.insight
		out[i] = k.bucket
	}
	return insights, out
}

// summarize fills in each insight's summary concurrently. A failed call
// degrades that insight to the template without affecting the others.
func (m *InsightMiner) summarize(ctx context.Context, insights []types.Insight, buckets []*topicBucket) {
	var g errgroup.Group
	g.SetLimit(m.cfg.SummaryConcurrency)
	for i := range insights {
		g.Go(func() error {
			text, err := m.generate(ctx, insights[i].Topic, buckets[i].messages)
			if err != nil {
				m.logger.Warn().Err(err).Str("topic", insights[i].Topic).Msg("insight generation failed, using template")
				insights[i].Summary = fallbackInsight(insights[i].Topic, insights[i].Frequency)
				insights[i].SummarySource = types.SourceFallback
				return nil
			}
			insights[i].Summary = text
			insights[i].SummarySource = types.SourceGenerated
			return nil
		})
	}
	_ = g.Wait()
}

func (m *InsightMiner) generate(ctx context.Context, topic string, msgs []types.Message) (string, error) {
	if m.generator == nil {
		return "", fmt.Errorf("no generator configured")
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.GenerationTimeout)
	defer cancel()

	excerpts := make([]string, 0, llm.MaxTopicExcerpts)
	for i := len(msgs) - 1; i >= 0 && len(excerpts) < llm.MaxTopicExcerpts; i-- {
		excerpts = append(excerpts, msgs[i].Content)
	}

	completion, err := m.generator.Complete(ctx, llm.TopicInsightPrompt(topic, excerpts))
	if err != nil {
		return "", err
	}
	return llm.ParseTopicInsight(completion.Text)
}

// importanceScore weighs how often, how recently and over how long a topic
// was mentioned.
func importanceScore(frequency int, first, last, now time.Time) float64 {
	freq := math.Min(1, float64(frequency)/frequencySaturation)
	recency := recencyScore(last, now)
	consistency := math.Min(1, wholeDays(last.Sub(first))/consistencySpanDays)
	return types.Clamp01(0.4*freq + 0.35*recency + 0.25*consistency)
}

func mentionSpan(msgs []types.Message) (first, last time.Time) {
	first, last = msgs[0].CreatedAt, msgs[0].CreatedAt
	for _, msg := range msgs[1:] {
		if msg.CreatedAt.Before(first) {
			first = msg.CreatedAt
		}
		if msg.CreatedAt.After(last) {
			last = msg.CreatedAt
		}
	}
	return first, last
}

func relatedSessions(msgs []types.Message) []string {
	seen := make(map[string]bool)
	sessions := []string{}
	for _, msg := range msgs {
		if msg.SessionID != "" && !seen[msg.SessionID] {
			seen[msg.SessionID] = true
			sessions = append(sessions, msg.SessionID)
		}
	}
	return sessions
}

func fallbackInsight(topic string, frequency int) string {
	return fmt.Sprintf("Frequently discussed: %s (%d times)", topic, frequency)
}
