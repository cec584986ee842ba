package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/farmmemory/internal/topics"
	"github.com/scrypster/farmmemory/pkg/types"
)

func newTestRelevance(history *fakeHistory, classifier topics.Classifier) *RelevanceEngine {
	var r *RelevanceEngine
	if history == nil {
		r = NewRelevanceEngine(classifier, nil, DefaultConfig(), zerolog.Nop())
	} else {
		r = NewRelevanceEngine(classifier, history, DefaultConfig(), zerolog.Nop())
	}
	r.now = func() time.Time { return testNow }
	return r
}

func candidate(id, session, text string, score float64, at time.Time) types.MemoryCandidate {
	return types.MemoryCandidate{
		MessageID: id,
		Excerpt:   text,
		Score:     score,
		SessionID: session,
		Timestamp: at,
		Payload:   types.MemoryPayload{MessageID: id, SessionID: session, Content: text, Timestamp: at},
	}
}

func TestEnhanceLeafRustScenario(t *testing.T) {
	history := &fakeHistory{}
	history.add("a", "s1", "u1", types.RoleUser, "brown spots on leaves, is this CLR?", daysAgo(2))
	history.add("a2", "s1", "u1", types.RoleAssistant, "Possibly coffee leaf rust.", daysAgo(2))
	r := newTestRelevance(history, nil)

	out := r.Enhance(context.Background(), "u1", "My coffee plants have orange spots", []types.MemoryCandidate{
		candidate("a", "s1", "brown spots on leaves, is this CLR?", 0.82, daysAgo(2)),
	})

	require.Len(t, out, 1)
	m := out[0]
	assert.True(t, m.Enhanced)
	assert.Equal(t, types.MemoryTypeProblemSolving, m.MemoryType)
	assert.InDelta(t, 0.82, m.Factors.Semantic, 1e-9)
	assert.InDelta(t, 28.0/30.0, m.Factors.Recency, 1e-9)
	assert.Zero(t, m.Factors.Frequency)
	assert.Zero(t, m.Factors.TopicAlignment) // query is about coffee, memory about pests
	assert.InDelta(t, 0.8, m.Factors.Continuity, 1e-9)
	assert.InDelta(t, 0.4*0.82+0.15*28.0/30.0+0.15*0.8, m.TotalScore, 1e-9)
	assert.Equal(t, []string{"pests"}, m.Topics)
}

func TestEnhanceEmptyCandidates(t *testing.T) {
	r := newTestRelevance(&fakeHistory{}, nil)
	out := r.Enhance(context.Background(), "u1", "anything", nil)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestEnhanceOrderingAndTies(t *testing.T) {
	r := newTestRelevance(nil, nil)
	at := daysAgo(1)
	out := r.Enhance(context.Background(), "u1", "hello", []types.MemoryCandidate{
		candidate("low", "", "good morning", 0.6, at),
		candidate("tie-1", "", "good evening", 0.9, at),
		candidate("tie-2", "", "good night", 0.9, at),
		candidate("mid", "", "good day", 0.75, at),
	})

	ids := make([]string, len(out))
	for i, m := range out {
		ids[i] = m.MessageID
	}
	assert.Equal(t, []string{"tie-1", "tie-2", "mid", "low"}, ids)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i-1].TotalScore, out[i].TotalScore)
	}
}

func TestEnhanceScoresStayInRange(t *testing.T) {
	r := newTestRelevance(nil, nil)
	out := r.Enhance(context.Background(), "u1", "coffee price", []types.MemoryCandidate{
		candidate("over", "", "coffee price at the cooperative", 1.7, testNow.Add(48*time.Hour)),
		candidate("under", "", "coffee", -0.4, time.Time{}),
		candidate("old", "", "coffee market", 0.7, daysAgo(400)),
		candidate("nan", "", "coffee", math.NaN(), daysAgo(1)),
	})
	require.Len(t, out, 4)
	for i, m := range out {
		if i > 0 {
			assert.GreaterOrEqual(t, out[i-1].TotalScore, m.TotalScore)
		}
		assert.GreaterOrEqual(t, m.TotalScore, 0.0, m.MessageID)
		assert.LessOrEqual(t, m.TotalScore, 1.0, m.MessageID)
		for _, f := range []float64{m.Factors.Semantic, m.Factors.Recency, m.Factors.TopicAlignment, m.Factors.Continuity} {
			assert.GreaterOrEqual(t, f, 0.0)
			assert.LessOrEqual(t, f, 1.0)
		}
	}
}

func TestEnhanceRecencyAndTopicDefaults(t *testing.T) {
	r := newTestRelevance(nil, nil)
	out := r.Enhance(context.Background(), "u1", "good morning", []types.MemoryCandidate{
		candidate("undated", "", "coffee market", 0.7, time.Time{}),
	})
	require.Len(t, out, 1)
	assert.Zero(t, out[0].Factors.Recency)
	assert.Equal(t, 0.3, out[0].Factors.TopicAlignment) // query has no topics
	assert.Equal(t, 0.3, out[0].Factors.Continuity)     // no session
}

func TestEnhanceTopicAlignmentFraction(t *testing.T) {
	r := newTestRelevance(nil, nil)
	out := r.Enhance(context.Background(), "u1", "coffee prices after the rain", []types.MemoryCandidate{
		candidate("m", "", "rain damaged my coffee", 0.7, daysAgo(1)),
	})
	require.Len(t, out, 1)
	// Query topics: coffee, weather, market. Memory: coffee, weather.
	assert.InDelta(t, 2.0/3.0, out[0].Factors.TopicAlignment, 1e-9)
}

func TestEnhanceContinuity(t *testing.T) {
	history := &fakeHistory{}
	history.add("1", "busy", "u1", types.RoleUser, "one", daysAgo(1))
	history.add("2", "busy", "u1", types.RoleAssistant, "two", daysAgo(1))
	history.add("3", "quiet", "u1", types.RoleUser, "three", daysAgo(1))
	history.add("4", "foreign", "u2", types.RoleUser, "four", daysAgo(1))
	history.add("5", "foreign", "u2", types.RoleUser, "five", daysAgo(1))
	r := newTestRelevance(history, nil)

	out := r.Enhance(context.Background(), "u1", "q", []types.MemoryCandidate{
		candidate("a", "busy", "x", 0.7, daysAgo(1)),
		candidate("b", "quiet", "x", 0.7, daysAgo(1)),
		candidate("c", "foreign", "x", 0.7, daysAgo(1)),
		candidate("d", "busy", "y", 0.7, daysAgo(1)),
	})

	got := map[string]float64{}
	for _, m := range out {
		got[m.MessageID] = m.Factors.Continuity
	}
	assert.Equal(t, map[string]float64{"a": 0.8, "b": 0.6, "c": 0.3, "d": 0.8}, got)
	assert.Len(t, history.queries, 3, "each session is looked up once")
	for _, q := range history.queries {
		assert.Equal(t, 5, q.Limit)
		assert.Equal(t, "u1", q.UserID)
	}
}

func TestEnhanceContinuityLookupError(t *testing.T) {
	r := newTestRelevance(&fakeHistory{err: errBoom}, nil)
	out := r.Enhance(context.Background(), "u1", "q", []types.MemoryCandidate{
		candidate("a", "s1", "x", 0.7, daysAgo(1)),
	})
	require.Len(t, out, 1)
	assert.True(t, out[0].Enhanced)
	assert.Equal(t, 0.3, out[0].Factors.Continuity)
}

func TestEnhanceIsolatesPanics(t *testing.T) {
	classifier := panicClassifier{inner: topics.DefaultTaxonomy(), trigger: "explode"}
	r := newTestRelevance(nil, classifier)

	out := r.Enhance(context.Background(), "u1", "coffee", []types.MemoryCandidate{
		candidate("ok", "", "coffee harvest", 0.7, daysAgo(1)),
		candidate("bad", "", "please explode", 0.95, daysAgo(1)),
	})
	require.Len(t, out, 2)

	byID := map[string]types.EnhancedMemory{}
	for _, m := range out {
		byID[m.MessageID] = m
	}
	assert.True(t, byID["ok"].Enhanced)
	bad := byID["bad"]
	assert.False(t, bad.Enhanced)
	assert.Equal(t, 0.95, bad.TotalScore)
	assert.Equal(t, types.RelevanceFactors{}, bad.Factors)
	assert.Equal(t, "bad", out[0].MessageID, "unenhanced candidates still sort by score")
}

func TestEnhanceQueryClassifierPanic(t *testing.T) {
	classifier := panicClassifier{inner: topics.DefaultTaxonomy(), trigger: "explode"}
	r := newTestRelevance(nil, classifier)
	out := r.Enhance(context.Background(), "u1", "explode", []types.MemoryCandidate{
		candidate("ok", "", "coffee harvest", 0.7, daysAgo(1)),
	})
	require.Len(t, out, 1)
	assert.True(t, out[0].Enhanced)
	assert.Equal(t, 0.3, out[0].Factors.TopicAlignment)
}

func TestRecencyScore(t *testing.T) {
	assert.Equal(t, 1.0, recencyScore(testNow, testNow))
	assert.Equal(t, 1.0, recencyScore(testNow.Add(time.Hour), testNow))
	assert.Equal(t, 1.0, recencyScore(testNow.Add(-23*time.Hour), testNow))
	assert.InDelta(t, 0.5, recencyScore(daysAgo(15), testNow), 1e-9)
	assert.Zero(t, recencyScore(daysAgo(30), testNow))
	assert.Zero(t, recencyScore(daysAgo(90), testNow))
	assert.Zero(t, recencyScore(time.Time{}, testNow))
}
