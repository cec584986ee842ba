package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/internal/storage/sqlite"
	"github.com/scrypster/farmmemory/pkg/types"
)

func newTestSQLite(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:", sqlite.Options{Dimension: 3, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordStoresAndIndexes(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	rec := NewRecorder(store, store, &fakeEmbedder{vector: []float32{1, 0, 0}}, DefaultConfig(), zerolog.Nop())
	rec.now = func() time.Time { return testNow }

	res, err := rec.Record(ctx, &types.Message{
		SessionID: "s1",
		UserID:    "u1",
		Role:      types.RoleUser,
		Content:   "brown spots on leaves, is this CLR?",
		Metadata:  map[string]interface{}{"channel": "whatsapp"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Message.ID)
	require.NotEmpty(t, res.VectorID)
	assert.True(t, res.Message.CreatedAt.Equal(testNow))

	msgs, err := store.GetMessages(ctx, storage.MessageQuery{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, res.VectorID, msgs[0].EmbeddingID)

	embedding, err := store.GetEmbeddingRecord(ctx, res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, "fake-embed", embedding.ModelID)

	points, err := store.Query(ctx, []float32{1, 0, 0}, storage.Filter{UserID: "u1", SessionID: "s1"}, 5, 0.6)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, res.VectorID, points[0].ID)
	assert.Equal(t, types.MemoryPayload{
		MessageID: res.Message.ID,
		UserID:    "u1",
		SessionID: "s1",
		Role:      types.RoleUser,
		Content:   "brown spots on leaves, is this CLR?",
		Timestamp: testNow,
		Metadata:  map[string]interface{}{"channel": "whatsapp"},
	}, points[0].Payload)

	scrolled, err := store.Scroll(ctx, storage.Filter{UserID: "u1"}, 10)
	require.NoError(t, err)
	assert.Equal(t, []types.MemoryPayload{points[0].Payload}, scrolled)
}

func TestRecordEmbeddingFailureStillStores(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	rec := NewRecorder(store, store, &fakeEmbedder{err: errBoom}, DefaultConfig(), zerolog.Nop())

	res, err := rec.Record(ctx, &types.Message{SessionID: "s1", UserID: "u1", Role: types.RoleUser, Content: "hello"})
	require.NoError(t, err)
	assert.Empty(t, res.VectorID)

	sess, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.MessageCount)
}

func TestRecordRejectsInvalidMessage(t *testing.T) {
	store := newTestSQLite(t)
	rec := NewRecorder(store, store, &fakeEmbedder{vector: []float32{1, 0, 0}}, DefaultConfig(), zerolog.Nop())

	_, err := rec.Record(context.Background(), &types.Message{SessionID: "s1", UserID: "u1", Role: types.RoleUser})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = rec.Record(context.Background(), nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestPayloadForTruncatesAndCarriesMetadata(t *testing.T) {
	msg := &types.Message{
		ID:         "m1",
		SessionID:  "s1",
		UserID:     "u1",
		Role:       types.RoleAssistant,
		Content:    strings.Repeat("ú", 600),
		TokenCount: 120,
		ModelID:    "qwen2.5:7b",
		CreatedAt:  testNow,
		Metadata:   map[string]interface{}{"turn": 3, "tags": []string{"rust"}},
	}
	p, err := payloadFor(msg)
	require.NoError(t, err)
	assert.Equal(t, 500, len([]rune(p.Content)))
	assert.Equal(t, 120, p.TokenCount)
	assert.Equal(t, "qwen2.5:7b", p.ModelID)
	assert.Equal(t, map[string]interface{}{"turn": 3.0, "tags": []interface{}{"rust"}}, p.Metadata)

	p, err = payloadFor(&types.Message{ID: "m2", Content: "hi"})
	require.NoError(t, err)
	assert.Nil(t, p.Metadata)
	assert.Equal(t, "hi", p.Content)

	_, err = payloadFor(&types.Message{ID: "m3", Content: "hi", Metadata: map[string]interface{}{"bad": make(chan int)}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestRecordPayloadSurvivesIndexRoundTrip(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	rec := NewRecorder(store, store, &fakeEmbedder{vector: []float32{1, 0, 0}}, DefaultConfig(), zerolog.Nop())
	rec.now = func() time.Time { return testNow }

	msg := &types.Message{
		SessionID:  "s1",
		UserID:     "u1",
		Role:       types.RoleAssistant,
		Content:    "Spray copper fungicide every two weeks.",
		TokenCount: 42,
		ModelID:    "qwen2.5:7b",
		Metadata: map[string]interface{}{
			"turn":    3,
			"dose_ml": 12.5,
			"channel": "sms",
			"plots":   []int{1, 2},
		},
	}
	_, err := rec.Record(ctx, msg)
	require.NoError(t, err)

	want, err := payloadFor(msg)
	require.NoError(t, err)

	scrolled, err := store.Scroll(ctx, storage.Filter{UserID: "u1", SessionID: "s1"}, 10)
	require.NoError(t, err)
	require.Len(t, scrolled, 1)
	assert.Equal(t, want, scrolled[0])

	points, err := store.Query(ctx, []float32{1, 0, 0}, storage.Filter{UserID: "u1"}, 5, 0.6)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, want, points[0].Payload)
}

// deadlineStore records whether each write carried a deadline.
type deadlineStore struct {
	storage.MessageStore
	appendBounded bool
	recordBounded bool
}

func (d *deadlineStore) AppendMessage(ctx context.Context, msg *types.Message) error {
	_, d.appendBounded = ctx.Deadline()
	return d.MessageStore.AppendMessage(ctx, msg)
}

func (d *deadlineStore) RecordEmbedding(ctx context.Context, rec types.EmbeddingRecord) error {
	_, d.recordBounded = ctx.Deadline()
	return d.MessageStore.RecordEmbedding(ctx, rec)
}

func TestRecordBoundsEveryStoreCall(t *testing.T) {
	store := &deadlineStore{MessageStore: newTestSQLite(t)}
	idx := &fakeIndex{}
	rec := NewRecorder(store, idx, &fakeEmbedder{vector: []float32{1, 0, 0}}, DefaultConfig(), zerolog.Nop())

	_, err := rec.Record(context.Background(), &types.Message{SessionID: "s1", UserID: "u1", Role: types.RoleUser, Content: "hello"})
	require.NoError(t, err)
	assert.True(t, store.appendBounded, "AppendMessage should run with a deadline")
	assert.True(t, store.recordBounded, "RecordEmbedding should run with a deadline")
	assert.True(t, idx.upsertBounded, "Upsert should run with a deadline")
}

func TestRecordedMessagesFeedComposer(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	rec := NewRecorder(store, store, &fakeEmbedder{vector: []float32{1, 0, 0}}, DefaultConfig(), zerolog.Nop())

	for _, m := range []types.Message{
		{SessionID: "s1", UserID: "u1", Role: types.RoleUser, Content: "brown spots on leaves, is this CLR?", CreatedAt: daysAgo(2)},
		{SessionID: "s1", UserID: "u1", Role: types.RoleAssistant, Content: "That is likely coffee leaf rust.", CreatedAt: daysAgo(2).Add(time.Minute)},
	} {
		_, err := rec.Record(ctx, &m)
		require.NoError(t, err)
	}

	cfg := DefaultConfig()
	relevance := NewRelevanceEngine(nil, store, cfg, zerolog.Nop())
	relevance.now = func() time.Time { return testNow }
	composer := NewContextComposer(&fakeEmbedder{vector: []float32{1, 0, 0}}, store, relevance, nil, cfg, zerolog.Nop())

	got := composer.Compose(ctx, "u1", "My coffee plants have orange spots", ComposeOptions{})
	require.Len(t, got.RelevantMemories, 2)
	for _, m := range got.RelevantMemories {
		assert.True(t, m.Enhanced)
		assert.Equal(t, 0.8, m.Factors.Continuity)
	}
	assert.Greater(t, got.Confidence, 0.0)

	other := composer.Compose(ctx, "u2", "My coffee plants have orange spots", ComposeOptions{})
	assert.Empty(t, other.RelevantMemories)
}
