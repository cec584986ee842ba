package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If FARMMEM_TEST_POSTGRES_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("FARMMEM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FARMMEM_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestIndex(t *testing.T) *VectorIndex {
	t.Helper()
	idx, err := Open(context.Background(), postgresTestDSN(t), Options{Dimension: 3, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestFilterClause(t *testing.T) {
	args := []interface{}{"vec", 0.5}
	where := filterClause(storage.Filter{UserID: "u1", SessionID: "s1"}, &args)
	assert.Equal(t, " AND user_id = $3 AND session_id = $4", where)
	assert.Equal(t, []interface{}{"vec", 0.5, "u1", "s1"}, args)

	args = nil
	assert.Empty(t, filterClause(storage.Filter{}, &args))
	assert.Empty(t, args)
}

func TestVectorIndexRoundTrip(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	// Unique user per run keeps the test independent of leftover rows.
	user := "u-" + uuid.NewString()
	at := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	mk := func(msg, session string, ts time.Time) types.MemoryPayload {
		return types.MemoryPayload{
			MessageID: msg, UserID: user, SessionID: session,
			Role: types.RoleUser, Content: "about " + msg, Timestamp: ts,
		}
	}

	exactID, closeID, farID := uuid.NewString(), uuid.NewString(), uuid.NewString()
	require.NoError(t, idx.Upsert(ctx, exactID, []float32{1, 0, 0}, mk("exact", "s1", at)))
	require.NoError(t, idx.Upsert(ctx, closeID, []float32{0.9, 0.1, 0}, mk("close", "s2", at.Add(time.Hour))))
	require.NoError(t, idx.Upsert(ctx, farID, []float32{0, 1, 0}, mk("far", "s1", at)))

	points, err := idx.Query(ctx, []float32{1, 0, 0}, storage.Filter{UserID: user}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, exactID, points[0].ID)
	assert.InDelta(t, 1.0, points[0].Score, 1e-5)
	assert.Equal(t, "close", points[1].Payload.MessageID)
	assert.True(t, points[1].Payload.Timestamp.Equal(at.Add(time.Hour)))

	points, err = idx.Query(ctx, []float32{1, 0, 0}, storage.Filter{UserID: user, SessionID: "s1"}, 10, -1)
	require.NoError(t, err)
	assert.Len(t, points, 2)

	payloads, err := idx.Scroll(ctx, storage.Filter{UserID: user}, 1)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, "close", payloads[0].MessageID)

	assert.ErrorIs(t, idx.Upsert(ctx, uuid.NewString(), []float32{1, 0}, mk("bad", "s1", at)), storage.ErrInvalidInput)
}

func TestVectorIndexPayloadRoundTripWithNumericMetadata(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	meta, err := types.NormalizeMetadata(map[string]interface{}{"turn": 3, "dose_ml": 12.5, "plots": []int{1, 2}})
	require.NoError(t, err)
	want := types.MemoryPayload{
		MessageID:  "numeric",
		UserID:     "u-" + uuid.NewString(),
		SessionID:  "s1",
		Role:       types.RoleAssistant,
		Content:    "Spray copper fungicide every two weeks.",
		Timestamp:  time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
		TokenCount: 42,
		ModelID:    "qwen2.5:7b",
		Metadata:   meta,
	}
	require.NoError(t, idx.Upsert(ctx, uuid.NewString(), []float32{1, 0, 0}, want))

	points, err := idx.Query(ctx, []float32{1, 0, 0}, storage.Filter{UserID: want.UserID}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, want, points[0].Payload)

	scrolled, err := idx.Scroll(ctx, storage.Filter{UserID: want.UserID}, 5)
	require.NoError(t, err)
	assert.Equal(t, []types.MemoryPayload{want}, scrolled)
}
