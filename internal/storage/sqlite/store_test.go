package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/pkg/types"
)

var base = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

// newTestStore creates an in-memory store with 3-dimensional vectors.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), ":memory:", Options{Dimension: 3, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func appendMessage(t *testing.T, s *Store, id, session, user string, role types.Role, content string, at time.Time) {
	t.Helper()
	require.NoError(t, s.AppendMessage(context.Background(), &types.Message{
		ID:        id,
		SessionID: session,
		UserID:    user,
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}))
}

func TestAppendMessageCreatesSessionAndProfile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendMessage(t, s, "m1", "s1", "u1", types.RoleUser, "My coffee leaves have spots", base)
	appendMessage(t, s, "m2", "s1", "u1", types.RoleAssistant, "That may be leaf rust", base.Add(time.Minute))

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)
	assert.Equal(t, 2, sess.MessageCount)
	assert.True(t, sess.StartedAt.Equal(base))
	assert.True(t, sess.LastActivity.Equal(base.Add(time.Minute)))

	profile, err := s.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", profile.UserID)
	assert.Empty(t, profile.Name)
}

func TestAppendMessageRejectsInvalidInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  *types.Message
	}{
		{"nil", nil},
		{"missing id", &types.Message{SessionID: "s", UserID: "u", Role: types.RoleUser, Content: "hi"}},
		{"missing session", &types.Message{ID: "m", UserID: "u", Role: types.RoleUser, Content: "hi"}},
		{"bad role", &types.Message{ID: "m", SessionID: "s", UserID: "u", Role: "system", Content: "hi"}},
		{"empty content", &types.Message{ID: "m", SessionID: "s", UserID: "u", Role: types.RoleUser, Content: " "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.AppendMessage(ctx, tt.msg)
			assert.ErrorIs(t, err, storage.ErrInvalidInput)
		})
	}
}

func TestAppendMessageRejectsForeignSession(t *testing.T) {
	s := newTestStore(t)
	appendMessage(t, s, "m1", "s1", "u1", types.RoleUser, "hello", base)

	err := s.AppendMessage(context.Background(), &types.Message{
		ID: "m2", SessionID: "s1", UserID: "u2", Role: types.RoleUser, Content: "hijack",
	})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestGetMessagesOrderingAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	appendMessage(t, s, "a", "s1", "u1", types.RoleUser, "first", base)
	appendMessage(t, s, "b", "s1", "u1", types.RoleAssistant, "second", base.Add(time.Minute))
	appendMessage(t, s, "c", "s2", "u1", types.RoleUser, "third", base.Add(2*time.Minute))
	appendMessage(t, s, "d", "s3", "u2", types.RoleUser, "other farmer", base.Add(3*time.Minute))

	ids := func(msgs []types.Message) []string {
		out := make([]string, len(msgs))
		for i, m := range msgs {
			out[i] = m.ID
		}
		return out
	}

	msgs, err := s.GetMessages(ctx, storage.MessageQuery{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(msgs))

	msgs, err = s.GetMessages(ctx, storage.MessageQuery{UserID: "u1", Order: storage.OrderDesc, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, ids(msgs))

	msgs, err = s.GetMessages(ctx, storage.MessageQuery{UserID: "u1", Role: types.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(msgs))

	msgs, err = s.GetMessages(ctx, storage.MessageQuery{UserID: "u1", Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(msgs))

	msgs, err = s.GetMessages(ctx, storage.MessageQuery{SessionID: "missing"})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = s.GetMessages(ctx, storage.MessageQuery{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestMessageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := &types.Message{
		ID:         "m1",
		SessionID:  "s1",
		UserID:     "u1",
		Role:       types.RoleAssistant,
		Content:    "Spray copper fungicide before the long rains.",
		TokenCount: 42,
		ModelID:    "qwen2.5:7b",
		CreatedAt:  base,
		Metadata:   map[string]interface{}{"channel": "sms"},
	}
	require.NoError(t, s.AppendMessage(ctx, in))

	msgs, err := s.GetMessages(ctx, storage.MessageQuery{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, *in, msgs[0])
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRecordEmbedding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	appendMessage(t, s, "m1", "s1", "u1", types.RoleUser, "coffee prices", base)

	rec := types.EmbeddingRecord{VectorID: "v1", MessageID: "m1", ModelID: "all-minilm", CreatedAt: base}
	require.NoError(t, s.RecordEmbedding(ctx, rec))

	got, err := s.GetEmbeddingRecord(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, rec, *got)

	msgs, err := s.GetMessages(ctx, storage.MessageQuery{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "v1", msgs[0].EmbeddingID)

	err = s.RecordEmbedding(ctx, types.EmbeddingRecord{VectorID: "v2", MessageID: "missing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpsertUserProfileMerges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &types.UserProfile{
		UserID:          "u1",
		Name:            "Wanjiru",
		Location:        "Nyeri",
		FarmSizeAcres:   2.5,
		CoffeeVarieties: []string{"SL28", "Ruiru 11"},
	}
	require.NoError(t, s.UpsertUserProfile(ctx, first))
	assert.False(t, first.CreatedAt.IsZero())

	require.NoError(t, s.UpsertUserProfile(ctx, &types.UserProfile{UserID: "u1", Phone: "+254700000000", ExperienceYears: 12}))

	got, err := s.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Wanjiru", got.Name)
	assert.Equal(t, "Nyeri", got.Location)
	assert.Equal(t, "+254700000000", got.Phone)
	assert.Equal(t, 2.5, got.FarmSizeAcres)
	assert.Equal(t, 12, got.ExperienceYears)
	assert.Equal(t, []string{"SL28", "Ruiru 11"}, got.CoffeeVarieties)

	assert.ErrorIs(t, s.UpsertUserProfile(ctx, &types.UserProfile{}), storage.ErrInvalidInput)
	assert.ErrorIs(t, s.UpsertUserProfile(ctx, &types.UserProfile{UserID: "u2", FarmSizeAcres: -1}), storage.ErrInvalidInput)

	_, err = s.GetUserProfile(ctx, "u2")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOpenFileDatabaseReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "farm.db")
	ctx := context.Background()

	s, err := Open(ctx, path, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, &types.Message{
		ID: "m1", SessionID: "s1", UserID: "u1", Role: types.RoleUser, Content: "hello", CreatedAt: base,
	}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	msgs, err := s.GetMessages(ctx, storage.MessageQuery{SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestDBPathFromDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{":memory:", ""},
		{"", ""},
		{"/data/farm.db", "/data/farm.db"},
		{"/data/farm.db?_pragma=busy_timeout(5000)", "/data/farm.db"},
		{"file:/data/farm.db?mode=rwc", "/data/farm.db"},
		{"file::memory:", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dbPathFromDSN(tt.dsn), tt.dsn)
	}
}
