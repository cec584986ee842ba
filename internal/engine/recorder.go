package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/pkg/types"
)

// maxPayloadRunes caps the content stored in a vector payload.
const maxPayloadRunes = 500

// ModelEmbedder is an Embedder that also reports the model it uses.
type ModelEmbedder interface {
	Embedder
	ModelID() string
}

// RecordResult reports what happened to a recorded message.
type RecordResult struct {
	Message  *types.Message `json:"message"`
	VectorID string         `json:"vector_id,omitempty"` // empty when the message was not indexed
}

// Recorder writes conversation turns to the message store and indexes them
// for later retrieval.
type Recorder struct {
	store    storage.MessageStore
	index    storage.VectorIndex
	embedder ModelEmbedder
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRecorder creates a recorder. index and embedder may be nil, in which
// case messages are stored but not indexed.
func NewRecorder(store storage.MessageStore, index storage.VectorIndex, embedder ModelEmbedder, cfg Config, logger zerolog.Logger) *Recorder {
	return &Recorder{
		store:    store,
		index:    index,
		embedder: embedder,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "recorder").Logger(),
		now:      time.Now,
	}
}

// Record stores msg, assigning an ID and timestamp when absent, then embeds
// and indexes it. Only the store write can fail the call; indexing failures
// are logged and leave the message unindexed.
func (r *Recorder) Record(ctx context.Context, msg *types.Message) (*RecordResult, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: message is required", storage.ErrInvalidInput)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = r.now().UTC()
	}

	if err := r.appendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}

	result := &RecordResult{Message: msg}
	if r.index == nil || r.embedder == nil {
		return result, nil
	}

	vectorID, err := r.indexMessage(ctx, msg)
	if err != nil {
		r.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("message stored but not indexed")
		return result, nil
	}
	msg.EmbeddingID = vectorID
	result.VectorID = vectorID
	return result, nil
}

func (r *Recorder) appendMessage(ctx context.Context, msg *types.Message) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()
	return r.store.AppendMessage(ctx, msg)
}

// indexMessage embeds and indexes one stored message, returning the vector ID.
func (r *Recorder) indexMessage(ctx context.Context, msg *types.Message) (string, error) {
	payload, err := payloadFor(msg)
	if err != nil {
		return "", err
	}

	vector, err := r.embedder.Embed(ctx, msg.Content)
	if err != nil {
		return "", err
	}

	vectorID := uuid.NewString()
	if err := r.upsert(ctx, vectorID, vector, payload); err != nil {
		return "", fmt.Errorf("failed to index message: %w", err)
	}

	rec := types.EmbeddingRecord{
		VectorID:  vectorID,
		MessageID: msg.ID,
		ModelID:   r.embedder.ModelID(),
		CreatedAt: r.now().UTC(),
	}
	if err := r.recordEmbedding(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to record embedding: %w", err)
	}
	return vectorID, nil
}

func (r *Recorder) upsert(ctx context.Context, id string, vector []float32, payload types.MemoryPayload) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SearchTimeout)
	defer cancel()
	return r.index.Upsert(ctx, id, vector, payload)
}

func (r *Recorder) recordEmbedding(ctx context.Context, rec types.EmbeddingRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()
	return r.store.RecordEmbedding(ctx, rec)
}

// payloadFor builds the vector payload for msg. Content is truncated and
// metadata is normalized to its stored JSON form, so the payload equals what
// the index later returns for it.
func payloadFor(msg *types.Message) (types.MemoryPayload, error) {
	meta, err := types.NormalizeMetadata(msg.Metadata)
	if err != nil {
		return types.MemoryPayload{}, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	return types.MemoryPayload{
		MessageID:  msg.ID,
		UserID:     msg.UserID,
		SessionID:  msg.SessionID,
		Role:       msg.Role,
		Content:    truncateRunes(msg.Content, maxPayloadRunes),
		Timestamp:  msg.CreatedAt,
		TokenCount: msg.TokenCount,
		ModelID:    msg.ModelID,
		Metadata:   meta,
	}, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
