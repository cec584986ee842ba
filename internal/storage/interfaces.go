// Package storage provides the small storage interfaces the memory engine
// consumes: a vector index with typed payloads, a read-only message
// repository and the write-side message store used by the recorder.
//
// Interfaces are kept narrow so that each engine component depends only on
// what it reads. Backends live in the sqlite and postgres subpackages.
package storage

import (
	"context"

	"github.com/scrypster/farmmemory/pkg/types"
)

// VectorIndex stores vectors with a typed payload and answers
// nearest-neighbour queries.
type VectorIndex interface {
	// Upsert creates or replaces the point with the given id.
	// Returns ErrInvalidInput for an empty id or vector.
	Upsert(ctx context.Context, id string, vector []float32, payload types.MemoryPayload) error

	// Query returns up to limit points matching filter whose cosine
	// similarity to vector is >= minScore, ordered by descending score.
	Query(ctx context.Context, vector []float32, filter Filter, limit int, minScore float64) ([]ScoredPoint, error)

	// Scroll returns up to limit payloads matching filter. Callers must not
	// rely on the order.
	Scroll(ctx context.Context, filter Filter, limit int) ([]types.MemoryPayload, error)
}

// MessageRepository is read access to durable conversation history.
type MessageRepository interface {
	// GetMessages returns messages matching q. Either SessionID or UserID
	// must be set; otherwise ErrInvalidInput is returned.
	GetMessages(ctx context.Context, q MessageQuery) ([]types.Message, error)

	// GetSession retrieves a session by ID.
	// Returns ErrNotFound if the session doesn't exist.
	GetSession(ctx context.Context, id string) (*types.Session, error)
}

// MessageStore is the write side of conversation history.
type MessageStore interface {
	MessageRepository

	// AppendMessage persists msg. The owning session is created when
	// missing and its message_count/last_activity are bumped; a bare user
	// profile is created when the user is unknown.
	AppendMessage(ctx context.Context, msg *types.Message) error

	// RecordEmbedding stores rec and sets the message's embedding
	// back-reference. Returns ErrNotFound if the message doesn't exist.
	RecordEmbedding(ctx context.Context, rec types.EmbeddingRecord) error

	// UpsertUserProfile creates or merges a profile. Zero-valued fields in
	// profile leave the stored values unchanged.
	UpsertUserProfile(ctx context.Context, profile *types.UserProfile) error

	// GetUserProfile retrieves a profile by user ID.
	// Returns ErrNotFound if the profile doesn't exist.
	GetUserProfile(ctx context.Context, userID string) (*types.UserProfile, error)

	// Close releases any resources held by the store.
	Close() error
}
