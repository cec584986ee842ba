package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/pkg/types"
)

// AppendMessage persists msg, creating its session and user profile when
// they do not exist yet.
func (s *Store) AppendMessage(ctx context.Context, msg *types.Message) error {
	if msg == nil {
		return storage.ErrInvalidInput
	}
	if strings.TrimSpace(msg.ID) == "" {
		return fmt.Errorf("%w: message ID is required", storage.ErrInvalidInput)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	metadata, err := marshalMap(msg.Metadata)
	if err != nil {
		return fmt.Errorf("%w: metadata: %v", storage.ErrInvalidInput, err)
	}
	created := formatTime(msg.CreatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		msg.UserID, created, created); err != nil {
		return fmt.Errorf("sqlite: failed to ensure user profile: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_sessions (id, user_id, started_at, last_activity, message_count)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT(id) DO NOTHING`,
		msg.SessionID, msg.UserID, created, created); err != nil {
		return fmt.Errorf("sqlite: failed to ensure session: %w", err)
	}

	var owner string
	if err := tx.QueryRowContext(ctx, `SELECT user_id FROM conversation_sessions WHERE id = ?`, msg.SessionID).Scan(&owner); err != nil {
		return fmt.Errorf("sqlite: failed to read session owner: %w", err)
	}
	if owner != msg.UserID {
		return fmt.Errorf("%w: session %s belongs to another user", storage.ErrInvalidInput, msg.SessionID)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation_messages
			(id, session_id, user_id, role, content, token_count, model_id, metadata, embedding_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.UserID, string(msg.Role), msg.Content,
		msg.TokenCount, msg.ModelID, metadata, msg.EmbeddingID, created); err != nil {
		return fmt.Errorf("sqlite: failed to insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversation_sessions
		SET message_count = message_count + 1,
		    last_activity = MAX(last_activity, ?)
		WHERE id = ?`,
		created, msg.SessionID); err != nil {
		return fmt.Errorf("sqlite: failed to update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit message: %w", err)
	}
	return nil
}

// GetMessages returns messages matching q, ordered by created_at.
func (s *Store) GetMessages(ctx context.Context, q storage.MessageQuery) ([]types.Message, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		clauses []string
		args    []interface{}
	)
	if q.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if q.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Role != "" {
		clauses = append(clauses, "role = ?")
		args = append(args, string(q.Role))
	}
	if !q.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(q.Since))
	}

	dir := "ASC"
	if q.Descending() {
		dir = "DESC"
	}

	query := `
		SELECT id, session_id, user_id, role, content, token_count, model_id, metadata, embedding_id, created_at
		FROM conversation_messages
		WHERE ` + strings.Join(clauses, " AND ") + `
		ORDER BY created_at ` + dir + `, rowid ` + dir
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := []types.Message{}
	for rows.Next() {
		var (
			m        types.Message
			role     string
			metadata string
			created  string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.UserID, &role, &m.Content,
			&m.TokenCount, &m.ModelID, &metadata, &m.EmbeddingID, &created); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan message: %w", err)
		}
		m.Role = types.Role(role)
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if m.Metadata, err = unmarshalMap(metadata); err != nil {
			return nil, fmt.Errorf("sqlite: message %s metadata: %w", m.ID, err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate messages: %w", err)
	}
	return messages, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*types.Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: session ID is required", storage.ErrInvalidInput)
	}

	var (
		sess            types.Session
		started, active string
		sessionContext  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, started_at, last_activity, message_count, context
		FROM conversation_sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.UserID, &started, &active, &sess.MessageCount, &sessionContext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get session: %w", err)
	}

	if sess.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if sess.LastActivity, err = parseTime(active); err != nil {
		return nil, err
	}
	if sess.Context, err = unmarshalMap(sessionContext); err != nil {
		return nil, fmt.Errorf("sqlite: session %s context: %w", id, err)
	}
	return &sess, nil
}

// RecordEmbedding stores rec and points the message at its vector.
func (s *Store) RecordEmbedding(ctx context.Context, rec types.EmbeddingRecord) error {
	if rec.VectorID == "" || rec.MessageID == "" {
		return fmt.Errorf("%w: vector ID and message ID are required", storage.ErrInvalidInput)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE conversation_messages SET embedding_id = ? WHERE id = ?`, rec.VectorID, rec.MessageID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to set embedding reference: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("sqlite: failed to read rows affected: %w", err)
	} else if n == 0 {
		return storage.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_embeddings (vector_id, message_id, model_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(vector_id) DO UPDATE SET
			message_id = excluded.message_id,
			model_id = excluded.model_id,
			created_at = excluded.created_at`,
		rec.VectorID, rec.MessageID, rec.ModelID, formatTime(rec.CreatedAt)); err != nil {
		return fmt.Errorf("sqlite: failed to store embedding record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit embedding record: %w", err)
	}
	return nil
}

// GetEmbeddingRecord returns the embedding record for a message.
func (s *Store) GetEmbeddingRecord(ctx context.Context, messageID string) (*types.EmbeddingRecord, error) {
	var (
		rec     types.EmbeddingRecord
		created string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT vector_id, message_id, model_id, created_at
		FROM memory_embeddings WHERE message_id = ?
		ORDER BY created_at DESC LIMIT 1`, messageID).
		Scan(&rec.VectorID, &rec.MessageID, &rec.ModelID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to get embedding record: %w", err)
	}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &rec, nil
}

func marshalMap(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalMap returns nil for an empty object.
func unmarshalMap(s string) (map[string]interface{}, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}
