package sqlite

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/scrypster/farmmemory/internal/embedding"
	"github.com/scrypster/farmmemory/internal/storage"
	"github.com/scrypster/farmmemory/pkg/types"
)

// Upsert creates or replaces a vector point.
func (s *Store) Upsert(ctx context.Context, id string, vector []float32, payload types.MemoryPayload) error {
	if err := storage.ValidateVector(id, vector, s.dimension); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: payload: %v", storage.ErrInvalidInput, err)
	}
	ts := payload.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vector_points (id, user_id, session_id, message_id, created_at, dimension, vector, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			session_id = excluded.session_id,
			message_id = excluded.message_id,
			created_at = excluded.created_at,
			dimension = excluded.dimension,
			vector = excluded.vector,
			payload = excluded.payload`,
		id, payload.UserID, payload.SessionID, payload.MessageID, formatTime(ts),
		len(vector), encodeVector(vector), string(body))
	if err != nil {
		return fmt.Errorf("sqlite: failed to upsert vector %s: %w", id, err)
	}
	return nil
}

// Query ranks the newest candidateLimit points matching filter by cosine
// similarity to vector.
func (s *Store) Query(ctx context.Context, vector []float32, filter storage.Filter, limit int, minScore float64) ([]storage.ScoredPoint, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector cannot be empty", storage.ErrInvalidInput)
	}
	if limit <= 0 {
		return []storage.ScoredPoint{}, nil
	}

	where, args := filterClause(filter)
	args = append(args, s.candidateLimit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, vector, payload FROM vector_points`+where+`
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	points := []storage.ScoredPoint{}
	for rows.Next() {
		var (
			id   string
			blob []byte
			body string
		)
		if err := rows.Scan(&id, &blob, &body); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan vector: %w", err)
		}
		stored, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("skipping corrupt vector")
			continue
		}
		score := embedding.Similarity(vector, stored)
		if score < minScore {
			continue
		}
		var payload types.MemoryPayload
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("skipping point with corrupt payload")
			continue
		}
		points = append(points, storage.ScoredPoint{ID: id, Score: score, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate vectors: %w", err)
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Score > points[j].Score
	})
	if len(points) > limit {
		points = points[:limit]
	}
	return points, nil
}

// Scroll returns up to limit payloads matching filter, newest first.
func (s *Store) Scroll(ctx context.Context, filter storage.Filter, limit int) ([]types.MemoryPayload, error) {
	if limit <= 0 {
		return []types.MemoryPayload{}, nil
	}

	where, args := filterClause(filter)
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload FROM vector_points`+where+`
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to scroll vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	payloads := []types.MemoryPayload{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan payload: %w", err)
		}
		var payload types.MemoryPayload
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("skipping point with corrupt payload")
			continue
		}
		payloads = append(payloads, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to iterate payloads: %w", err)
	}
	return payloads, nil
}

func filterClause(f storage.Filter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("sqlite: vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
