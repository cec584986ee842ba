package storage

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/scrypster/farmmemory/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// Filter restricts vector index operations to one user and optionally one
// session. Empty fields do not filter.
type Filter struct {
	UserID    string
	SessionID string
}

// Matches reports whether payload satisfies the filter.
func (f Filter) Matches(p types.MemoryPayload) bool {
	if f.UserID != "" && p.UserID != f.UserID {
		return false
	}
	if f.SessionID != "" && p.SessionID != f.SessionID {
		return false
	}
	return true
}

// ScoredPoint is one nearest-neighbour hit.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload types.MemoryPayload
}

// SortOrder is the chronological order of a message listing.
type SortOrder string

const (
	// OrderAsc lists oldest first.
	OrderAsc SortOrder = "asc"

	// OrderDesc lists newest first.
	OrderDesc SortOrder = "desc"
)

// MessageQuery selects messages by session or by user.
type MessageQuery struct {
	// SessionID restricts results to one session.
	SessionID string

	// UserID restricts results to one user.
	UserID string

	// Role filters by author. Empty means both roles.
	Role types.Role

	// Since excludes messages created before this time. Zero means no bound.
	Since time.Time

	// Order is the sort direction by created_at (default: asc).
	Order SortOrder

	// Limit caps the result size. Zero or negative means no limit.
	Limit int
}

// Validate checks that the query names a session or a user.
func (q MessageQuery) Validate() error {
	if strings.TrimSpace(q.SessionID) == "" && strings.TrimSpace(q.UserID) == "" {
		return fmt.Errorf("%w: session_id or user_id is required", ErrInvalidInput)
	}
	if q.Role != "" && !q.Role.IsValid() {
		return fmt.Errorf("%w: invalid role %q", ErrInvalidInput, q.Role)
	}
	switch q.Order {
	case "", OrderAsc, OrderDesc:
	default:
		return fmt.Errorf("%w: invalid order %q", ErrInvalidInput, q.Order)
	}
	return nil
}

// Descending reports whether results should be newest first.
func (q MessageQuery) Descending() bool {
	return q.Order == OrderDesc
}

// ValidateVector checks a vector before it is written to an index.
func ValidateVector(id string, vector []float32, dimension int) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: point id is required", ErrInvalidInput)
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: vector cannot be empty", ErrInvalidInput)
	}
	if dimension > 0 && len(vector) != dimension {
		return fmt.Errorf("%w: vector length (%d) does not match dimension (%d)", ErrInvalidInput, len(vector), dimension)
	}
	var norm float64
	for _, x := range vector {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: vector has non-finite components", ErrInvalidInput)
		}
		norm += f * f
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero vector cannot be indexed", ErrInvalidInput)
	}
	return nil
}
