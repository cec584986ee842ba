// Package embedding turns message text into fixed-dimension vectors and
// measures the similarity between them.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/scrypster/farmmemory/internal/llm"
)

// ErrEmbedderUnavailable is returned when the encoder fails, times out or
// produces a vector of the wrong shape.
var ErrEmbedderUnavailable = errors.New("embedder unavailable")

// Default encoder settings.
const (
	DefaultDimension = 384
	DefaultTimeout   = 10 * time.Second
	MaxInputRunes    = 2000
	truncationSuffix = "..."
)

// Config configures a Gateway.
type Config struct {
	Dimension int           // expected vector length (default 384)
	Timeout   time.Duration // per-call timeout (default 10s)
}

// Gateway wraps an llm.EmbeddingGenerator with input cleaning, a per-call
// timeout and output shape validation. It is safe for concurrent use.
type Gateway struct {
	encoder   llm.EmbeddingGenerator
	dimension int
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewGateway creates a Gateway around encoder.
func NewGateway(encoder llm.EmbeddingGenerator, cfg Config, logger zerolog.Logger) *Gateway {
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultDimension
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Gateway{
		encoder:   encoder,
		dimension: cfg.Dimension,
		timeout:   cfg.Timeout,
		logger:    logger.With().Str("component", "embedding").Logger(),
	}
}

// Dimension returns the vector length every result is checked against.
func (g *Gateway) Dimension() int { return g.dimension }

// ModelID returns the encoder's model name.
func (g *Gateway) ModelID() string { return g.encoder.GetModel() }

// CleanText trims text, collapses runs of whitespace into single spaces and
// truncates to MaxInputRunes, appending "..." when truncated.
func CleanText(text string) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(cleaned) <= MaxInputRunes {
		return cleaned
	}
	runes := []rune(cleaned)
	return string(runes[:MaxInputRunes]) + truncationSuffix
}

// Embed encodes text into a vector of the configured dimension.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	vec, err := g.encoder.Embed(ctx, CleanText(text))
	if err != nil {
		g.logger.Warn().Err(err).Msg("embedding request failed")
		return nil, fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
	}
	if err := g.checkShape(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedBatch encodes texts, returning vectors in input order. It uses the
// encoder's batch call when available and falls back to sequential calls.
// The whole batch fails if any single vector fails.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	batcher, ok := g.encoder.(llm.BatchEmbedder)
	if !ok {
		out := make([][]float32, len(texts))
		for i, text := range texts {
			vec, err := g.Embed(ctx, text)
			if err != nil {
				return nil, err
			}
			out[i] = vec
		}
		return out, nil
	}

	cleaned := make([]string, len(texts))
	for i, text := range texts {
		cleaned[i] = CleanText(text)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	vecs, err := batcher.EmbedBatch(ctx, cleaned)
	if err != nil {
		g.logger.Warn().Err(err).Int("batch_size", len(texts)).Msg("batch embedding request failed")
		return nil, fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbedderUnavailable, len(vecs), len(texts))
	}
	for _, vec := range vecs {
		if err := g.checkShape(vec); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

func (g *Gateway) checkShape(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrEmbedderUnavailable)
	}
	if len(vec) != g.dimension {
		return fmt.Errorf("%w: vector has %d dimensions, want %d", ErrEmbedderUnavailable, len(vec), g.dimension)
	}
	// A zero or non-finite vector has no direction; cosine against it is NaN.
	var norm float64
	for _, x := range vec {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: vector has non-finite components", ErrEmbedderUnavailable)
		}
		norm += f * f
	}
	if norm == 0 {
		return fmt.Errorf("%w: zero vector", ErrEmbedderUnavailable)
	}
	return nil
}

// Similarity returns the cosine similarity of a and b in [-1, 1]. Vectors
// of different length, empty vectors and zero vectors score 0.
func Similarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / math.Sqrt(normA*normB)
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}
