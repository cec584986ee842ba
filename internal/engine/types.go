// Package engine provides the memory intelligence core: relevance scoring of
// retrieved memories, insight mining over a farmer's history, session
// consolidation and the per-turn context composer that ties them together.
//
// Every component degrades instead of failing: collaborator errors are
// logged and converted into a valid but weaker result. The only
// caller-visible non-success is an ineligible consolidation.
package engine

import (
	"fmt"
	"time"
)

// Relevance weights. They sum to 1.0.
const (
	WeightSemantic   = 0.4
	WeightRecency    = 0.15
	WeightFrequency  = 0.1
	WeightTopic      = 0.2
	WeightContinuity = 0.15
)

// Tuning constants shared by the scoring formulas.
const (
	// recencyWindowDays is the age at which the recency factor reaches 0.
	recencyWindowDays = 30.0

	// defaultTopicAlignment applies when the query or the memory has no
	// taxonomy topics.
	defaultTopicAlignment = 0.3

	// continuityLookback is how many recent session messages are inspected.
	continuityLookback = 5

	// consistencySpanDays is the mention span at which an insight's
	// consistency score saturates.
	consistencySpanDays = 14.0

	// frequencySaturation is the mention count at which an insight's
	// frequency score saturates.
	frequencySaturation = 10.0

	// highQualityScore is the total above which a memory boosts confidence.
	highQualityScore = 0.7
)

// DefaultAgentName labels assistant lines in consolidation transcripts.
const DefaultAgentName = "Guka"

// Config holds the tunables for the engine components.
type Config struct {
	// MaxMemories is how many enhanced memories a context carries (default: 5).
	MaxMemories int

	// MinSimilarity is the vector index threshold for candidates (default: 0.6).
	// Zero selects the default, so Validate rejects it.
	MinSimilarity float64

	// InsightWindow is the trailing history window mined for insights (default: 30 days).
	InsightWindow time.Duration

	// InsightMinFrequency is the minimum mentions before a topic is reported (default: 2).
	InsightMinFrequency int

	// InsightMinImportance is the strict lower bound on reported importance (default: 0.5).
	// Zero selects the default, so Validate rejects it.
	InsightMinImportance float64

	// InsightLimit is how many insights a context carries (default: 3).
	InsightLimit int

	// SummaryConcurrency bounds concurrent insight generation calls (default: 3).
	SummaryConcurrency int

	// LookupConcurrency bounds concurrent continuity lookups (default: 4).
	LookupConcurrency int

	// LookupTimeout bounds each repository lookup (default: 5s).
	LookupTimeout time.Duration

	// SearchTimeout bounds the vector index query (default: 5s).
	SearchTimeout time.Duration

	// GenerationTimeout bounds each completion call (default: 30s).
	GenerationTimeout time.Duration

	// AgentName labels assistant messages in transcripts (default: Guka).
	AgentName string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxMemories:          5,
		MinSimilarity:        0.6,
		InsightWindow:        30 * 24 * time.Hour,
		InsightMinFrequency:  2,
		InsightMinImportance: 0.5,
		InsightLimit:         3,
		SummaryConcurrency:   3,
		LookupConcurrency:    4,
		LookupTimeout:        5 * time.Second,
		SearchTimeout:        5 * time.Second,
		GenerationTimeout:    30 * time.Second,
		AgentName:            DefaultAgentName,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.MaxMemories < 1 {
		return fmt.Errorf("MaxMemories must be >= 1, got %d", c.MaxMemories)
	}

	if c.MinSimilarity <= 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("MinSimilarity must be in (0,1], got %v", c.MinSimilarity)
	}

	if c.InsightMinImportance <= 0 || c.InsightMinImportance >= 1 {
		return fmt.Errorf("InsightMinImportance must be in (0,1), got %v", c.InsightMinImportance)
	}

	if c.InsightWindow <= 0 {
		return fmt.Errorf("InsightWindow must be > 0, got %v", c.InsightWindow)
	}

	if c.InsightMinFrequency < 1 {
		return fmt.Errorf("InsightMinFrequency must be >= 1, got %d", c.InsightMinFrequency)
	}

	if c.SummaryConcurrency < 1 || c.LookupConcurrency < 1 {
		return fmt.Errorf("concurrency limits must be >= 1, got %d and %d", c.SummaryConcurrency, c.LookupConcurrency)
	}

	if c.LookupTimeout <= 0 || c.SearchTimeout <= 0 || c.GenerationTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0")
	}

	return nil
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMemories == 0 {
		c.MaxMemories = d.MaxMemories
	}
	if c.MinSimilarity == 0 {
		c.MinSimilarity = d.MinSimilarity
	}
	if c.InsightWindow == 0 {
		c.InsightWindow = d.InsightWindow
	}
	if c.InsightMinFrequency == 0 {
		c.InsightMinFrequency = d.InsightMinFrequency
	}
	if c.InsightMinImportance == 0 {
		c.InsightMinImportance = d.InsightMinImportance
	}
	if c.InsightLimit == 0 {
		c.InsightLimit = d.InsightLimit
	}
	if c.SummaryConcurrency == 0 {
		c.SummaryConcurrency = d.SummaryConcurrency
	}
	if c.LookupConcurrency == 0 {
		c.LookupConcurrency = d.LookupConcurrency
	}
	if c.LookupTimeout == 0 {
		c.LookupTimeout = d.LookupTimeout
	}
	if c.SearchTimeout == 0 {
		c.SearchTimeout = d.SearchTimeout
	}
	if c.GenerationTimeout == 0 {
		c.GenerationTimeout = d.GenerationTimeout
	}
	if c.AgentName == "" {
		c.AgentName = d.AgentName
	}
	return c
}

// wholeDays returns the number of complete days in d. Negative durations
// (timestamps in the future) count as zero.
func wholeDays(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d / (24 * time.Hour))
}

// recencyScore is max(0, 1 - ageDays/30) for a timestamp relative to now,
// or 0 when the timestamp is unknown.
func recencyScore(ts, now time.Time) float64 {
	if ts.IsZero() {
		return 0
	}
	r := 1 - wholeDays(now.Sub(ts))/recencyWindowDays
	if r < 0 {
		return 0
	}
	return r
}
