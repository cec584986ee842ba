package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCompletion is returned when a generation reply carries no usable text.
var ErrEmptyCompletion = errors.New("empty completion")

// Outcome tags how a structured reply was obtained.
type Outcome int

const (
	// Parsed means the reply decoded into the expected structure.
	Parsed Outcome = iota
	// Fallback means the reply was unusable; the caller must substitute a
	// locally computed value.
	Fallback
)

func (o Outcome) String() string {
	if o == Parsed {
		return "parsed"
	}
	return "fallback"
}

// Structured is the result of parsing a generation reply into T. When
// Outcome is Fallback, Value is the zero T and Err explains why.
type Structured[T any] struct {
	Value   T
	Outcome Outcome
	Err     error
}

// SessionSummaryReply is the structured session analysis returned by the
// generation service.
type SessionSummaryReply struct {
	Summary        string
	KeyTopics      []string
	ActionItems    []string
	DomainInsights []string
	Tone           string
}

// sessionSummaryWire accepts both the current and the legacy key names.
type sessionSummaryWire struct {
	Summary         string   `json:"summary"`
	KeyTopics       []string `json:"key_topics"`
	ActionItems     []string `json:"action_items"`
	DomainInsights  []string `json:"domain_insights"`
	FarmingInsights []string `json:"farming_insights"`
	Tone            string   `json:"tone"`
	EmotionalTone   string   `json:"emotional_tone"`
}

// ParseSessionSummary decodes a session analysis reply. Markdown fences and
// surrounding prose are tolerated. A reply that is not JSON, or whose
// summary is blank, yields a Fallback outcome.
func ParseSessionSummary(text string) Structured[SessionSummaryReply] {
	if strings.TrimSpace(text) == "" {
		return Structured[SessionSummaryReply]{Outcome: Fallback, Err: ErrEmptyCompletion}
	}

	var wire sessionSummaryWire
	if err := json.Unmarshal([]byte(extractJSON(text)), &wire); err != nil {
		return Structured[SessionSummaryReply]{
			Outcome: Fallback,
			Err:     fmt.Errorf("failed to parse session summary JSON: %w", err),
		}
	}

	if strings.TrimSpace(wire.Summary) == "" {
		return Structured[SessionSummaryReply]{
			Outcome: Fallback,
			Err:     fmt.Errorf("session summary JSON has no summary: %w", ErrEmptyCompletion),
		}
	}

	reply := SessionSummaryReply{
		Summary:        strings.TrimSpace(wire.Summary),
		KeyTopics:      cleanList(wire.KeyTopics),
		ActionItems:    cleanList(wire.ActionItems),
		DomainInsights: cleanList(wire.DomainInsights),
		Tone:           strings.TrimSpace(wire.Tone),
	}
	if len(reply.DomainInsights) == 0 {
		reply.DomainInsights = cleanList(wire.FarmingInsights)
	}
	if reply.Tone == "" {
		reply.Tone = strings.TrimSpace(wire.EmotionalTone)
	}
	return Structured[SessionSummaryReply]{Value: reply, Outcome: Parsed}
}

// ParseTopicInsight returns the trimmed insight text, or ErrEmptyCompletion
// when the reply is blank.
func ParseTopicInsight(text string) (string, error) {
	text = strings.TrimSpace(strings.Trim(strings.TrimSpace(text), "\""))
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

// cleanList trims entries and drops blanks. It never returns nil.
func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// extractJSON attempts to extract a JSON object from text that might contain
// extra content. It handles markdown code blocks and trailing prose.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // No JSON found, return as-is and let parser fail
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		// Only count braces outside of strings
		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text // No complete JSON found, return as-is
}
