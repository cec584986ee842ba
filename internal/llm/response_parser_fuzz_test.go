package llm

import (
	"testing"
)

// ============================================================================
// FuzzParseSessionSummary - fuzzes session analysis JSON parsing
// ============================================================================

func FuzzParseSessionSummary(f *testing.F) {
	f.Add(`{"summary": "ok", "key_topics": ["coffee"], "tone": "neutral"}`)
	f.Add(``)
	f.Add(`not json at all`)
	f.Add("```json\n{\"summary\": \"x\"}\n```")
	f.Add(`{"summary": "truncated`)
	f.Add(`{"summary": null, "key_topics": null}`)
	f.Add(`{"summary": "a", "key_topics": "not-a-list"}`)
	f.Add(`{{{`)
	f.Add(`[{"summary": "array"}]`)
	f.Add(`Text before {"summary": "x"} text after`)
	f.Add(`{"summary": "escaped \"quote\" and \\ backslash"}`)

	f.Fuzz(func(t *testing.T, input string) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("ParseSessionSummary panicked on input %q: %v", input, r)
			}
		}()
		got := ParseSessionSummary(input)
		if got.Outcome == Parsed && got.Value.Summary == "" {
			t.Errorf("parsed outcome with empty summary for input %q", input)
		}
		if got.Outcome == Fallback && got.Err == nil {
			t.Errorf("fallback outcome without error for input %q", input)
		}
	})
}

// ============================================================================
// FuzzExtractJSON - extractJSON must never panic
// ============================================================================

func FuzzExtractJSON(f *testing.F) {
	f.Add(`{"a": 1}`)
	f.Add(`{"a": "}"}`)
	f.Add(`\`)
	f.Add(`{"a": "\`)
	f.Add("```")

	f.Fuzz(func(t *testing.T, input string) {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("extractJSON panicked on input %q: %v", input, r)
			}
		}()
		_ = extractJSON(input)
	})
}
