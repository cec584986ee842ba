package llm

import (
	"fmt"
	"strings"
)

// System prompts for the two generation tasks.
const (
	topicInsightSystemPrompt   = "You are an agricultural expert analyzing farmer conversation patterns."
	sessionSummarySystemPrompt = "You are an expert at analyzing agricultural conversations. Respond with a single JSON object only."
)

// MaxTopicExcerpts is how many recent messages feed a topic summary prompt.
const MaxTopicExcerpts = 5

// TopicInsightPrompt builds the chat messages asking for a one or two
// sentence insight about a recurring topic. excerpts should be newest first;
// only the first MaxTopicExcerpts are used.
//
// Parameters:
//   - topic: The taxonomy topic being summarized
//   - excerpts: Message contents mentioning the topic
//
// Returns:
//   - The system and user messages for the completion call
func TopicInsightPrompt(topic string, excerpts []string) []ChatMessage {
	if len(excerpts) > MaxTopicExcerpts {
		excerpts = excerpts[:MaxTopicExcerpts]
	}

	var b strings.Builder
	for _, e := range excerpts {
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(e))
		b.WriteString("\n")
	}

	user := fmt.Sprintf(`Analyze these farmer conversations about %s and provide a concise insight summary.

Conversations:
%s
Give a 1-2 sentence summary of the key pattern or insight about this farmer's %s activities or concerns.
Focus on actionable insights or recurring themes. Reply with the summary text only.`, topic, b.String(), topic)

	return []ChatMessage{
		{Role: RoleSystem, Content: topicInsightSystemPrompt},
		{Role: RoleUser, Content: user},
	}
}

// TranscriptLine is one speaker-labelled line of a session transcript.
type TranscriptLine struct {
	Speaker string
	Content string
}

// SessionSummaryPrompt builds the chat messages asking for a structured JSON
// analysis of a whole session. agentName is how the assistant is referred
// to in the transcript.
func SessionSummaryPrompt(agentName string, transcript []TranscriptLine) []ChatMessage {
	var b strings.Builder
	for _, line := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", line.Speaker, strings.TrimSpace(line.Content))
	}

	user := fmt.Sprintf(`Analyze this conversation between a Kenyan coffee farmer and %s (AI farming assistant):

%s
Provide:
- summary: 2-3 sentence overview of the conversation
- key_topics: array of main farming topics discussed
- action_items: array of specific actions or recommendations mentioned
- domain_insights: array of agricultural insights or learning points
- tone: overall tone (professional, concerned, positive, ...)

Return ONLY a JSON object, no markdown, no code blocks:
{"summary":"...","key_topics":["..."],"action_items":["..."],"domain_insights":["..."],"tone":"..."}`, agentName, b.String())

	return []ChatMessage{
		{Role: RoleSystem, Content: sessionSummarySystemPrompt},
		{Role: RoleUser, Content: user},
	}
}
