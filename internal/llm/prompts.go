// Package llm provides the text-generation gateway used by rapport: provider
// clients for Groq/OpenAI, Gemini, Anthropic and Ollama behind a circuit
// breaker and retry layer, plus the strict JSON-only extraction prompts and
// the tolerant parser for their responses.
package llm

import (
	"fmt"
	"strings"

	"github.com/scrypster/rapport/pkg/types"
)

// ExtractionSystemPrompt is sent as the system instruction for extraction calls.
const ExtractionSystemPrompt = `You are an analyst that builds a structured memory profile of a user from their chat messages.
You only report what the messages support. You always answer with a single JSON object and nothing else.`

// FormatTranscript renders messages as numbered "[i] ROLE: content" lines.
// Messages with blank content are skipped; numbering follows input order.
func FormatTranscript(messages []types.Message) string {
	var sb strings.Builder
	for i, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		role := strings.ToUpper(strings.TrimSpace(msg.Role))
		if role == "" {
			role = "USER"
		}
		fmt.Fprintf(&sb, "[%d] %s: %s\n", i+1, role, content)
	}
	return sb.String()
}

// MemoryExtractionPrompt generates the strict JSON-only prompt for memory extraction.
// The output is deterministic for a given transcript.
func MemoryExtractionPrompt(messages []types.Message) string {
	return fmt.Sprintf(`TASK: Extract a user memory profile from the chat transcript below.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO commentary.

TRANSCRIPT (%d messages):
%s
REQUIRED JSON STRUCTURE:
{
  "preferences": [
    {"category":"lifestyle","value":"hiking","confidence":0.9,"context":"mentions hiking every weekend","examples":["I love hiking on weekends"]}
  ],
  "emotional_patterns": [
    {"pattern":"stress","frequency":0.6,"intensity":"medium","context":"work pressure","triggers":["work deadlines"]}
  ],
  "facts": [
    {"fact_type":"personal","value":"has a dog named Rex","confidence":0.95,"temporal_relevance":"permanent","source_context":"My dog's name is Rex"}
  ]
}

ALLOWED VALUES:
- preferences[].category: %s
- emotional_patterns[].intensity: %s
- facts[].fact_type: %s
- facts[].temporal_relevance: %s
- confidence and frequency: numbers between 0.0 and 1.0

CONFIDENCE GUIDE:
- 0.8-1.0: stated explicitly
- 0.5-0.8: strongly implied
- 0.3-0.5: weak signal

RULES:
1. Start with { and end with }
2. Always include all three keys; use [] when nothing applies
3. Keep "value" short (a few words)
4. Do not invent information that the transcript does not support
5. No trailing commas, no null values

Output ONLY the JSON object:`,
		len(messages),
		FormatTranscript(messages),
		joinEnum(types.AllPreferenceCategories),
		joinEnum(types.AllIntensities),
		joinEnum(types.AllFactTypes),
		joinEnum(types.AllTemporalRelevances),
	)
}

// RepairPrompt asks the model to fix its previous answer. It echoes the
// error so the model knows what was wrong.
func RepairPrompt(original string, problem error, previous string) string {
	return fmt.Sprintf(`%s

YOUR PREVIOUS ANSWER WAS REJECTED.
PROBLEM: %v

PREVIOUS ANSWER (first 800 characters):
%s

Respond again with ONLY the corrected JSON object. No explanations, no markdown, no code fences.`,
		original, problem, truncate(previous, 800))
}

func joinEnum[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
