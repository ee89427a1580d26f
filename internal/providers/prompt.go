package providers

import (
	"strings"
)

// instruction to make all vision models reply in single-line JSON, no code fence.
const JSON_INSTRUCTION = `Return ONLY a single-line JSON object with keys:
"guess": string (a short name of what the drawing shows, e.g. "a cat"),
"confidence": number between 0 and 1 (optional, omit if unsure).
No Markdown, no code fences, no extra text.`

const DefaultQuestion = "This is a hand-drawn sketch from a drawing game. What is in this picture?"

// BuildPrompt: question (or the default one) followed by the JSON instruction.
func BuildPrompt(question string) string {
	question = strings.TrimSpace(question)
	if question == "" {
		question = DefaultQuestion
	}
	var b strings.Builder
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString(JSON_INSTRUCTION)
	return b.String()
}
