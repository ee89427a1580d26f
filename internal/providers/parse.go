package providers

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// TryParseGuess normalizes a model reply into a Guess.
// Priorities: JSON -> code fence JSON -> first JSON object -> "Guess:" line -> raw text.
// Empty text after all of that is ErrEmptyGuess.
func TryParseGuess(content string) (Guess, error) {
	g := Guess{Raw: strings.TrimSpace(content), Confidence: UnspecifiedConfidence}

	// a JSON object without a usable guess is an empty reply, not raw text
	switch {
	case tryJSON(g.Raw, &g):
	case tryJSON(extractCodeFenceJSON(g.Raw), &g):
	case tryJSON(extractFirstJSONObject(g.Raw), &g):
	default:
		if a := parseColonStyle(g.Raw); a != "" {
			g.Guess = a
		} else {
			g.Guess = truncateSingleLine(stripFence(g.Raw), 300)
		}
	}

	g.Guess = strings.Trim(strings.TrimSpace(g.Guess), `"`)
	if g.Guess == "" {
		return Guess{}, ErrEmptyGuess
	}
	return g, nil
}

func tryJSON(s string, out *Guess) bool {
	if s == "" {
		return false
	}
	var m map[string]any
	if json.Unmarshal([]byte(s), &m) != nil {
		return false
	}
	for _, k := range []string{"guess", "answer", "label"} {
		if v, ok := m[k].(string); ok && strings.TrimSpace(v) != "" {
			out.Guess = v
			break
		}
	}
	if v, ok := m["confidence"]; ok {
		if f, ok := toFloat(v); ok && f >= 0 && f <= 1 {
			out.Confidence = f
			out.ConfidenceKnown = true
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

var rxFence = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{[\\s\\S]*?\\})\\s*```")

func extractCodeFenceJSON(s string) string {
	m := rxFence.FindStringSubmatch(s)
	if len(m) > 1 {
		return m[1]
	}
	return ""
}

var rxBareFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

func stripFence(s string) string {
	if m := rxBareFence.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

// find the first JSON object by simple brace balancing
func extractFirstJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	level := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			level++
		case '}':
			level--
			if level == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

var rxGuessColon = regexp.MustCompile(`(?im)^\s*(?:guess|answer)\s*[:：]\s*(.+)$`)

func parseColonStyle(s string) string {
	if m := rxGuessColon.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func truncateSingleLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
