// Package collab provides the production collaborators the engine calls
// through its narrow contracts: chat-backed generation, review, and
// planning, plus a go-test-based test runner. The engine itself never
// depends on these concrete types.
package collab

import "strings"

// extractJSON pulls the first balanced JSON object or array out of a
// mixed-format model response (prose, markdown fences, JSON).
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	if alt := strings.Index(text, "["); start == -1 || (alt != -1 && alt < start) {
		start = alt
	}
	if start == -1 {
		return "{}"
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return "{}"
}
