package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseToolArguments parses a backend's serialized tool-call arguments
// into a structured object. Models occasionally emit near-JSON (trailing
// commas, stray control characters); one bounded repair pass strips those
// and retries exactly once before failing. The repair never guesses
// intent beyond that.
func parseToolArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err == nil {
		return args, nil
	}

	repaired := repairJSON(trimmed)
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		return nil, fmt.Errorf("unparseable tool arguments after repair: %w", err)
	}
	return args, nil
}

// repairJSON applies the bounded repair pass: drop control characters
// outside strings and remove trailing commas before closing brackets.
func repairJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case c < 0x20 && c != '\n' && c != '\t':
			// stray control character: drop
		case c == ',':
			// Trailing comma: look ahead past whitespace for a closer.
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\t' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
