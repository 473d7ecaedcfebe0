package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON recovers a JSON object or array from free-form model text.
// Markdown code fences are stripped first and a direct parse attempted; when
// that fails every balanced {...} / [...] substring is collected and parsed
// starting from the last candidate, since models tend to think out loud
// before emitting their final answer. No lenient-JSON repair is attempted:
// callers retry the whole step instead.
func ExtractJSON(text string) (json.RawMessage, error) {
	stripped := stripCodeFences(text)

	if raw, ok := tryParse(stripped); ok {
		return raw, nil
	}

	candidates := balancedSpans(stripped)
	for i := len(candidates) - 1; i >= 0; i-- {
		if raw, ok := tryParse(candidates[i]); ok {
			return raw, nil
		}
	}

	preview := stripped
	if len(preview) > 120 {
		preview = preview[:120] + "..."
	}
	return nil, fmt.Errorf("%w: %q", ErrMalformedResponse, preview)
}

// ExtractInto parses the recovered JSON into v.
func ExtractInto(text string, v any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func tryParse(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if s[0] != '{' && s[0] != '[' {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return json.RawMessage(s), true
}

// stripCodeFences removes a ```lang ... ``` wrapper when the whole text is a
// single fenced block, and otherwise drops fence lines in place.
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.Contains(trimmed, "```") {
		return trimmed
	}
	var out []string
	for _, line := range strings.Split(trimmed, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// balancedSpans returns every balanced top-level {...} or [...] substring, in
// order of appearance. Matching is string-aware so braces inside JSON string
// literals do not break the scan.
func balancedSpans(s string) []string {
	var spans []string
	var stack []byte
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if len(stack) > 0 {
				inString = true
			}
		case '{', '[':
			if len(stack) == 0 {
				start = i
			}
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				continue
			}
			open := stack[len(stack)-1]
			if (c == '}' && open == '{') || (c == ']' && open == '[') {
				stack = stack[:len(stack)-1]
				if len(stack) == 0 && start >= 0 {
					spans = append(spans, s[start:i+1])
					start = -1
				}
			} else {
				// Mismatched close: abandon the current span.
				stack = stack[:0]
				start = -1
			}
		}
	}
	return spans
}
