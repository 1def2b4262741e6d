package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeJSON unmarshals a model answer into target. Models often wrap JSON
// in markdown fences or prose, so on a direct failure the first balanced
// object or array in the answer is tried instead.
func DecodeJSON(content string, target any) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return errors.New("empty payload")
	}
	err := json.Unmarshal([]byte(content), target)
	if err == nil {
		return nil
	}
	candidate := extractJSONValue(content)
	if candidate == "" || candidate == content {
		return fmt.Errorf("%w (payload: %s)", err, snippet(content, 160))
	}
	if err := json.Unmarshal([]byte(candidate), target); err != nil {
		return fmt.Errorf("%w (extracted: %s)", err, snippet(candidate, 160))
	}
	return nil
}

// extractJSONValue returns the first bracket-balanced {...} or [...] span
// that is valid JSON. Brackets inside string literals are ignored.
func extractJSONValue(s string) string {
	start := strings.IndexAny(s, "{[")
	for start >= 0 {
		if end := matchBracket(s, start); end > start && json.Valid([]byte(s[start:end+1])) {
			return s[start : end+1]
		}
		next := strings.IndexAny(s[start+1:], "{[")
		if next < 0 {
			break
		}
		start += next + 1
	}
	return ""
}

func matchBracket(s string, start int) int {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != ch {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

// snippet collapses whitespace and truncates to limit runes.
func snippet(s string, limit int) string {
	clean := strings.Join(strings.Fields(s), " ")
	if clean == "" {
		return "<empty>"
	}
	if r := []rune(clean); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return clean
}

// stripFence removes a surrounding ``` or ```lang markdown fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], " {[") {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
