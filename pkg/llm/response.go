package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoSQL is returned when a reply contains no SQL text.
var ErrNoSQL = errors.New("no SQL found in response")

// thinkTagPattern matches a leading <think>...</think> block emitted by reasoning models.
var thinkTagPattern = regexp.MustCompile(`(?s)^\s*<think>.*?</think>\s*`)

// codeFencePattern matches the first fenced code block, with or without a language tag.
var codeFencePattern = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\\r?\\n?(.*?)```")

// sqlLabelPattern matches a leading "SQL:" label.
var sqlLabelPattern = regexp.MustCompile(`(?i)^\s*sql\s*:\s*`)

func stripThinking(response string) string {
	return thinkTagPattern.ReplaceAllString(response, "")
}

// ExtractSQL returns the statement in a model reply: the first fenced block when there is
// one, else the whole reply, with reasoning tags and a leading "SQL:" label removed.
func ExtractSQL(response string) (string, error) {
	cleaned := stripThinking(response)
	if m := codeFencePattern.FindStringSubmatch(cleaned); m != nil {
		cleaned = m[1]
	}
	cleaned = strings.TrimSpace(sqlLabelPattern.ReplaceAllString(cleaned, ""))
	if cleaned == "" {
		return "", ErrNoSQL
	}
	return cleaned, nil
}

// ExtractJSON returns the first balanced JSON object or array in a model reply.
func ExtractJSON(response string) (string, error) {
	cleaned := stripThinking(response)

	for i := 0; i < len(cleaned); i++ {
		c := cleaned[i]
		if c != '{' && c != '[' {
			continue
		}
		if candidate, ok := balanced(cleaned[i:]); ok && json.Valid([]byte(candidate)) {
			return candidate, nil
		}
	}

	trimmed := strings.TrimSpace(cleaned)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	return "", fmt.Errorf("no valid JSON found in response")
}

// balanced returns the prefix of s that closes the bracket s starts with.
func balanced(s string) (string, bool) {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// ParseJSONResponse extracts JSON from a response and unmarshals it into the target.
func ParseJSONResponse[T any](response string) (T, error) {
	var result T

	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return result, fmt.Errorf("unmarshal JSON: %w", err)
	}
	return result, nil
}
