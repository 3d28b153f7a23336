package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when a response contains no parseable JSON value.
var ErrNoJSON = errors.New("no valid JSON found in response")

var (
	// Reasoning models prefix their answer with a <think> block.
	thinkBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFencePattern  = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
)

// ExtractJSON returns the first complete JSON object or array in an LLM
// response. Reasoning blocks are dropped and fenced code blocks are searched
// before the surrounding prose.
func ExtractJSON(response string) (string, error) {
	cleaned := thinkBlockPattern.ReplaceAllString(response, "")

	candidates := make([]string, 0, 2)
	for _, m := range codeFencePattern.FindAllStringSubmatch(cleaned, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, cleaned)

	for _, c := range candidates {
		if s, ok := scanJSONValue(c); ok {
			return s, nil
		}
	}
	return "", ErrNoJSON
}

// scanJSONValue tries every '{' or '[' in order and returns the first
// balanced span that is valid JSON.
func scanJSONValue(s string) (string, bool) {
	for start := 0; start < len(s); start++ {
		if s[start] != '{' && s[start] != '[' {
			continue
		}
		end, ok := matchingClose(s, start)
		if !ok {
			continue
		}
		if candidate := s[start : end+1]; json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}

	trimmed := strings.TrimSpace(s)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return trimmed, true
	}
	return "", false
}

// matchingClose finds the index of the bracket closing s[start], ignoring
// brackets inside string literals.
func matchingClose(s string, start int) (int, bool) {
	var stack []byte
	inString := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// ParseJSONResponse extracts JSON from a response and unmarshals it into T.
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
