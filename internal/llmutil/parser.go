// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

// ErrNoObject is returned when the text contains no '{' ... '}' span.
var ErrNoObject = errors.New("no JSON object found in model output")

// ExtractObject slices raw from its first '{' to its last '}', inclusive.
// Conversational filler and markdown fences around the object are dropped
// by construction. Two sibling objects in one response are not separated;
// the slice then spans both and will fail to decode.
func ExtractObject(raw string) (string, bool) {
	first := strings.IndexByte(raw, '{')
	if first < 0 {
		return "", false
	}
	last := strings.LastIndexByte(raw, '}')
	if last < first {
		return "", false
	}
	return raw[first : last+1], true
}

// ParseObject extracts the object span from an LLM response and decodes it into T.
func ParseObject[T any](raw string) (*T, error) {
	span, ok := ExtractObject(raw)
	if !ok {
		return nil, ErrNoObject
	}
	var result T
	if err := json.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(span, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, Truncate(span, 300))
	}
	return &result, nil
}

// Truncate shortens s to maxLen bytes for logging, appending an ellipsis when cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	// Byte cut; rune boundaries do not matter for log output.
	return s[:maxLen] + "..."
}
