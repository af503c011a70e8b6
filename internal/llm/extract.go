package llm

import (
	"encoding/json"
	"strings"
)

// ExtractJSON returns the JSON document in a model reply. Models often wrap
// the document in prose, so the span from the first '{' to the last '}' is
// tried before the whole reply.
func ExtractJSON(content string) (json.RawMessage, error) {
	if start, end := strings.IndexByte(content, '{'), strings.LastIndexByte(content, '}'); start >= 0 && end > start {
		candidate := content[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	trimmed := strings.TrimSpace(content)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}
	return nil, &ParseError{Reason: "reply does not contain a JSON document"}
}
