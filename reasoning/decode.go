package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON parses a reasoning response into v. Markdown code fences and any
// prose around the outermost JSON object are ignored. Every parse failure is a
// permanent Failure wrapping ErrMalformedResponse.
func DecodeJSON(text string, v interface{}) error {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return &Failure{Kind: KindPermanent, Attempts: 1, Err: fmt.Errorf("%w: empty response", ErrMalformedResponse)}
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return &Failure{Kind: KindPermanent, Attempts: 1, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}
	return nil
}

// cleanJSON removes ```json fences and trims to the outermost object.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
