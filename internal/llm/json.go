package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON parses a JSON object from an LLM response into v, handling
// markdown code fences and stray prose around the object.
func DecodeJSON(text string, v any) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyResponse
	}

	// Strip markdown code fences
	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		endIdx := len(lines)
		for i := len(lines) - 1; i > 0; i-- {
			if strings.TrimSpace(lines[i]) == "```" {
				endIdx = i
				break
			}
		}
		text = strings.TrimSpace(strings.Join(lines[1:endIdx], "\n"))
	}

	if !strings.HasPrefix(text, "{") {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end < start {
			return fmt.Errorf("no JSON object in response: %.80q", text)
		}
		text = text[start : end+1]
	}

	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("parsing LLM response as JSON: %w", err)
	}
	return nil
}
