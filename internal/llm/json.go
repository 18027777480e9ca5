package llm

import (
	"encoding/json"
	"log"
	"strings"
)

// ParseJSONResponse parses a JSON object response from an LLM, handling
// markdown code blocks. Returns nil if the response is not a JSON object.
func ParseJSONResponse(text string) map[string]any {
	text = stripCodeFences(text)
	if text == "" {
		return nil
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		log.Printf("Failed to parse LLM response as JSON: %v", err)
		return nil
	}

	return result
}

// ParseBoolArray parses a JSON array of booleans from an LLM response,
// handling markdown code blocks. Returns nil if the response is not a
// boolean array.
func ParseBoolArray(text string) []bool {
	text = stripCodeFences(text)
	if text == "" {
		return nil
	}

	// Some models wrap the array in prose; cut to the outermost brackets.
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil
	}

	var result []bool
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		log.Printf("Failed to parse LLM response as bool array: %v", err)
		return nil
	}
	return result
}

// stripCodeFences removes a surrounding markdown code fence if present.
func stripCodeFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}

	lines := strings.Split(text, "\n")
	endIdx := len(lines) - 1
	for i := len(lines) - 1; i > 0; i-- {
		if strings.TrimSpace(lines[i]) == "```" {
			endIdx = i
			break
		}
	}
	return strings.Join(lines[1:endIdx], "\n")
}
