package copilot

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ResponseExtractor defines the interface for extracting structured data from LLM responses.
type ResponseExtractor interface {
	// Extract processes the LLM response and returns the extracted data.
	Extract(response LLMResponse) (interface{}, error)
}

// JSONExtractor implements ResponseExtractor for JSON formatted responses.
type JSONExtractor struct {
	// Target is a pointer to the value the JSON data should be unmarshaled into.
	Target interface{}
}

// NewJSONExtractor creates a new JSONExtractor with the specified target.
func NewJSONExtractor(target interface{}) *JSONExtractor {
	return &JSONExtractor{Target: target}
}

// Extract implements ResponseExtractor.Extract for JSON data.
func (e *JSONExtractor) Extract(response LLMResponse) (interface{}, error) {
	if err := ExtractJSON(response.Text, e.Target); err != nil {
		return nil, err
	}
	return e.Target, nil
}

// ExtractJSON cleans text with CleanJSONText and unmarshals it into target.
func ExtractJSON(text string, target interface{}) error {
	cleaned := CleanJSONText(text)
	if cleaned == "" {
		return fmt.Errorf("failed to unmarshal JSON: empty response")
	}
	if err := json.Unmarshal([]byte(cleaned), target); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

var codeBlockPattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// CleanJSONText strips what models tend to wrap JSON in: a fenced code block,
// stray backticks, a leading "json" language tag and prose around the object.
func CleanJSONText(text string) string {
	text = strings.TrimSpace(text)

	if matches := codeBlockPattern.FindStringSubmatch(text); len(matches) == 2 {
		text = strings.TrimSpace(matches[1])
	}

	text = strings.TrimSpace(strings.Trim(text, "`"))
	if len(text) >= 4 && strings.EqualFold(text[:4], "json") {
		text = strings.TrimSpace(text[4:])
	}

	if text == "" || text[0] == '{' || text[0] == '[' {
		return text
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return text
	}
	closing := byte('}')
	if text[start] == '[' {
		closing = ']'
	}
	end := strings.LastIndexByte(text, closing)
	if end <= start {
		return text
	}
	return text[start : end+1]
}
