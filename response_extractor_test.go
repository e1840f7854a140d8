package copilot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAllocation struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

func TestJSONExtractor_Extract(t *testing.T) {
	tests := []struct {
		name        string
		response    LLMResponse
		expected    *testAllocation
		expectError bool
	}{
		{
			name:     "raw JSON",
			response: LLMResponse{Text: `{"category": "Groceries", "amount": 420.5}`},
			expected: &testAllocation{Category: "Groceries", Amount: 420.5},
		},
		{
			name:     "fenced code block with prose",
			response: LLMResponse{Text: "Here is the breakdown:\n```json\n{\"category\": \"Rent\", \"amount\": 1500}\n```\nLet me know."},
			expected: &testAllocation{Category: "Rent", Amount: 1500},
		},
		{
			name:     "backticks and json tag without newline",
			response: LLMResponse{Text: "`json {\"category\": \"Utilities\", \"amount\": 80}`"},
			expected: &testAllocation{Category: "Utilities", Amount: 80},
		},
		{
			name:     "unlabelled fence",
			response: LLMResponse{Text: "```\n{\"category\": \"Travel\", \"amount\": 99}\n```"},
			expected: &testAllocation{Category: "Travel", Amount: 99},
		},
		{
			name:        "invalid JSON",
			response:    LLMResponse{Text: `{"category": "Rent", "amount": }`},
			expectError: true,
		},
		{
			name:        "empty",
			response:    LLMResponse{Text: "``` ```"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractor := NewJSONExtractor(&testAllocation{})
			result, err := extractor.Extract(tt.response)

			if tt.expectError {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestCleanJSONText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "already clean", input: `{"a":1}`, expected: `{"a":1}`},
		{name: "array", input: "```json\n[1,2]\n```", expected: "[1,2]"},
		{name: "leading json tag", input: "json\n{\"a\":1}", expected: `{"a":1}`},
		{name: "uppercase tag", input: "```JSON\n{\"a\":1}\n```", expected: `{"a":1}`},
		{name: "prose around object", input: `Sure! {"a":{"b":2}} Hope that helps.`, expected: `{"a":{"b":2}}`},
		{name: "no JSON at all", input: "no idea", expected: "no idea"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONText(tt.input))
		})
	}
}
