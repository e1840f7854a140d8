package copilot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRequestConfig(t *testing.T) {
	tests := []struct {
		name     string
		opts     []RequestOption
		expected LLMRequestConfig
	}{
		{
			name:     "no options - should use defaults",
			expected: DefaultConfig,
		},
		{
			name: "with single option",
			opts: []RequestOption{
				WithMaxToken(2000),
			},
			expected: LLMRequestConfig{
				MaxToken:    2000,
				TopP:        0.95,
				Temperature: 0.3,
				TopK:        64,
			},
		},
		{
			name: "with multiple options",
			opts: []RequestOption{
				WithMaxToken(2000),
				WithTopP(0.5),
				WithTemperature(0.8),
				WithTopK(100),
				WithJSONResponse(true),
			},
			expected: LLMRequestConfig{
				MaxToken:     2000,
				TopP:         0.5,
				Temperature:  0.8,
				TopK:         100,
				JSONResponse: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NewRequestConfig(tt.opts...))
		})
	}
}

func TestNewRequestConfig_DoesNotMutateDefault(t *testing.T) {
	before := DefaultConfig
	_ = NewRequestConfig(WithMaxToken(1), WithJSONResponse(true))
	assert.Equal(t, before, DefaultConfig)
}

func TestLLMResponse_TotalTokens(t *testing.T) {
	tests := []struct {
		name string
		resp LLMResponse
		want int
	}{
		{name: "reported total wins", resp: LLMResponse{TotalInputToken: 10, TotalOutputToken: 5, TotalTokenCount: 20}, want: 20},
		{name: "falls back to input plus output", resp: LLMResponse{TotalInputToken: 10, TotalOutputToken: 5}, want: 15},
		{name: "no usage", resp: LLMResponse{}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.resp.TotalTokens())
		})
	}
}
