package copilot

import (
	"context"
	"strings"
	"time"
)

// NoOpsLLMProvider answers every request with a canned response. It backs the
// "noop" provider used for offline runs of the CLI.
type NoOpsLLMProvider struct {
	response LLMResponse
	err      error
	echo     bool
}

// NoOpsOption defines the function signature for option pattern.
type NoOpsOption func(*NoOpsLLMProvider)

// WithResponse sets a custom LLMResponse for the NoOpsProvider.
func WithResponse(response LLMResponse) NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.response = response
	}
}

// WithError makes every call fail with err.
func WithError(err error) NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.err = err
	}
}

// WithEcho answers with the newest user turn instead of the canned text. For a
// joined history prompt that is the text of its last "User: " block.
func WithEcho() NoOpsOption {
	return func(n *NoOpsLLMProvider) {
		n.echo = true
	}
}

// NewNoOpsLLMProvider creates a new NoOpsLLMProvider with optional configurations.
func NewNoOpsLLMProvider(opts ...NoOpsOption) *NoOpsLLMProvider {
	provider := &NoOpsLLMProvider{
		response: LLMResponse{
			Text:             "Default NoOps response",
			TotalInputToken:  10,
			TotalOutputToken: 3,
			TotalTokenCount:  13,
			CompletionTime:   0.1,
		},
	}

	for _, opt := range opts {
		opt(provider)
	}

	return provider
}

// GetResponse implements the LLMProvider interface.
func (n *NoOpsLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, _ LLMRequestConfig) (LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return LLMResponse{}, err
	}
	if n.err != nil {
		return LLMResponse{}, n.err
	}

	start := time.Now()
	response := n.response
	if n.echo && len(messages) > 0 {
		prompt := messages[len(messages)-1].Text
		response.Text = lastUserTurn(prompt)
		response.TotalInputToken = len(prompt) / 4
		response.TotalOutputToken = len(response.Text) / 4
		response.TotalTokenCount = response.TotalInputToken + response.TotalOutputToken
		response.CompletionTime = time.Since(start).Seconds()
	}
	return response, nil
}

// lastUserTurn returns the text of the last "User: " block of a prompt built by
// JoinHistory, or the whole prompt when it has no such block.
func lastUserTurn(prompt string) string {
	const marker = "User: "
	if i := strings.LastIndex(prompt, "\n\n"+marker); i >= 0 {
		return prompt[i+len("\n\n"+marker):]
	}
	return strings.TrimPrefix(prompt, marker)
}
