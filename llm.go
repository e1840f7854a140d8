package copilot

import (
	"context"
)

// LLMProvider is the completion service seen by the rest of the copilot.
//
// Implementations must return an error wrapping ErrRateLimited when the
// service throttles the request, so callers can tell transient rejections
// apart from permanent failures without inspecting error text.
type LLMProvider interface {
	GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error)
}

// LLMRequest binds a provider to a fixed request configuration.
type LLMRequest struct {
	requestConfig LLMRequestConfig
	provider      LLMProvider
}

// NewLLMRequest creates a new LLMRequest with the specified configuration and provider.
//
// Example usage:
//
//	service, _ := copilot.NewGoogleGeminiService(apiKey, "gemini-2.0-flash")
//	provider, _ := copilot.NewGeminiProvider(service, logger)
//
//	llm := copilot.NewLLMRequest(copilot.NewRequestConfig(
//	    copilot.WithMaxToken(2000),
//	    copilot.WithTemperature(0.7),
//	), provider)
func NewLLMRequest(config LLMRequestConfig, provider LLMProvider) *LLMRequest {
	return &LLMRequest{
		requestConfig: config,
		provider:      provider,
	}
}

// Generate sends messages to the configured provider and returns the response.
//
//	response, err := llm.Generate(ctx, []copilot.LLMMessage{
//	    {Role: copilot.SystemRole, Text: "You give personalized investment advice."},
//	    {Role: copilot.UserRole, Text: "Should I buy index funds?"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Tokens used: %d\n", response.TotalTokens())
func (r *LLMRequest) Generate(ctx context.Context, messages []LLMMessage) (LLMResponse, error) {
	return r.provider.GetResponse(ctx, messages, r.requestConfig)
}

// Config returns the request configuration.
func (r *LLMRequest) Config() LLMRequestConfig {
	return r.requestConfig
}
