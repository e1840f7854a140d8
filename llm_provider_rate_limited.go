package copilot

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedLLMProvider paces calls to the wrapped provider with a token
// bucket so that bursts stay under the service's request quota.
type RateLimitedLLMProvider struct {
	provider LLMProvider
	limiter  *rate.Limiter
}

// NewRateLimitedLLMProvider allows requestsPerSecond calls with bursts of up to burst.
func NewRateLimitedLLMProvider(provider LLMProvider, requestsPerSecond float64, burst int) *RateLimitedLLMProvider {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedLLMProvider{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// GetResponse waits for a token, then delegates. Cancelling ctx aborts the wait.
func (p *RateLimitedLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return LLMResponse{}, fmt.Errorf("waiting for request slot: %w", err)
	}
	return p.provider.GetResponse(ctx, messages, config)
}
