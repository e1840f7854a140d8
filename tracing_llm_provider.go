package copilot

import (
	"context"
	"errors"
	"time"

	"github.com/shaharia-lab/copilot/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingLLMProvider implements the decorator pattern for tracing
type TracingLLMProvider struct {
	provider LLMProvider
	name     string
}

// NewTracingLLMProvider creates a new tracing decorator for any LLMProvider.
// name identifies the wrapped service in span attributes.
func NewTracingLLMProvider(name string, provider LLMProvider) *TracingLLMProvider {
	return &TracingLLMProvider{
		provider: provider,
		name:     name,
	}
}

// GetResponse implements LLMProvider interface with added tracing
func (t *TracingLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	ctx, span := observability.StartSpan(ctx, "LLMProvider.GetResponse")
	defer span.End()

	startTime := time.Now()
	span.SetAttributes(
		attribute.String("provider", t.name),
		attribute.Int("message_count", len(messages)),
		attribute.Int64("max_token", config.MaxToken),
		attribute.Float64("temperature", config.Temperature),
		attribute.Float64("top_p", config.TopP),
		attribute.Int64("top_k", config.TopK),
		attribute.Bool("json_response", config.JSONResponse),
	)

	response, err := t.provider.GetResponse(ctx, messages, config)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("rate_limited", errors.Is(err, ErrRateLimited)))
		span.SetStatus(codes.Error, err.Error())
		return LLMResponse{}, err
	}

	span.SetAttributes(
		attribute.Int("total_input_token", response.TotalInputToken),
		attribute.Int("total_output_token", response.TotalOutputToken),
		attribute.Int("total_token", response.TotalTokens()),
		attribute.Float64("completion_time", time.Since(startTime).Seconds()),
	)

	return response, nil
}
