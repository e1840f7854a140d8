package copilot

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRateLimited marks a transient throttling rejection from the completion service.
	ErrRateLimited = errors.New("completion service rate limited")

	// ErrRateLimitExhausted is returned once the retry policy gave up on a rate limited request.
	ErrRateLimitExhausted = errors.New("rate limit retries exhausted")

	// ErrEmptyHistoryOverflow is returned when truncation emptied the history
	// and the request would still exceed the context window.
	ErrEmptyHistoryOverflow = errors.New("history truncated to empty while still over the context window")
)

// ServiceError is a non retryable failure reported by the completion service.
type ServiceError struct {
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("completion service error: %v", e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// LLMError is returned by providers when the service answered but the answer is unusable.
type LLMError struct {
	Code    int
	Message string
}

func (e *LLMError) Error() string {
	return fmt.Sprintf("llm error %d: %s", e.Code, e.Message)
}

// IsRetryable reports whether err is a transient rejection worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

var rateLimitMarkers = []string{"429", "rate limit", "ratelimit", "resource exhausted", "resource_exhausted", "resourceexhausted", "too many requests"}

// hasRateLimitText is the last resort for errors that carry no status code.
func hasRateLimitText(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// rateLimited wraps err so that errors.Is(err, ErrRateLimited) holds while keeping the cause.
func rateLimited(provider string, err error) error {
	return fmt.Errorf("%s: %w: %w", provider, ErrRateLimited, err)
}
