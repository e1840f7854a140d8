package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/shaharia-lab/copilot"
	"github.com/shaharia-lab/copilot/observability"
)

// Agent is a single-purpose assistant: a role prompt sent as the system
// instruction in front of every request.
type Agent struct {
	Name string
	Role string

	provider copilot.LLMProvider
	config   copilot.LLMRequestConfig
	retry    copilot.RetryPolicy
	logger   observability.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithRequestConfig overrides the generation settings.
func WithRequestConfig(config copilot.LLMRequestConfig) Option {
	return func(a *Agent) {
		a.config = config
	}
}

// WithRetryPolicy overrides the rate limit retry policy.
func WithRetryPolicy(policy copilot.RetryPolicy) Option {
	return func(a *Agent) {
		a.retry = policy
	}
}

// WithLogger sets the logger used for prompts and responses.
func WithLogger(logger observability.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// DefaultRequestConfig is what every agent starts from: the copilot defaults
// with JSON output enabled.
func DefaultRequestConfig() copilot.LLMRequestConfig {
	return copilot.NewRequestConfig(copilot.WithJSONResponse(true))
}

// New creates an agent backed by provider.
func New(name, role string, provider copilot.LLMProvider, opts ...Option) *Agent {
	a := &Agent{
		Name:     name,
		Role:     role,
		provider: provider,
		config:   DefaultRequestConfig(),
		retry:    copilot.DefaultRetryPolicy(),
		logger:   observability.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Generate sends prompt under the agent's role and returns the trimmed reply text.
func (a *Agent) Generate(ctx context.Context, prompt string) (string, error) {
	messages := []copilot.LLMMessage{{Role: copilot.UserRole, Text: prompt}}
	if strings.TrimSpace(a.Role) != "" {
		messages = append([]copilot.LLMMessage{{Role: copilot.SystemRole, Text: a.Role}}, messages...)
	}

	log := a.logger.WithFields(map[string]interface{}{"agent": a.Name})
	log.Debugf("prompt sent: %s", preview(prompt))

	request := copilot.NewLLMRequest(a.config, a.provider)
	var response copilot.LLMResponse
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		response, err = request.Generate(ctx, messages)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", a.Name, err)
	}

	log.Debugf("raw response: %s", preview(response.Text))
	return strings.TrimSpace(response.Text), nil
}

// GenerateJSON sends prompt and decodes the reply into target. When schema is
// not empty the reply is validated against it first.
func (a *Agent) GenerateJSON(ctx context.Context, prompt string, target interface{}, schema string) error {
	text, err := a.Generate(ctx, prompt)
	if err != nil {
		return err
	}

	if schema != "" {
		if err := ValidateJSON(schema, copilot.CleanJSONText(text)); err != nil {
			return fmt.Errorf("%s: %w", a.Name, err)
		}
	}
	if err := copilot.ExtractJSON(text, target); err != nil {
		return fmt.Errorf("%s: %w", a.Name, err)
	}
	return nil
}

func preview(text string) string {
	const limit = 500
	if len(text) <= limit {
		return text
	}
	return text[:limit] + "..."
}
