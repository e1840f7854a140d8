package copilot

// LLMMessageRole represents the role of a message sender in a conversation.
type LLMMessageRole string

const (
	// UserRole is the human side of the conversation.
	UserRole LLMMessageRole = "user"
	// AssistantRole is the model side of the conversation.
	AssistantRole LLMMessageRole = "assistant"
	// SystemRole carries instructions for the model. It is never stored in session history.
	SystemRole LLMMessageRole = "system"
)

// LLMMessage is a single entry of a conversation.
type LLMMessage struct {
	Role LLMMessageRole `json:"role"`
	Text string         `json:"text"`
}

// LLMResponse is what a completion service returns for one request.
type LLMResponse struct {
	Text             string
	TotalInputToken  int
	TotalOutputToken int
	// TotalTokenCount is the usage figure reported by the service for the whole request.
	TotalTokenCount int
	CompletionTime  float64
}

// TotalTokens returns the service reported total, falling back to input+output
// for services that only report the two halves.
func (r LLMResponse) TotalTokens() int {
	if r.TotalTokenCount > 0 {
		return r.TotalTokenCount
	}
	return r.TotalInputToken + r.TotalOutputToken
}

// LLMRequestConfig holds the generation parameters sent with every request.
type LLMRequestConfig struct {
	MaxToken     int64
	TopP         float64
	Temperature  float64
	TopK         int64
	JSONResponse bool
}

// DefaultConfig mirrors the generation settings the copilot agents were tuned with.
var DefaultConfig = LLMRequestConfig{
	MaxToken:    8192,
	TopP:        0.95,
	Temperature: 0.3,
	TopK:        64,
}

// RequestOption configures an LLMRequestConfig.
type RequestOption func(*LLMRequestConfig)

// WithMaxToken sets the maximum number of output tokens.
func WithMaxToken(maxToken int64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.MaxToken = maxToken
	}
}

// WithTopP sets nucleus sampling.
func WithTopP(topP float64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.TopP = topP
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.Temperature = temperature
	}
}

// WithTopK sets top-k sampling.
func WithTopK(topK int64) RequestOption {
	return func(c *LLMRequestConfig) {
		c.TopK = topK
	}
}

// WithJSONResponse asks the service for structured (JSON) output where supported.
func WithJSONResponse(enabled bool) RequestOption {
	return func(c *LLMRequestConfig) {
		c.JSONResponse = enabled
	}
}

// NewRequestConfig builds a request config starting from DefaultConfig.
func NewRequestConfig(opts ...RequestOption) LLMRequestConfig {
	config := DefaultConfig
	for _, opt := range opts {
		opt(&config)
	}
	return config
}
