package copilot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/shaharia-lab/copilot/observability"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	GeminiRoleUser  GeminiRole = "user"
	GeminiRoleModel GeminiRole = "model"

	jsonMIMEType = "application/json"
)

type GeminiRole = string

// GeminiProvider implements LLMProvider on top of a GeminiModelService
type GeminiProvider struct {
	service GeminiModelService
	log     observability.Logger
}

// NewGeminiProvider creates a provider that talks to Gemini through service
func NewGeminiProvider(service GeminiModelService, log observability.Logger) (*GeminiProvider, error) {
	if service == nil {
		return nil, errors.New("GeminiModelService cannot be nil")
	}
	if log == nil {
		log = observability.NewNullLogger()
	}
	return &GeminiProvider{
		service: service,
		log:     log,
	}, nil
}

// Close releases the underlying service
func (p *GeminiProvider) Close() error {
	return p.service.Close()
}

// GetResponse sends the conversation to Gemini. System messages become the
// model's system instruction; the last message is the one sent, the rest is
// chat history.
func (p *GeminiProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()

	genaiConfig, err := mapLLMConfigToGenaiConfig(config)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("failed to map request config: %w", err)
	}

	systemInstruction, contents, err := mapLLMMessagesToGenaiContent(messages)
	if err != nil {
		return LLMResponse{}, err
	}

	if err := p.service.ConfigureModel(genaiConfig, systemInstruction); err != nil {
		return LLMResponse{}, fmt.Errorf("failed to configure gemini model service: %w", err)
	}

	last := contents[len(contents)-1]
	if last.Role != GeminiRoleUser {
		return LLMResponse{}, errors.New("last message sent to gemini must come from the user")
	}
	session := p.service.StartChat(contents[:len(contents)-1])

	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return LLMResponse{}, classifyGeminiError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return LLMResponse{}, &LLMError{Code: http.StatusBadRequest, Message: "request blocked: " + resp.PromptFeedback.BlockReason.String()}
		}
		return LLMResponse{}, &LLMError{Code: http.StatusBadGateway, Message: "gemini returned no candidates"}
	}

	llmResponse := LLMResponse{
		Text:           extractTextFromParts(resp.Candidates[0].Content.Parts),
		CompletionTime: time.Since(startTime).Seconds(),
	}
	if resp.UsageMetadata != nil {
		llmResponse.TotalInputToken = int(resp.UsageMetadata.PromptTokenCount)
		llmResponse.TotalOutputToken = int(resp.UsageMetadata.CandidatesTokenCount)
		llmResponse.TotalTokenCount = int(resp.UsageMetadata.TotalTokenCount)
	} else {
		p.log.Warn("gemini response carried no usage metadata")
	}

	p.log.WithFields(map[string]interface{}{
		"input_tokens":  llmResponse.TotalInputToken,
		"output_tokens": llmResponse.TotalOutputToken,
		"total_tokens":  llmResponse.TotalTokenCount,
	}).Debug("gemini response received")

	return llmResponse, nil
}

// classifyGeminiError marks throttling errors with ErrRateLimited. Structured
// status codes win; message text is only inspected when none is present.
func classifyGeminiError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPCode() == http.StatusTooManyRequests || apiErr.GRPCStatus().Code() == codes.ResourceExhausted {
			return rateLimited("gemini", err)
		}
		return err
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if gErr.Code == http.StatusTooManyRequests {
			return rateLimited("gemini", err)
		}
		return err
	}

	if s, ok := status.FromError(err); ok {
		if s.Code() == codes.ResourceExhausted {
			return rateLimited("gemini", err)
		}
		return err
	}

	if hasRateLimitText(err) {
		return rateLimited("gemini", err)
	}
	return err
}

func mapLLMMessagesToGenaiContent(messages []LLMMessage) (*genai.Content, []*genai.Content, error) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))

	for _, msg := range messages {
		var role GeminiRole
		switch msg.Role {
		case SystemRole:
			system = append(system, msg.Text)
			continue
		case UserRole:
			role = GeminiRoleUser
		case AssistantRole:
			role = GeminiRoleModel
		default:
			return nil, nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}

		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, genai.Text(msg.Text))
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Text)}})
	}

	if len(contents) == 0 {
		return nil, nil, errors.New("cannot send an empty conversation to gemini")
	}
	if contents[0].Role == GeminiRoleModel {
		return nil, nil, errors.New("conversation history cannot start with an assistant/model message")
	}

	var systemInstruction *genai.Content
	if len(system) > 0 {
		systemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}
	return systemInstruction, contents, nil
}

func mapLLMConfigToGenaiConfig(config LLMRequestConfig) (*genai.GenerationConfig, error) {
	genaiConfig := &genai.GenerationConfig{}
	if config.MaxToken > 0 {
		if config.MaxToken > int64(^uint32(0)>>1) {
			return nil, fmt.Errorf("MaxToken %d exceeds int32 limit", config.MaxToken)
		}
		maxTokens := int32(config.MaxToken)
		genaiConfig.MaxOutputTokens = &maxTokens
	}
	if config.Temperature >= 0 {
		temp := float32(config.Temperature)
		genaiConfig.Temperature = &temp
	}
	if config.TopP > 0 {
		topP := float32(config.TopP)
		genaiConfig.TopP = &topP
	}
	if config.TopK > 0 {
		if config.TopK > int64(^uint32(0)>>1) {
			return nil, fmt.Errorf("TopK %d exceeds int32 limit", config.TopK)
		}
		topK := int32(config.TopK)
		genaiConfig.TopK = &topK
	}
	if config.JSONResponse {
		genaiConfig.ResponseMIMEType = jsonMIMEType
	}
	return genaiConfig, nil
}

func extractTextFromParts(parts []genai.Part) string {
	var sb strings.Builder
	for _, part := range parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}
