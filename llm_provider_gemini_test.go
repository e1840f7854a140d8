package copilot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shaharia-lab/copilot/observability"
)

type MockGeminiModelService struct {
	mock.Mock
}

func (m *MockGeminiModelService) ConfigureModel(config *genai.GenerationConfig, systemInstruction *genai.Content) error {
	args := m.Called(config, systemInstruction)
	return args.Error(0)
}

func (m *MockGeminiModelService) StartChat(initialHistory []*genai.Content) ChatSessionService {
	args := m.Called(initialHistory)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(ChatSessionService)
}

func (m *MockGeminiModelService) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockChatSessionService struct {
	mock.Mock
}

func (m *MockChatSessionService) SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	args := m.Called(ctx, parts)

	var resp *genai.GenerateContentResponse
	if getResp := args.Get(0); getResp != nil {
		resp = getResp.(*genai.GenerateContentResponse)
	}
	return resp, args.Error(1)
}

func textResponse(text string, prompt, candidates, total int32) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: GeminiRoleModel, Parts: []genai.Part{genai.Text(text)}},
		}},
		UsageMetadata: &genai.UsageMetadata{
			PromptTokenCount:     prompt,
			CandidatesTokenCount: candidates,
			TotalTokenCount:      total,
		},
	}
}

func TestNewGeminiProvider(t *testing.T) {
	_, err := NewGeminiProvider(nil, nil)
	assert.Error(t, err)

	provider, err := NewGeminiProvider(new(MockGeminiModelService), nil)
	require.NoError(t, err)
	assert.NotNil(t, provider.log)
}

func TestGeminiProvider_GetResponse(t *testing.T) {
	service := new(MockGeminiModelService)
	session := new(MockChatSessionService)

	service.On("ConfigureModel", mock.MatchedBy(func(c *genai.GenerationConfig) bool {
		return *c.Temperature == float32(0.3) && *c.TopK == 64 && *c.MaxOutputTokens == 8192 && c.ResponseMIMEType == "application/json"
	}), &genai.Content{Parts: []genai.Part{genai.Text("You plan budgets.")}}).Return(nil).Once()

	service.On("StartChat", []*genai.Content{
		{Role: GeminiRoleUser, Parts: []genai.Part{genai.Text("I earn 5000")}},
		{Role: GeminiRoleModel, Parts: []genai.Part{genai.Text("Noted")}},
	}).Return(session).Once()

	session.On("SendMessage", mock.Anything, []genai.Part{genai.Text("How much can I save?")}).
		Return(textResponse("About 1000 a month.", 30, 6, 40), nil).Once()

	provider, err := NewGeminiProvider(service, observability.NewNullLogger())
	require.NoError(t, err)

	resp, err := provider.GetResponse(context.Background(), []LLMMessage{
		{Role: SystemRole, Text: "You plan budgets."},
		{Role: UserRole, Text: "I earn 5000"},
		{Role: AssistantRole, Text: "Noted"},
		{Role: UserRole, Text: "How much can I save?"},
	}, NewRequestConfig(WithJSONResponse(true)))

	require.NoError(t, err)
	assert.Equal(t, "About 1000 a month.", resp.Text)
	assert.Equal(t, 30, resp.TotalInputToken)
	assert.Equal(t, 6, resp.TotalOutputToken)
	assert.Equal(t, 40, resp.TotalTokenCount)
	assert.Equal(t, 40, resp.TotalTokens())
	service.AssertExpectations(t)
	session.AssertExpectations(t)
}

func TestGeminiProvider_GetResponse_Failures(t *testing.T) {
	tests := []struct {
		name     string
		messages []LLMMessage
		resp     *genai.GenerateContentResponse
		sendErr  error
		check    func(t *testing.T, err error)
	}{
		{
			name:     "empty conversation",
			messages: []LLMMessage{{Role: SystemRole, Text: "only instructions"}},
			check:    func(t *testing.T, err error) { assert.ErrorContains(t, err, "empty conversation") },
		},
		{
			name:     "last message from assistant",
			messages: []LLMMessage{{Role: UserRole, Text: "hi"}, {Role: AssistantRole, Text: "hello"}},
			check:    func(t *testing.T, err error) { assert.ErrorContains(t, err, "must come from the user") },
		},
		{
			name:     "blocked prompt",
			messages: []LLMMessage{{Role: UserRole, Text: "hi"}},
			resp:     &genai.GenerateContentResponse{PromptFeedback: &genai.PromptFeedback{BlockReason: genai.BlockReasonSafety}},
			check: func(t *testing.T, err error) {
				var llmErr *LLMError
				require.ErrorAs(t, err, &llmErr)
				assert.Equal(t, http.StatusBadRequest, llmErr.Code)
			},
		},
		{
			name:     "no candidates",
			messages: []LLMMessage{{Role: UserRole, Text: "hi"}},
			resp:     &genai.GenerateContentResponse{},
			check: func(t *testing.T, err error) {
				var llmErr *LLMError
				require.ErrorAs(t, err, &llmErr)
				assert.Equal(t, http.StatusBadGateway, llmErr.Code)
			},
		},
		{
			name:     "rate limited",
			messages: []LLMMessage{{Role: UserRole, Text: "hi"}},
			sendErr:  &googleapi.Error{Code: http.StatusTooManyRequests, Message: "quota"},
			check:    func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrRateLimited) },
		},
		{
			name:     "permanent failure",
			messages: []LLMMessage{{Role: UserRole, Text: "hi"}},
			sendErr:  &googleapi.Error{Code: http.StatusBadRequest, Message: "API key not valid"},
			check: func(t *testing.T, err error) {
				assert.Error(t, err)
				assert.False(t, IsRetryable(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := new(MockGeminiModelService)
			session := new(MockChatSessionService)
			service.On("ConfigureModel", mock.Anything, mock.Anything).Return(nil)
			service.On("StartChat", mock.Anything).Return(session)
			if tt.resp != nil || tt.sendErr != nil {
				session.On("SendMessage", mock.Anything, mock.Anything).Return(tt.resp, tt.sendErr)
			}

			provider, err := NewGeminiProvider(service, nil)
			require.NoError(t, err)

			_, err = provider.GetResponse(context.Background(), tt.messages, DefaultConfig)
			tt.check(t, err)
		})
	}
}

func TestClassifyGeminiError(t *testing.T) {
	apiErr429, ok := apierror.FromError(&googleapi.Error{Code: http.StatusTooManyRequests})
	require.True(t, ok)
	apiErr500, ok := apierror.FromError(&googleapi.Error{Code: http.StatusInternalServerError, Message: "429 requests served"})
	require.True(t, ok)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "apierror 429", err: apiErr429, want: true},
		{name: "apierror 500 mentioning 429", err: apiErr500, want: false},
		{name: "googleapi 429", err: fmt.Errorf("send: %w", &googleapi.Error{Code: http.StatusTooManyRequests}), want: true},
		{name: "googleapi 403", err: &googleapi.Error{Code: http.StatusForbidden, Message: "rate limit policy"}, want: false},
		{name: "grpc resource exhausted", err: status.Error(codes.ResourceExhausted, "quota"), want: true},
		{name: "grpc invalid argument", err: status.Error(codes.InvalidArgument, "too many requests in batch"), want: false},
		{name: "plain text fallback", err: errors.New("googleapi: Error 429: Resource has been exhausted"), want: true},
		{name: "plain error", err: errors.New("connection refused"), want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: fmt.Errorf("429 wait: %w", context.DeadlineExceeded), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyGeminiError(tt.err)
			assert.Equal(t, tt.want, errors.Is(got, ErrRateLimited))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestMapLLMConfigToGenaiConfig(t *testing.T) {
	config, err := mapLLMConfigToGenaiConfig(LLMRequestConfig{Temperature: 0, TopP: 0, TopK: 0, MaxToken: 0})
	require.NoError(t, err)
	require.NotNil(t, config.Temperature)
	assert.Equal(t, float32(0), *config.Temperature)
	assert.Nil(t, config.TopP)
	assert.Nil(t, config.TopK)
	assert.Nil(t, config.MaxOutputTokens)
	assert.Empty(t, config.ResponseMIMEType)

	_, err = mapLLMConfigToGenaiConfig(LLMRequestConfig{MaxToken: 1 << 40})
	assert.Error(t, err)
	_, err = mapLLMConfigToGenaiConfig(LLMRequestConfig{TopK: 1 << 40})
	assert.Error(t, err)
}

func TestMapLLMMessagesToGenaiContent(t *testing.T) {
	system, contents, err := mapLLMMessagesToGenaiContent([]LLMMessage{
		{Role: SystemRole, Text: "a"},
		{Role: SystemRole, Text: "b"},
		{Role: UserRole, Text: "one"},
		{Role: UserRole, Text: "two"},
	})
	require.NoError(t, err)
	assert.Equal(t, []genai.Part{genai.Text("a\n\nb")}, system.Parts)
	require.Len(t, contents, 1)
	assert.Equal(t, []genai.Part{genai.Text("one"), genai.Text("two")}, contents[0].Parts)

	_, _, err = mapLLMMessagesToGenaiContent([]LLMMessage{{Role: AssistantRole, Text: "first"}})
	assert.Error(t, err)

	_, _, err = mapLLMMessagesToGenaiContent([]LLMMessage{{Role: "tool", Text: "x"}})
	assert.Error(t, err)
}

func TestGeminiProvider_Close(t *testing.T) {
	service := new(MockGeminiModelService)
	service.On("Close").Return(nil).Once()

	provider, err := NewGeminiProvider(service, nil)
	require.NoError(t, err)
	assert.NoError(t, provider.Close())
	service.AssertExpectations(t)
}
