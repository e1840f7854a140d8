package copilot

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockLLMProvider struct {
	mock.Mock
}

func (m *MockLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	args := m.Called(ctx, messages, config)
	var resp LLMResponse
	if r := args.Get(0); r != nil {
		resp = r.(LLMResponse)
	}
	return resp, args.Error(1)
}
