package copilot

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiModelService defines the interface for interacting with the Gemini model
type GeminiModelService interface {
	ConfigureModel(config *genai.GenerationConfig, systemInstruction *genai.Content) error
	StartChat(initialHistory []*genai.Content) ChatSessionService
	Close() error
}

// ChatSessionService defines the interface for chat session management
type ChatSessionService interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GoogleGeminiService implements GeminiModelService using the genai client
type GoogleGeminiService struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// GoogleGeminiChatSessionService implements ChatSessionService using genai.ChatSession
type GoogleGeminiChatSessionService struct {
	cs *genai.ChatSession
}

// NewGoogleGeminiService creates a new instance of GoogleGeminiService
func NewGoogleGeminiService(ctx context.Context, apiKey, modelName string, opts ...option.ClientOption) (*GoogleGeminiService, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GoogleGeminiService{
		client: client,
		model:  client.GenerativeModel(modelName),
	}, nil
}

// ConfigureModel sets the generation config and system instruction used by subsequent chats
func (g *GoogleGeminiService) ConfigureModel(config *genai.GenerationConfig, systemInstruction *genai.Content) error {
	g.model.GenerationConfig = *config
	g.model.SystemInstruction = systemInstruction
	return nil
}

// StartChat initializes a new chat session with the provided initial history
func (g *GoogleGeminiService) StartChat(initialHistory []*genai.Content) ChatSessionService {
	cs := g.model.StartChat()
	cs.History = initialHistory
	return &GoogleGeminiChatSessionService{cs: cs}
}

// Close releases the underlying client
func (g *GoogleGeminiService) Close() error {
	return g.client.Close()
}

// SendMessage sends a message to the chat session and returns the response
func (s *GoogleGeminiChatSessionService) SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	return s.cs.SendMessage(ctx, parts...)
}
