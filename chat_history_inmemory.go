package copilot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryChatHistoryStorage is an in-memory implementation of ChatHistoryStorage
type InMemoryChatHistoryStorage struct {
	conversations map[string]*ChatHistory
	mu            sync.RWMutex
}

// NewInMemoryChatHistoryStorage creates a new instance of InMemoryChatHistoryStorage
func NewInMemoryChatHistoryStorage() *InMemoryChatHistoryStorage {
	return &InMemoryChatHistoryStorage{
		conversations: make(map[string]*ChatHistory),
	}
}

// CreateChat initializes a new chat conversation
func (s *InMemoryChatHistoryStorage) CreateChat(ctx context.Context, metadata map[string]interface{}) (*ChatHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat := &ChatHistory{
		SessionID: uuid.New().String(),
		Messages:  []ChatHistoryMessage{},
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	chat = cloneChat(chat, false)

	s.conversations[chat.SessionID] = chat
	return cloneChat(chat, true), nil
}

// AddMessage appends a message to an existing conversation
func (s *InMemoryChatHistoryStorage) AddMessage(ctx context.Context, sessionID string, message ChatHistoryMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, exists := s.conversations[sessionID]
	if !exists {
		return fmt.Errorf("chat %s: %w", sessionID, ErrChatNotFound)
	}

	if message.Metadata == nil {
		message.Metadata = make(map[string]interface{})
	}
	chat.Messages = append(chat.Messages, message)
	return nil
}

// UpdateChatMetadata replaces the metadata of an existing conversation
func (s *InMemoryChatHistoryStorage) UpdateChatMetadata(ctx context.Context, sessionID string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, exists := s.conversations[sessionID]
	if !exists {
		return fmt.Errorf("chat %s: %w", sessionID, ErrChatNotFound)
	}

	chat.Metadata = make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		chat.Metadata[k] = v
	}
	return nil
}

// GetChat retrieves a copy of a conversation
func (s *InMemoryChatHistoryStorage) GetChat(ctx context.Context, sessionID string) (*ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, exists := s.conversations[sessionID]
	if !exists {
		return nil, fmt.Errorf("chat %s: %w", sessionID, ErrChatNotFound)
	}

	return cloneChat(chat, true), nil
}

// ListChatHistories returns all stored conversations, newest first
func (s *InMemoryChatHistoryStorage) ListChatHistories(ctx context.Context) ([]ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chats := make([]ChatHistory, 0, len(s.conversations))
	for _, chat := range s.conversations {
		chats = append(chats, *cloneChat(chat, false))
	}

	sort.Slice(chats, func(i, j int) bool {
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})
	return chats, nil
}

// DeleteChat removes a conversation
func (s *InMemoryChatHistoryStorage) DeleteChat(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[sessionID]; !exists {
		return fmt.Errorf("chat %s: %w", sessionID, ErrChatNotFound)
	}

	delete(s.conversations, sessionID)
	return nil
}

func cloneChat(chat *ChatHistory, withMessages bool) *ChatHistory {
	c := &ChatHistory{
		SessionID: chat.SessionID,
		CreatedAt: chat.CreatedAt,
		Metadata:  make(map[string]interface{}, len(chat.Metadata)),
		Messages:  []ChatHistoryMessage{},
	}
	for k, v := range chat.Metadata {
		c.Metadata[k] = v
	}
	if withMessages {
		c.Messages = append(c.Messages, chat.Messages...)
	}
	return c
}
