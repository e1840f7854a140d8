package copilot

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrChatNotFound is returned by storages when the requested chat does not exist.
var ErrChatNotFound = errors.New("chat not found")

// ChatHistoryMessage is a transcript entry together with its usage figures.
type ChatHistoryMessage struct {
	LLMMessage
	GeneratedAt time.Time              `json:"generated_at"`
	InputToken  int64                  `json:"input_token"`
	OutputToken int64                  `json:"output_token"`
	TotalToken  int64                  `json:"total_token"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// ChatHistory is an append-only conversation transcript.
type ChatHistory struct {
	SessionID string                 `json:"session_id"`
	Messages  []ChatHistoryMessage   `json:"messages"`
	CreatedAt time.Time              `json:"created_at"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// LLMMessages returns the transcript as plain messages, oldest first.
func (c *ChatHistory) LLMMessages() []LLMMessage {
	messages := make([]LLMMessage, 0, len(c.Messages))
	for _, m := range c.Messages {
		messages = append(messages, m.LLMMessage)
	}
	return messages
}

// WindowSizeMetadataKey is the message metadata key holding the number of
// messages in the session's prompt window once that message was appended.
const WindowSizeMetadataKey = "window_size"

// PromptWindow returns the messages that were still in the session's prompt
// window when the last message was recorded. Transcripts without window
// metadata are returned whole.
func (c *ChatHistory) PromptWindow() []LLMMessage {
	messages := c.LLMMessages()
	if len(c.Messages) == 0 {
		return messages
	}

	size, ok := metadataInt(c.Messages[len(c.Messages)-1].Metadata[WindowSizeMetadataKey])
	if !ok || size <= 0 || size > len(messages) {
		return messages
	}
	return messages[len(messages)-size:]
}

// metadataInt reads an integer that may have been round-tripped through JSON.
func metadataInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

// LastTotalToken returns the usage recorded on the most recent assistant message.
func (c *ChatHistory) LastTotalToken() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == AssistantRole {
			return int(c.Messages[i].TotalToken)
		}
	}
	return 0
}

// ChatHistoryStorage defines the interface for conversation history storage
type ChatHistoryStorage interface {
	// CreateChat initializes a new chat conversation
	CreateChat(ctx context.Context, metadata map[string]interface{}) (*ChatHistory, error)

	// AddMessage appends a message to an existing conversation
	AddMessage(ctx context.Context, sessionID string, message ChatHistoryMessage) error

	// UpdateChatMetadata replaces the metadata of an existing conversation
	UpdateChatMetadata(ctx context.Context, sessionID string, metadata map[string]interface{}) error

	// GetChat retrieves a conversation with all of its messages
	GetChat(ctx context.Context, sessionID string) (*ChatHistory, error)

	// ListChatHistories returns all stored conversations, newest first, without messages
	ListChatHistories(ctx context.Context) ([]ChatHistory, error)

	// DeleteChat removes a conversation and its messages
	DeleteChat(ctx context.Context, sessionID string) error
}
