package copilot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shaharia-lab/copilot/observability"
)

const pgForeignKeyViolation = "23503"

// PostgresChatHistoryStorage is a PostgreSQL implementation of ChatHistoryStorage
type PostgresChatHistoryStorage struct {
	db     *sql.DB
	logger observability.Logger
}

// NewPostgresChatHistoryStorage wraps an open database handle. Call Migrate
// once before use when the schema may be missing.
func NewPostgresChatHistoryStorage(db *sql.DB, logger observability.Logger) *PostgresChatHistoryStorage {
	if logger == nil {
		logger = observability.NewNullLogger()
	}
	return &PostgresChatHistoryStorage{db: db, logger: logger}
}

// OpenPostgresChatHistoryStorage connects to dsn and applies the schema.
func OpenPostgresChatHistoryStorage(ctx context.Context, dsn string, logger observability.Logger) (*PostgresChatHistoryStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres database: %w", err)
	}

	storage := NewPostgresChatHistoryStorage(db, logger)
	if err := storage.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return storage, nil
}

// Migrate creates the chat tables if they don't exist.
func (s *PostgresChatHistoryStorage) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS chats (
		uuid UUID PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'
	);
	CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		chat_uuid UUID NOT NULL REFERENCES chats(uuid) ON DELETE CASCADE,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		generated_at TIMESTAMPTZ NOT NULL,
		input_token BIGINT NOT NULL DEFAULT 0,
		output_token BIGINT NOT NULL DEFAULT 0,
		total_token BIGINT NOT NULL DEFAULT 0,
		metadata JSONB NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat_uuid ON messages (chat_uuid);`)
	if err != nil {
		return fmt.Errorf("failed to initialize postgres schema: %w", err)
	}
	return nil
}

// CreateChat initializes a new chat conversation
func (s *PostgresChatHistoryStorage) CreateChat(ctx context.Context, metadata map[string]interface{}) (*ChatHistory, error) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	chat := &ChatHistory{
		SessionID: uuid.New().String(),
		Messages:  []ChatHistoryMessage{},
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}

	metadataJSON, err := marshalMetadata(metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO chats (uuid, created_at, metadata) VALUES ($1, $2, $3)`,
		chat.SessionID, chat.CreatedAt, metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to insert new chat (uuid: %s): %w", chat.SessionID, err)
	}
	return chat, nil
}

// AddMessage appends a message to an existing conversation
func (s *PostgresChatHistoryStorage) AddMessage(ctx context.Context, sessionID string, message ChatHistoryMessage) error {
	metadataJSON, err := marshalMetadata(message.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO messages (chat_uuid, role, text, generated_at, input_token, output_token, total_token, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sessionID,
		string(message.Role),
		message.Text,
		message.GeneratedAt,
		message.InputToken,
		message.OutputToken,
		message.TotalToken,
		metadataJSON,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgForeignKeyViolation {
			return fmt.Errorf("chat %s: %w", sessionID, ErrChatNotFound)
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// UpdateChatMetadata replaces the metadata for an existing chat
func (s *PostgresChatHistoryStorage) UpdateChatMetadata(ctx context.Context, sessionID string, metadata map[string]interface{}) error {
	metadataJSON, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE chats SET metadata = $1 WHERE uuid = $2`, metadataJSON, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update chat metadata: %w", err)
	}
	return requireAffected(res, sessionID)
}

// GetChat retrieves a chat and its messages in insertion order
func (s *PostgresChatHistoryStorage) GetChat(ctx context.Context, sessionID string) (*ChatHistory, error) {
	var chat ChatHistory
	var metadataJSON string

	err := s.db.QueryRowContext(ctx, `SELECT uuid, created_at, metadata FROM chats WHERE uuid = $1`, sessionID).
		Scan(&chat.SessionID, &chat.CreatedAt, &metadataJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chat %s: %w", sessionID, ErrChatNotFound)
		}
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}

	if chat.Metadata, err = unmarshalMetadata(metadataJSON); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT role, text, generated_at, input_token, output_token, total_token, metadata
	FROM messages
	WHERE chat_uuid = $1
	ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	chat.Messages, err = scanMessages(rows)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListChatHistories returns all chat histories, newest first
func (s *PostgresChatHistoryStorage) ListChatHistories(ctx context.Context) ([]ChatHistory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uuid, created_at, metadata FROM chats ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	return scanChats(rows)
}

// DeleteChat removes a chat; its messages go with it through the cascade
func (s *PostgresChatHistoryStorage) DeleteChat(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE uuid = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return requireAffected(res, sessionID)
}

// Close closes the database connection
func (s *PostgresChatHistoryStorage) Close() error {
	return s.db.Close()
}
