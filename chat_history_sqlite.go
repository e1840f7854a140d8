package copilot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shaharia-lab/copilot/observability"
)

// SQLiteChatHistoryStorage is an SQLite implementation of ChatHistoryStorage
type SQLiteChatHistoryStorage struct {
	db     *sql.DB
	mu     sync.RWMutex
	logger observability.Logger
}

// NewSQLiteChatHistoryStorage opens (or creates) the SQLite database at
// databasePath and makes sure the schema exists.
func NewSQLiteChatHistoryStorage(databasePath string, logger observability.Logger) (*SQLiteChatHistoryStorage, error) {
	db, err := sql.Open("sqlite3", databasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	if logger == nil {
		logger = observability.NewNullLogger()
	}

	storage := &SQLiteChatHistoryStorage{
		db:     db,
		logger: logger,
	}

	if err := storage.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return storage, nil
}

// initSchema creates the necessary tables if they don't exist
func (s *SQLiteChatHistoryStorage) initSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			uuid TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			metadata TEXT DEFAULT '{}'
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_uuid TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			generated_at DATETIME NOT NULL,
			input_token INTEGER DEFAULT 0,
			output_token INTEGER DEFAULT 0,
			total_token INTEGER DEFAULT 0,
			metadata TEXT DEFAULT '{}',
			FOREIGN KEY (chat_uuid) REFERENCES chats(uuid) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_uuid ON messages (chat_uuid);`,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema init: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return tx.Commit()
}

// CreateChat initializes a new chat conversation in SQLite
func (s *SQLiteChatHistoryStorage) CreateChat(ctx context.Context, metadata map[string]interface{}) (*ChatHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	chat := &ChatHistory{
		SessionID: uuid.New().String(),
		Messages:  []ChatHistoryMessage{},
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}

	metadataJSON, err := json.Marshal(chat.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO chats (uuid, created_at, metadata) VALUES (?, ?, ?)`,
		chat.SessionID, chat.CreatedAt, string(metadataJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to insert new chat (uuid: %s): %w", chat.SessionID, err)
	}

	s.logger.WithFields(map[string]interface{}{"session_id": chat.SessionID}).Debug("chat created")
	return chat, nil
}

// AddMessage appends a message to an existing conversation in SQLite
func (s *SQLiteChatHistoryStorage) AddMessage(ctx context.Context, sessionID string, message ChatHistoryMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for adding message: %w", err)
	}
	defer tx.Rollback()

	if err := s.ensureChat(ctx, tx, sessionID); err != nil {
		return err
	}

	metadataJSON, err := marshalMetadata(message.Metadata)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO messages (chat_uuid, role, text, generated_at, input_token, output_token, total_token, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID,
		message.Role,
		message.Text,
		message.GeneratedAt,
		message.InputToken,
		message.OutputToken,
		message.TotalToken,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	return tx.Commit()
}

// UpdateChatMetadata replaces the metadata for an existing chat
func (s *SQLiteChatHistoryStorage) UpdateChatMetadata(ctx context.Context, sessionID string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadataJSON, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE chats SET metadata = ? WHERE uuid = ?`, metadataJSON, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update chat metadata: %w", err)
	}
	return requireAffected(res, sessionID)
}

// GetChat retrieves a chat and its messages in insertion order
func (s *SQLiteChatHistoryStorage) GetChat(ctx context.Context, sessionID string) (*ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chat ChatHistory
	var metadataJSON string

	err := s.db.QueryRowContext(ctx, `SELECT uuid, created_at, metadata FROM chats WHERE uuid = ?`, sessionID).
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
	WHERE chat_uuid = ?
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
func (s *SQLiteChatHistoryStorage) ListChatHistories(ctx context.Context) ([]ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT uuid, created_at, metadata FROM chats ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	return scanChats(rows)
}

// DeleteChat removes a chat and its messages
func (s *SQLiteChatHistoryStorage) DeleteChat(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for deleting chat: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_uuid = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE uuid = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if err := requireAffected(res, sessionID); err != nil {
		return err
	}

	return tx.Commit()
}

// Close closes the database connection
func (s *SQLiteChatHistoryStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteChatHistoryStorage) ensureChat(ctx context.Context, tx *sql.Tx, sessionID string) error {
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats WHERE uuid = ?`, sessionID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check chat existence: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("chat %s: %w", sessionID, ErrChatNotFound)
	}
	return nil
}

func marshalMetadata(metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMetadata(raw string) (map[string]interface{}, error) {
	metadata := make(map[string]interface{})
	if raw == "" || raw == "{}" {
		return metadata, nil
	}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

func requireAffected(res sql.Result, sessionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("chat %s: %w", sessionID, ErrChatNotFound)
	}
	return nil
}

func scanMessages(rows *sql.Rows) ([]ChatHistoryMessage, error) {
	messages := []ChatHistoryMessage{}
	for rows.Next() {
		var message ChatHistoryMessage
		var metadataJSON string

		err := rows.Scan(
			&message.Role,
			&message.Text,
			&message.GeneratedAt,
			&message.InputToken,
			&message.OutputToken,
			&message.TotalToken,
			&metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}

		if message.Metadata, err = unmarshalMetadata(metadataJSON); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

func scanChats(rows *sql.Rows) ([]ChatHistory, error) {
	chats := []ChatHistory{}
	for rows.Next() {
		var chat ChatHistory
		var metadataJSON string

		if err := rows.Scan(&chat.SessionID, &chat.CreatedAt, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}

		var err error
		if chat.Metadata, err = unmarshalMetadata(metadataJSON); err != nil {
			return nil, err
		}
		chat.Messages = []ChatHistoryMessage{}
		chats = append(chats, chat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat rows: %w", err)
	}
	return chats, nil
}
