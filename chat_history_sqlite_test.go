package copilot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/copilot/observability"
)

func setupTestDB(t *testing.T) *SQLiteChatHistoryStorage {
	t.Helper()
	storage, err := NewSQLiteChatHistoryStorage(filepath.Join(t.TempDir(), "chat_history.db"), observability.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestSQLiteChatHistoryStorage(t *testing.T) {
	testChatHistoryStorage(t, func(t *testing.T) ChatHistoryStorage {
		return setupTestDB(t)
	})
}

func TestNewSQLiteChatHistoryStorage(t *testing.T) {
	tests := []struct {
		name         string
		databasePath string
		expectError  bool
	}{
		{
			name:         "Valid database path",
			databasePath: filepath.Join(t.TempDir(), "valid.db"),
		},
		{
			name:         "Invalid database path",
			databasePath: "/non/existent/directory/invalid.db",
			expectError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := NewSQLiteChatHistoryStorage(tt.databasePath, nil)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, storage)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, storage.Close())
		})
	}
}

func TestSQLiteChatHistoryStorage_InitSchema(t *testing.T) {
	storage := setupTestDB(t)

	for _, table := range []string{"chats", "messages"} {
		var name string
		err := storage.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err)
		assert.Equal(t, table, name)
	}

	assert.NoError(t, storage.initSchema(context.Background()), "schema creation must be repeatable")
}

func TestSQLiteChatHistoryStorage_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	storage, err := NewSQLiteChatHistoryStorage(path, nil)
	require.NoError(t, err)
	chat, err := storage.CreateChat(ctx, map[string]interface{}{"model": "gemini-2.0-flash"})
	require.NoError(t, err)
	require.NoError(t, storage.AddMessage(ctx, chat.SessionID, ChatHistoryMessage{
		LLMMessage:  LLMMessage{Role: AssistantRole, Text: "hello"},
		GeneratedAt: time.Now().UTC(),
		TotalToken:  77,
	}))
	require.NoError(t, storage.Close())

	reopened, err := NewSQLiteChatHistoryStorage(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	stored, err := reopened.GetChat(ctx, chat.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 77, stored.LastTotalToken())
	assert.Equal(t, "gemini-2.0-flash", stored.Metadata["model"])
}

func TestSQLiteChatHistoryStorage_Close(t *testing.T) {
	storage, err := NewSQLiteChatHistoryStorage(filepath.Join(t.TempDir(), "close.db"), nil)
	require.NoError(t, err)
	require.NoError(t, storage.Close())

	_, err = storage.CreateChat(context.Background(), nil)
	assert.Error(t, err)
}
