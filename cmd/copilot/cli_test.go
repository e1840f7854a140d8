package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chzyer/readline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/copilot"
	"github.com/shaharia-lab/copilot/agent"
	"github.com/shaharia-lab/copilot/config"
)

type scriptedReader struct {
	lines []string
	err   error
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		if r.err != nil {
			return "", r.err
		}
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func TestNewApp_NoopProviderWithMemoryStorage(t *testing.T) {
	cfg := testConfig(t, `
provider:
  name: noop
logging:
  backend: none
rate_limit:
  requests_per_second: 100
`)
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &copilot.InMemoryChatHistoryStorage{}, a.storage)
	assert.IsType(t, &copilot.TracingLLMProvider{}, a.provider)

	policy := a.retryPolicy()
	assert.Equal(t, 3, policy.MaxRetries)
	assert.Equal(t, copilot.DefaultRetryPolicy(), policy)
	assert.Equal(t, copilot.DefaultConfig, a.requestConfig())
}

func TestNewApp_SQLiteStorage(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "chats.db")
	cfg := testConfig(t, `
provider:
  name: noop
storage:
  driver: sqlite
  dsn: `+dsn+`
logging:
  backend: none
`)
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &copilot.SQLiteChatHistoryStorage{}, a.storage)
	assert.Len(t, a.closers, 1)
}

func TestNewApp_UnknownStorage(t *testing.T) {
	cfg := testConfig(t, "provider:\n  name: noop\nlogging:\n  backend: none\n")
	cfg.Storage.Driver = "mongo"

	_, err := newApp(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown storage driver")
}

func newChatApp(t *testing.T) *app {
	t.Helper()
	cfg := testConfig(t, "provider:\n  name: noop\nlogging:\n  backend: none\n")
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestChatLoop(t *testing.T) {
	a := newChatApp(t)
	ctx := context.Background()

	session, err := openSession(ctx, a, "")
	require.NoError(t, err)

	var out bytes.Buffer
	in := &scriptedReader{lines: []string{"I spend too much on coffee", "", "  ", "Rent is 1500", "quit", "never read"}}
	require.NoError(t, chatLoop(ctx, session, in, &out))

	assert.Contains(t, out.String(), "Assistant: I spend too much on coffee\n")
	assert.Contains(t, out.String(), "Assistant: Rent is 1500\n")
	assert.NotContains(t, out.String(), "Assistant: User:")
	assert.Contains(t, out.String(), "Tokens: ")
	assert.Equal(t, []string{"never read"}, in.lines)
	assert.Len(t, session.History(), 4)

	chat, err := a.storage.GetChat(ctx, session.ID())
	require.NoError(t, err)
	assert.Len(t, chat.Messages, 4)
	assert.Equal(t, "noop", chat.Metadata["provider"])
}

func TestChatLoop_ResumeStoredChat(t *testing.T) {
	a := newChatApp(t)
	ctx := context.Background()

	first, err := openSession(ctx, a, "")
	require.NoError(t, err)
	require.NoError(t, chatLoop(ctx, first, &scriptedReader{lines: []string{"hello"}}, io.Discard))

	resumed, err := openSession(ctx, a, first.ID())
	require.NoError(t, err)
	assert.Equal(t, first.History(), resumed.History())
	assert.Equal(t, first.TotalTokensUsed(), resumed.TotalTokensUsed())

	_, err = openSession(ctx, a, "missing")
	assert.ErrorIs(t, err, copilot.ErrChatNotFound)
}

func TestChatLoop_ReportsErrorsAndContinues(t *testing.T) {
	provider := copilot.NewNoOpsLLMProvider(copilot.WithError(errors.New("quota project not set")))
	session := copilot.NewConversationSession(provider)

	var out bytes.Buffer
	in := &scriptedReader{lines: []string{"one", "two"}}
	require.NoError(t, chatLoop(context.Background(), session, in, &out))

	assert.Equal(t, 2, strings.Count(out.String(), "Error: completion service error: quota project not set"))
}

func TestChatLoop_InterruptOnEmptyLineEnds(t *testing.T) {
	session := copilot.NewConversationSession(copilot.NewNoOpsLLMProvider())
	in := &scriptedReader{err: readline.ErrInterrupt}
	assert.NoError(t, chatLoop(context.Background(), session, in, io.Discard))
}

func TestChatLoop_ReaderFailure(t *testing.T) {
	session := copilot.NewConversationSession(copilot.NewNoOpsLLMProvider())
	boom := errors.New("terminal gone")
	assert.ErrorIs(t, chatLoop(context.Background(), session, &scriptedReader{err: boom}, io.Discard), boom)
}

func TestDescribeSendError(t *testing.T) {
	assert.Contains(t, describeSendError(copilot.ErrRateLimitExhausted), "rate limiting")
	assert.Equal(t, "the message alone does not fit the context window", describeSendError(copilot.ErrEmptyHistoryOverflow))
	assert.Equal(t, "other", describeSendError(errors.New("other")))
}

func TestAskLoop(t *testing.T) {
	provider := copilot.NewNoOpsLLMProvider(copilot.WithResponse(copilot.LLMResponse{Text: `{"response": "budgetplanneragent"}`}))
	orchestrator, err := agent.NewOrchestrator(provider, agent.OrchestratorConfig{})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, askLoop(context.Background(), orchestrator, &scriptedReader{lines: []string{"review my budget", "exit"}}, &out, false))

	assert.Equal(t, "[budgetplanneragent] {\"response\": \"budgetplanneragent\"}\n", out.String())
	assert.Len(t, orchestrator.Turns(), 1)
}

func TestListAndShowChats(t *testing.T) {
	ctx := context.Background()
	storage := copilot.NewInMemoryChatHistoryStorage()

	var out bytes.Buffer
	require.NoError(t, listChats(ctx, storage, &out))
	assert.Equal(t, "No chats found.\n", out.String())

	chat, err := storage.CreateChat(ctx, map[string]interface{}{"model": "gemini-2.0-flash"})
	require.NoError(t, err)
	require.NoError(t, storage.AddMessage(ctx, chat.SessionID, copilot.ChatHistoryMessage{
		LLMMessage: copilot.LLMMessage{Role: copilot.UserRole, Text: "hi"},
	}))
	require.NoError(t, storage.AddMessage(ctx, chat.SessionID, copilot.ChatHistoryMessage{
		LLMMessage: copilot.LLMMessage{Role: copilot.AssistantRole, Text: "hello"},
		TotalToken: 12,
	}))

	out.Reset()
	require.NoError(t, listChats(ctx, storage, &out))
	assert.Contains(t, out.String(), chat.SessionID)
	assert.Contains(t, out.String(), "gemini-2.0-flash")

	out.Reset()
	require.NoError(t, showChat(ctx, storage, chat.SessionID, &out))
	assert.Contains(t, out.String(), "User: hi\n\nAssistant: hello\n  (tokens: 12)\n")

	assert.ErrorIs(t, showChat(ctx, storage, "missing", io.Discard), copilot.ErrChatNotFound)
}

func TestReadStatement(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statement.txt")
	require.NoError(t, os.WriteFile(path, []byte("MIGROS -100,00 TL"), 0o600))

	text, err := readStatement(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "MIGROS -100,00 TL", text)

	text, err = readStatement(strings.NewReader("from stdin"), "-")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", text)

	_, err = readStatement(nil, filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestRootCommand_HistoryListWithNoopProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "copilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  name: noop\nlogging:\n  backend: none\n"), 0o600))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"history", "list", "--config", path})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "No chats found.\n", out.String())
}

func TestIsExit(t *testing.T) {
	assert.True(t, isExit("exit"))
	assert.True(t, isExit("QUIT"))
	assert.False(t, isExit("exit now"))
}
