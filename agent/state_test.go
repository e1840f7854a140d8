package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTurnStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileTurnStore(filepath.Join(dir, "turns"))
	require.NoError(t, err)

	turns, err := store.LoadTurns("missing")
	require.NoError(t, err)
	assert.Empty(t, turns)

	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	want := []Turn{
		{UserInput: "hi", AgentKey: NormalChatKey, AgentResponse: "hello", CreatedAt: now},
		{UserInput: "plan", AgentKey: LifePlannerKey, AgentResponse: "{}", CreatedAt: now.Add(time.Minute)},
	}
	require.NoError(t, store.SaveTurns("b", want))
	require.NoError(t, store.SaveTurns("a", want[:1]))

	got, err := store.LoadTurns("b")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ids, err := store.ListConversationIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestFileTurnStore_RejectsPathIDs(t *testing.T) {
	store, err := NewFileTurnStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "..", "../escape", `a\b`} {
		assert.Error(t, store.SaveTurns(id, nil), id)
		_, err := store.LoadTurns(id)
		assert.Error(t, err, id)
	}
}

func TestFileTurnStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileTurnStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{"), 0o644))

	_, err = store.LoadTurns("bad")
	assert.Error(t, err)
}
