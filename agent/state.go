package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Turn is one routed exchange of an orchestrated conversation.
type Turn struct {
	UserInput     string    `json:"user_input"`
	AgentKey      string    `json:"agent_key"`
	AgentResponse string    `json:"agent_response"`
	CreatedAt     time.Time `json:"created_at"`
}

// TurnStore persists the turn log of orchestrated conversations.
type TurnStore interface {
	SaveTurns(conversationID string, turns []Turn) error
	LoadTurns(conversationID string) ([]Turn, error)
	ListConversationIDs() ([]string, error)
}

// FileTurnStore implements TurnStore with one JSON file per conversation.
type FileTurnStore struct {
	BaseDir string
}

// NewFileTurnStore creates baseDir if needed.
func NewFileTurnStore(baseDir string) (*FileTurnStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create turn directory: %w", err)
	}
	return &FileTurnStore{BaseDir: baseDir}, nil
}

func (f *FileTurnStore) path(conversationID string) (string, error) {
	if conversationID == "" || strings.ContainsAny(conversationID, `/\`) || conversationID == "." || conversationID == ".." {
		return "", fmt.Errorf("invalid conversation id %q", conversationID)
	}
	return filepath.Join(f.BaseDir, conversationID+".json"), nil
}

// SaveTurns writes the whole turn log, replacing any previous one.
func (f *FileTurnStore) SaveTurns(conversationID string, turns []Turn) error {
	filePath, err := f.path(conversationID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("failed to marshal turns: %w", err)
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write turn file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return fmt.Errorf("failed to write turn file: %w", err)
	}
	return nil
}

// LoadTurns returns the stored turns, or none when the conversation is new.
func (f *FileTurnStore) LoadTurns(conversationID string) ([]Turn, error) {
	filePath, err := f.path(conversationID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read turn file: %w", err)
	}

	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal turns: %w", err)
	}
	return turns, nil
}

// ListConversationIDs returns the stored conversation ids in lexical order.
func (f *FileTurnStore) ListConversationIDs() ([]string, error) {
	files, err := os.ReadDir(f.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read turn directory: %w", err)
	}

	var ids []string
	for _, file := range files {
		if !file.IsDir() && filepath.Ext(file.Name()) == ".json" {
			ids = append(ids, strings.TrimSuffix(file.Name(), ".json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}
