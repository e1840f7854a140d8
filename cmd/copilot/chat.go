package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/shaharia-lab/copilot"
)

// lineReader is the part of readline.Instance the loops need.
type lineReader interface {
	Readline() (string, error)
}

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the copilot",
		Args:  cobra.NoArgs,
		RunE:  runChatCmd,
	}
	cmd.Flags().String("resume", "", "continue the stored chat with this id")
	return cmd
}

func runChatCmd(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	session, err := openSession(ctx, a, mustString(cmd, "resume"))
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "User: ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to start prompt: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Chat %s. Type exit to quit.\n", session.ID())
	return chatLoop(ctx, session, rl, cmd.OutOrStdout())
}

func openSession(ctx context.Context, a *app, resumeID string) (*copilot.ConversationSession, error) {
	if resumeID != "" {
		return copilot.ResumeSession(ctx, a.provider, a.storage, resumeID, a.sessionOptions()...)
	}

	chat, err := a.storage.CreateChat(ctx, map[string]interface{}{
		"provider": a.cfg.Provider.Name,
		"model":    a.cfg.Provider.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	opts := append(a.sessionOptions(), copilot.WithTranscript(a.storage, chat.SessionID))
	return copilot.NewConversationSession(a.provider, opts...), nil
}

// chatLoop reads lines until exit, quit, EOF or an interrupt on an empty line.
// Failed sends are reported and the loop goes on.
func chatLoop(ctx context.Context, session *copilot.ConversationSession, in lineReader, out io.Writer) error {
	for {
		line, err := in.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		if isExit(text) {
			return nil
		}

		reply, err := session.Send(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "Error: %v\n", describeSendError(err))
			continue
		}

		fmt.Fprintf(out, "Assistant: %s\n", reply.Text)
		fmt.Fprintf(out, "Tokens: %d\n", reply.TotalTokens)
		if reply.Truncated > 0 {
			fmt.Fprintf(out, "Dropped %d oldest messages to fit the context window.\n", reply.Truncated)
		}
		if reply.Warning != nil {
			fmt.Fprintf(out, "Warning: %s\n", reply.Warning)
		}
	}
}

func describeSendError(err error) string {
	switch {
	case errors.Is(err, copilot.ErrRateLimitExhausted):
		return fmt.Sprintf("the service is rate limiting requests, try again later (%v)", err)
	case errors.Is(err, copilot.ErrEmptyHistoryOverflow):
		return "the message alone does not fit the context window"
	default:
		return err.Error()
	}
}

func isExit(text string) bool {
	switch strings.ToLower(text) {
	case "exit", "quit":
		return true
	}
	return false
}

func mustString(cmd *cobra.Command, name string) string {
	value, _ := cmd.Flags().GetString(name)
	return value
}
