package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaharia-lab/copilot/agent"
)

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Talk to the finance agents through the router",
		Args:  cobra.NoArgs,
		RunE:  runAskCmd,
	}
	cmd.Flags().String("state-dir", "", "keep the routed conversation in this directory")
	cmd.Flags().String("conversation", "", "conversation id to continue (requires --state-dir)")
	cmd.Flags().Bool("summarize", false, "turn structured agent output into a plain message")
	return cmd
}

func runAskCmd(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := agent.OrchestratorConfig{
		AgentOptions: a.agentOptions(),
		Logger:       a.logger,
	}
	if dir := mustString(cmd, "state-dir"); dir != "" {
		store, err := agent.NewFileTurnStore(dir)
		if err != nil {
			return err
		}
		cfg.Store = store
		cfg.ConversationID = mustString(cmd, "conversation")
		if cfg.ConversationID == "" {
			cfg.ConversationID = uuid.New().String()
		}
	}

	orchestrator, err := agent.NewOrchestrator(a.provider, cfg)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{Prompt: "User: ", InterruptPrompt: "^C", EOFPrompt: "exit"})
	if err != nil {
		return fmt.Errorf("failed to start prompt: %w", err)
	}
	defer rl.Close()

	if cfg.ConversationID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s. Type exit to quit.\n", cfg.ConversationID)
	}
	summarize, _ := cmd.Flags().GetBool("summarize")
	return askLoop(cmd.Context(), orchestrator, rl, cmd.OutOrStdout(), summarize)
}

func askLoop(ctx context.Context, orchestrator *agent.Orchestrator, in lineReader, out io.Writer, summarize bool) error {
	for {
		line, err := in.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
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

		turn, err := orchestrator.Handle(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "Error: %v\n", describeSendError(err))
			continue
		}

		response := turn.AgentResponse
		if summarize {
			if summary, err := orchestrator.Summarize(ctx, text, response); err == nil {
				response = summary
			} else {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
		}
		fmt.Fprintf(out, "[%s] %s\n", turn.AgentKey, response)
	}
}
