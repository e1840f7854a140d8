package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaharia-lab/copilot"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored chats",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored chats, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return listChats(cmd.Context(), a.storage, cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print the messages of a stored chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return showChat(cmd.Context(), a.storage, args[0], cmd.OutOrStdout())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.storage.DeleteChat(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func listChats(ctx context.Context, storage copilot.ChatHistoryStorage, out io.Writer) error {
	chats, err := storage.ListChatHistories(ctx)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		fmt.Fprintln(out, "No chats found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tMODEL")
	for _, chat := range chats {
		model, _ := chat.Metadata["model"].(string)
		fmt.Fprintf(w, "%s\t%s\t%s\n", chat.SessionID, chat.CreatedAt.Local().Format(time.DateTime), model)
	}
	return w.Flush()
}

func showChat(ctx context.Context, storage copilot.ChatHistoryStorage, id string, out io.Writer) error {
	chat, err := storage.GetChat(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Chat %s (%s)\n\n", chat.SessionID, chat.CreatedAt.Local().Format(time.DateTime))
	for _, msg := range chat.Messages {
		fmt.Fprintln(out, copilot.JoinHistory([]copilot.LLMMessage{msg.LLMMessage}))
		if msg.TotalToken > 0 {
			fmt.Fprintf(out, "  (tokens: %d)\n", msg.TotalToken)
		}
		fmt.Fprintln(out)
	}
	return nil
}
