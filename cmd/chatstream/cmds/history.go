package cmds

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatstream/pkg/chatrunner"
	"github.com/go-go-golems/chatstream/pkg/config"
	"github.com/go-go-golems/chatstream/pkg/persistence/chatstore"
	"github.com/go-go-golems/chatstream/pkg/ui"
)

func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored chats",
	}
	cmd.AddCommand(newHistoryListCommand(), newHistoryShowCommand(), newHistoryDeleteCommand(), newHistoryBrowseCommand())
	return cmd
}

func openStore(cmd *cobra.Command) (chatstore.Store, error) {
	s, err := config.FromCommand(cmd)
	if err != nil {
		return nil, err
	}
	return chatrunner.OpenStore(s.Store)
}

func newHistoryListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored chats, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			output, _ := cmd.Flags().GetString("output")
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			chats, err := store.ListChats(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if output == OutputJSON || output == OutputYAML {
				return writeStructured(cmd.OutOrStdout(), chats, output)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "CHAT ID\tMESSAGES\tSTATUS\tUPDATED")
			for _, c := range chats {
				updated := time.UnixMilli(c.UpdatedAtMs).Format(time.DateTime)
				_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", c.ChatID, c.Messages, c.Status, updated)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of chats to list")
	cmd.Flags().StringP("output", "o", OutputText, "Output: text, json or yaml")
	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <chat-id>",
		Short: "Print the messages of a stored chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			msgs, err := store.LoadMessages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == OutputJSON || output == OutputYAML {
				return writeStructured(cmd.OutOrStdout(), msgs, output)
			}
			for _, m := range msgs {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", m.Role, m.Text()); err != nil {
					return err
				}
				for _, tc := range m.ToolCalls() {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  tool %s (%s): %s\n", tc.ToolName, tc.ToolCallID, tc.State)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", OutputText, "Output: text, json or yaml")
	return cmd
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Delete a stored chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			return store.DeleteChat(cmd.Context(), args[0])
		},
	}
}

func newHistoryBrowseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Browse stored chats in a terminal UI",
		Long: `Browse stored chats in a terminal UI. Enter shows the full transcript,
q quits and prints the selected chat id so it can be continued with --chat-id.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			selected, err := ui.Run(cmd.Context(), store, limit)
			if err != nil {
				return err
			}
			if selected != "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), selected)
			}
			return err
		},
	}
	cmd.Flags().Int("limit", 200, "Maximum number of chats to load")
	return cmd
}
