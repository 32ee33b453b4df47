package cmds

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatstream/pkg/chatrunner"
)

func NewResumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Reattach to a turn that is still streaming",
		Long: "Reconnect to the stream of a turn the server is still producing and print the rest " +
			"of the answer. Nothing happens when the chat has no active stream.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			chatID, _ := cmd.Flags().GetString("chat-id")
			if chatID == "" {
				return errors.New("--chat-id is required")
			}
			rt, err := openRuntime(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			session, err := rt.builder(ctx, chatID).
				WithMode(chatrunner.RunModeResume).
				WithOutputWriter(cmd.OutOrStdout()).
				Build()
			if err != nil {
				return err
			}
			last, err := session.Run()
			if err != nil {
				return err
			}
			return maybePrintStats(cmd, last)
		},
	}
	cmd.Flags().String("chat-id", "", "Chat to resume")
	addStatsFlags(cmd)
	return cmd
}
