package cmds

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/transport/replay"
	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

func NewReplayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Assemble a recorded stream into a message",
		Long: "Feed a recorded SSE or NDJSON chunk stream through the assembler and print the " +
			"resulting assistant message. Useful to debug a server's output.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")

			var opts []replay.Option
			if format != "" {
				opts = append(opts, replay.WithFraming(replay.Framing(format)))
			}
			tr, err := replay.NewFile(args[0], opts...)
			if err != nil {
				return err
			}

			var last uimessage.Message
			c, err := chat.New(
				chat.WithTransport(tr),
				chat.WithObserver(chat.Hooks{Finish: func(info chat.FinishInfo) { last = info.Message }}),
			)
			if err != nil {
				return err
			}
			if err := c.SendMessage(cmd.Context(), nil); err != nil {
				return errors.Wrapf(err, "replay %s", args[0])
			}
			if err := writeMessage(cmd.OutOrStdout(), last, output); err != nil {
				return err
			}
			if err := maybePrintStats(cmd, last); err != nil {
				return err
			}
			// an error chunk in the recording leaves the chat in error
			return c.Error()
		},
	}
	cmd.Flags().String("format", "", "Recording framing: sse or ndjson (default: from the file extension)")
	cmd.Flags().StringP("output", "o", OutputText, "Output: text, json or yaml")
	addStatsFlags(cmd)
	return cmd
}
