package cmds

import (
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatstream/pkg/attachments"
	"github.com/go-go-golems/chatstream/pkg/chatrunner"
	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Send a prompt and stream the answer",
		Long: "Send a prompt to the chat endpoint and print the answer as it streams in. " +
			"Without arguments the prompt is read from stdin, unless --interactive is set.",
		RunE: runChat,
	}
	cmd.Flags().String("chat-id", "", "Continue the stored chat with this id (default: a new chat)")
	cmd.Flags().BoolP("interactive", "i", false, "Keep prompting for messages after the first answer")
	cmd.Flags().Bool("copy", false, "Copy the final answer to the clipboard")
	cmd.Flags().Bool("show-tools", false, "Print tool calls as they arrive")
	cmd.Flags().Bool("auto-continue", false, "Send follow-up turns once every tool call has an outcome")
	cmd.Flags().StringSlice("attach", nil, "Attach a file, or the files of a directory, to the prompt (repeatable)")
	cmd.Flags().StringSlice("attach-include", nil, "Only attach files with these extensions when walking directories (e.g. .go,.md)")
	cmd.Flags().Bool("attach-no-gitignore", false, "Do not apply .gitignore when walking directories")
	addStatsFlags(cmd)
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	interactive, _ := cmd.Flags().GetBool("interactive")
	chatID, _ := cmd.Flags().GetString("chat-id")
	showTools, _ := cmd.Flags().GetBool("show-tools")
	autoContinue, _ := cmd.Flags().GetBool("auto-continue")

	prompt := strings.Join(args, " ")
	if prompt == "" && !interactive && !isatty.IsTerminal(os.Stdin.Fd()) {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return errors.Wrap(err, "error reading from stdin")
		}
		prompt = string(b)
	}

	files, err := collectAttachments(cmd)
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	mode := chatrunner.RunModeBlocking
	if interactive {
		mode = chatrunner.RunModeInteractive
	}
	session, err := rt.builder(ctx, chatID).
		WithMode(mode).
		WithPrompt(prompt).
		WithAttachments(files).
		WithShowTools(showTools).
		WithAutoContinue(autoContinue).
		WithOutputWriter(cmd.OutOrStdout()).
		Build()
	if err != nil {
		return err
	}
	log.Debug().Str("chat_id", session.Chat().ID()).Str("mode", string(mode)).Msg("starting chat")

	last, err := session.Run()
	if err != nil {
		return err
	}
	if copyOut, _ := cmd.Flags().GetBool("copy"); copyOut {
		if err := clipboard.WriteAll(last.Text()); err != nil {
			return errors.Wrap(err, "error copying to clipboard")
		}
	}
	if !cmd.Flags().Changed("chat-id") {
		_, _ = cmd.ErrOrStderr().Write([]byte("chat id: " + session.Chat().ID() + "\n"))
	}
	return maybePrintStats(cmd, last)
}

func collectAttachments(cmd *cobra.Command) ([]uimessage.FilePart, error) {
	paths, _ := cmd.Flags().GetStringSlice("attach")
	if len(paths) == 0 {
		return nil, nil
	}
	include, _ := cmd.Flags().GetStringSlice("attach-include")
	noGitIgnore, _ := cmd.Flags().GetBool("attach-no-gitignore")
	files, err := attachments.Collect(paths, attachments.NewFilter(
		attachments.WithIncludeExts(include),
		attachments.WithDisableGitIgnore(noGitIgnore),
	))
	if err != nil {
		return nil, err
	}
	log.Debug().Int("files", len(files)).Msg("collected attachments")
	return files, nil
}
