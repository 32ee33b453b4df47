package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatstream/cmd/chatstream/cmds"
	"github.com/go-go-golems/chatstream/pkg/config"
	"github.com/go-go-golems/chatstream/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:   "chatstream",
	Short: "chatstream talks to streaming chat endpoints",
	Long: "chatstream sends conversations to a chat endpoint, assembles the streamed answer " +
		"and keeps the history between runs.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// reinitialize the logger now that --log-level and the config file are known
		s, err := config.FromCommand(cmd)
		if err != nil {
			return err
		}
		return logging.InitLogger(s.Log)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.AddFlags(rootCmd)
	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewResumeCommand(),
		cmds.NewReplayCommand(),
		cmds.NewHistoryCommand(),
		cmds.NewEventsCommand(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
