package cmds

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatstream/pkg/chatrunner"
	"github.com/go-go-golems/chatstream/pkg/config"
	"github.com/go-go-golems/chatstream/pkg/eventbus"
)

func NewEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow a chat's events from another process",
		Long: "Print the notifications of a chat as JSON lines while another chatstream " +
			"process runs it. Needs Redis (--redis-enabled).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			chatID, _ := cmd.Flags().GetString("chat-id")
			group, _ := cmd.Flags().GetString("group")
			if chatID == "" {
				return errors.New("--chat-id is required")
			}
			s, err := config.FromCommand(cmd)
			if err != nil {
				return err
			}
			if !s.Redis.Enabled {
				return errors.New("events needs redis, set --redis-enabled")
			}
			if group == "" {
				group = "watch-" + uuid.NewString()
			}

			ctx := cmd.Context()
			client, err := chatrunner.OpenRedis(ctx, s.Redis)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			bus, err := eventbus.NewRedis(client, group, s.Redis.Consumer)
			if err != nil {
				return err
			}
			defer func() { _ = bus.Close() }()

			events, err := bus.Subscribe(ctx, chatID)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for ev := range events {
				if err := enc.Encode(ev); err != nil {
					return err
				}
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		},
	}
	cmd.Flags().String("chat-id", "", "Chat to follow")
	cmd.Flags().String("group", "", "Redis consumer group (default: a fresh group per run)")
	return cmd
}
