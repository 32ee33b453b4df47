package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/chatrunner"
	"github.com/go-go-golems/chatstream/pkg/config"
	"github.com/go-go-golems/chatstream/pkg/eventbus"
	"github.com/go-go-golems/chatstream/pkg/persistence/chatstore"
	"github.com/go-go-golems/chatstream/pkg/stats"
	"github.com/go-go-golems/chatstream/pkg/transport"
	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// runtime bundles what the conversation commands open from the settings.
type runtime struct {
	settings  config.Settings
	redis     *redis.Client
	transport transport.Transport
	bus       *eventbus.Bus
	store     chatstore.Store
}

func openRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	s, err := config.FromCommand(cmd)
	if err != nil {
		return nil, err
	}
	rt := &runtime{settings: s}
	rt.redis, err = chatrunner.OpenRedis(ctx, s.Redis)
	if err != nil {
		return nil, err
	}
	rt.transport, err = chatrunner.BuildTransport(s, rt.redis)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.bus, err = chatrunner.BuildBus(s.Redis, rt.redis)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store, err = chatrunner.OpenStore(s.Store)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.store != nil {
		_ = rt.store.Close()
	}
	if rt.bus != nil {
		_ = rt.bus.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}

func (rt *runtime) builder(ctx context.Context, chatID string) *chatrunner.ChatBuilder {
	b := chatrunner.NewChatBuilder().
		WithContext(ctx).
		WithTransport(rt.transport).
		WithBus(rt.bus).
		WithStore(rt.store).
		WithChatID(chatID).
		WithMaxAutoContinuations(rt.settings.MaxAutoContinuations)
	if rt.settings.ResumePath != "" {
		b = b.WithRequestOptions(chat.WithResumePath(rt.settings.ResumePath))
	}
	return b
}

// writeMessage renders msg as its text, or as the wire JSON / YAML document.
func writeMessage(w io.Writer, msg uimessage.Message, format string) error {
	switch format {
	case "", OutputText:
		_, err := fmt.Fprintln(w, msg.Text())
		return err
	case OutputJSON, OutputYAML:
		return writeStructured(w, msg, format)
	}
	return errors.Errorf("unknown output format %q", format)
}

// writeStructured goes through JSON so that custom marshalers (message parts) are
// honored for YAML too.
func writeStructured(w io.Writer, v any, format string) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if format == OutputJSON {
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func printStats(w io.Writer, backend string, msg uimessage.Message) error {
	counter, err := stats.NewCounter(backend, stats.DefaultEncoding)
	if err != nil {
		return err
	}
	s, err := stats.ForMessage(counter, msg)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Tokens:     %d (text %d, reasoning %d)\n", s.Tokens, s.TextTokens, s.ReasoningTokens)
	_, _ = fmt.Fprintf(w, "  Parts:      %d\n", s.Parts)
	_, _ = fmt.Fprintf(w, "  Tool calls: %d\n", s.ToolCalls)
	_, _ = fmt.Fprintf(w, "  Lines:      %d\n", s.Lines)
	_, err = fmt.Fprintf(w, "  Size:       %d bytes\n", s.Bytes)
	return err
}

func addStatsFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("stats", false, "Print token and size statistics of the answer to stderr")
	cmd.Flags().String("tokenizer", "tiktoken", "Token counter backend for --stats: tiktoken or tokenizer")
}

func maybePrintStats(cmd *cobra.Command, msg uimessage.Message) error {
	show, _ := cmd.Flags().GetBool("stats")
	if !show {
		return nil
	}
	backend, _ := cmd.Flags().GetString("tokenizer")
	return printStats(os.Stderr, backend, msg)
}
