package cmds

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatstream/pkg/chatrunner"
	"github.com/go-go-golems/chatstream/pkg/config"
	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

const recording = `{"type":"start"}
{"type":"text-start","id":"t"}
{"type":"text-delta","id":"t","delta":"42"}
{"type":"text-end","id":"t"}
{"type":"finish"}
`

// root mirrors main's command tree with isolated flags.
func root(sub *cobra.Command) *cobra.Command {
	r := &cobra.Command{Use: "chatstream", SilenceUsage: true, SilenceErrors: true}
	config.AddFlags(r)
	r.AddCommand(sub)
	return r
}

func TestReplayCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turn.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(recording), 0o600))
	cfg := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("log:\n  level: error\n"), 0o600))

	r := root(NewReplayCommand())
	var out bytes.Buffer
	r.SetOut(&out)
	r.SetArgs([]string{"--config", cfg, "replay", path, "-o", "json"})
	require.NoError(t, r.Execute())

	var msg uimessage.Message
	require.NoError(t, json.Unmarshal(out.Bytes(), &msg))
	require.Equal(t, uimessage.RoleAssistant, msg.Role)
	require.Equal(t, "42", msg.Text())
}

func TestReplayCommand_ErrorChunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turn.ndjson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"error","errorText":"overloaded"}`+"\n"), 0o600))
	cfg := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("{}\n"), 0o600))

	r := root(NewReplayCommand())
	r.SetOut(&bytes.Buffer{})
	r.SetArgs([]string{"--config", cfg, "replay", path})
	err := r.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "overloaded")
}

func TestHistoryCommands(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "c.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("store:\n  driver: sqlite\n  dsn: "+filepath.Join(dir, "chats.db")+"\n"), 0o600))

	s, err := config.Load(cfg, true)
	require.NoError(t, err)
	seed, err := chatrunner.OpenStore(s.Store)
	require.NoError(t, err)
	require.NoError(t, seed.SaveMessages(context.Background(), "c1", "ready", "", []uimessage.Message{
		uimessage.NewUserMessage("u1", "hello", nil),
	}))
	require.NoError(t, seed.Close())

	run := func(args ...string) string {
		r := root(NewHistoryCommand())
		var out bytes.Buffer
		r.SetOut(&out)
		r.SetArgs(append([]string{"--config", cfg}, args...))
		require.NoError(t, r.Execute())
		return out.String()
	}

	require.Contains(t, run("history", "list"), "c1")
	require.Equal(t, "[user] hello\n", run("history", "show", "c1"))

	var doc []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(run("history", "show", "c1", "-o", "yaml")), &doc))
	require.Equal(t, "u1", doc[0]["id"])

	run("history", "delete", "c1")
	require.NotContains(t, run("history", "list"), "c1")

	r := root(NewHistoryCommand())
	r.SetOut(&bytes.Buffer{})
	r.SetArgs([]string{"--config", cfg, "history", "browse"})
	err = r.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no chats stored")
}

func TestWriteMessage(t *testing.T) {
	msg := uimessage.NewUserMessage("u1", "hi", nil)
	var buf bytes.Buffer
	require.NoError(t, writeMessage(&buf, msg, OutputText))
	require.Equal(t, "hi\n", buf.String())

	buf.Reset()
	require.NoError(t, writeMessage(&buf, msg, OutputYAML))
	require.Contains(t, buf.String(), "id: u1")

	require.Error(t, writeMessage(&buf, msg, "xml"))
}
