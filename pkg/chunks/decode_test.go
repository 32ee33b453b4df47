package chunks

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDecode_KnownKinds(t *testing.T) {
	cases := []struct {
		in   string
		want Chunk
	}{
		{`{"type":"text-start","id":"a"}`, TextStart{ID: "a"}},
		{`{"type":"text-delta","id":"a","delta":"Hi"}`, TextDelta{ID: "a", Delta: "Hi"}},
		{`{"type":"text-end","id":"a"}`, TextEnd{ID: "a"}},
		{`{"type":"reasoning-delta","id":"r","delta":"hmm"}`, ReasoningDelta{ID: "r", Delta: "hmm"}},
		{`{"type":"source-url","sourceId":"s1","url":"https://example.com"}`, SourceURL{SourceID: "s1", URL: "https://example.com"}},
		{`{"type":"file","url":"https://x/f.png","mediaType":"image/png"}`, File{URL: "https://x/f.png", MediaType: "image/png"}},
		{`{"type":"tool-input-start","toolCallId":"t1","toolName":"lookup","dynamic":true}`, ToolInputStart{ToolCallID: "t1", ToolName: "lookup", Dynamic: true}},
		{`{"type":"tool-input-delta","toolCallId":"t1","inputTextDelta":"{\"q\""}`, ToolInputDelta{ToolCallID: "t1", InputTextDelta: `{"q"`}},
		{`{"type":"tool-output-error","toolCallId":"t1","errorText":"nope"}`, ToolOutputError{ToolCallID: "t1", ErrorText: "nope"}},
		{`{"type":"start-step"}`, StartStep{}},
		{`{"type":"finish-step"}`, FinishStep{}},
		{`{"type":"start"}`, Start{}},
		{`{"type":"start","messageId":"m9"}`, Start{MessageID: "m9"}},
		{`{"type":"error","errorText":"rate limited"}`, Error{ErrorText: "rate limited"}},
		{`{"type":"abort"}`, Abort{}},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := Decode([]byte(tc.in))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDecode_ToolInputAvailableKeepsRawInput(t *testing.T) {
	c, err := Decode([]byte(`{"type":"tool-input-available","toolCallId":"t1","toolName":"lookup","input":{"q":"x"},"providerExecuted":true}`))
	require.NoError(t, err)
	tia, ok := c.(ToolInputAvailable)
	require.True(t, ok)
	require.JSONEq(t, `{"q":"x"}`, string(tia.Input))
	require.True(t, tia.ProviderExecuted)
	require.False(t, tia.Dynamic)
}

func TestDecode_DataWildcard(t *testing.T) {
	c, err := Decode([]byte(`{"type":"data-weather","id":"w1","data":{"temp":20},"transient":true}`))
	require.NoError(t, err)
	d, ok := c.(Data)
	require.True(t, ok)
	require.Equal(t, "weather", d.Name)
	require.Equal(t, "w1", d.ID)
	require.True(t, d.Transient)
	require.Equal(t, "data-weather", d.Type())
}

func TestDecode_Sentinel(t *testing.T) {
	c, err := Decode([]byte("[DONE]"))
	require.Nil(t, c)
	require.True(t, errors.Is(err, ErrDone))
}

func TestDecode_SkipsBadUnits(t *testing.T) {
	bad := []string{
		``,
		`not json`,
		`{"type":"hologram"}`,
		`{"type":"data-"}`,
		`{"type":"text-delta","delta":"no id"}`,
		`{"type":"tool-output-available","output":1}`,
		`{"type":"text-delta","id":42}`,
	}
	for _, in := range bad {
		c, err := Decode([]byte(in))
		require.NoError(t, err, in)
		require.Nil(t, c, in)
	}
}

func TestDecodeSSELine(t *testing.T) {
	c, err := DecodeSSELine(`data: {"type":"text-delta","id":"a","delta":"x"}`)
	require.NoError(t, err)
	require.Equal(t, TextDelta{ID: "a", Delta: "x"}, c)

	c, err = DecodeSSELine(`data:{"type":"text-end","id":"a"}`)
	require.NoError(t, err)
	require.Equal(t, TextEnd{ID: "a"}, c)

	c, err = DecodeSSELine(`: keep-alive`)
	require.NoError(t, err)
	require.Nil(t, c)

	_, err = DecodeSSELine("data: [DONE]\r\n")
	require.ErrorIs(t, err, ErrDone)
}

func TestEncode_RoundTrip(t *testing.T) {
	in := []Chunk{
		TextDelta{ID: "a", Delta: "Hi"},
		FinishStep{},
		Data{Name: "progress", Data: json.RawMessage(`{"pct":50}`)},
		ToolOutputAvailable{ToolCallID: "t1", Output: json.RawMessage(`{"r":1}`), Preliminary: true},
	}
	for _, c := range in {
		b, err := Encode(c)
		require.NoError(t, err)
		back, err := Decode(b)
		require.NoError(t, err)
		require.Equal(t, c.Type(), back.Type())
	}

	sse, err := EncodeSSE(FinishStep{})
	require.NoError(t, err)
	require.Equal(t, "data: {\"type\":\"finish-step\"}\n\n", string(sse))
}
