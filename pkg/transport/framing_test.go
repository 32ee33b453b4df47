package transport

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatstream/pkg/chunks"
)

func drain(t *testing.T, s Stream) []chunks.Chunk {
	t.Helper()
	var out []chunks.Chunk
	for {
		c, err := s.Next(context.Background())
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, c)
	}
}

func TestSSEStream_DecodesEventsAndStopsAtSentinel(t *testing.T) {
	body := strings.Join([]string{
		`: keepalive`,
		`data: {"type":"text-start","id":"a"}`,
		``,
		`data:{"type":"text-delta","id":"a","delta":"Hi"}`,
		``,
		`data: not json`,
		``,
		`data: {"type":"text-end","id":"a"}`,
		`data: [DONE]`,
		``,
		`data: {"type":"text-start","id":"late"}`,
		``,
	}, "\r\n")
	s := NewSSEStream(io.NopCloser(strings.NewReader(body)))
	got := drain(t, s)
	require.Equal(t, []chunks.Chunk{
		chunks.TextStart{ID: "a"},
		chunks.TextDelta{ID: "a", Delta: "Hi"},
		chunks.TextEnd{ID: "a"},
	}, got)
	require.NoError(t, s.Close())
}

func TestSSEStream_JoinsMultilinePayload(t *testing.T) {
	body := "data: {\"type\":\"text-delta\",\n" +
		"data: \"id\":\"a\",\"delta\":\"x\"}\n" +
		"\n"
	got := drain(t, NewSSEStream(io.NopCloser(strings.NewReader(body))))
	require.Equal(t, []chunks.Chunk{chunks.TextDelta{ID: "a", Delta: "x"}}, got)
}

func TestSSEStream_MalformedLineDoesNotSwallowLaterEvents(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"text-start","id":"a"}`,
		`data: {not json`,
		`data: {"type":"text-delta","id":"a","delta":"Hi"}`,
		`data: {"type":"text-end","id":"a"}`,
		`data: [DONE]`,
		`data: {"type":"text-start","id":"late"}`,
	}, "\n")
	got := drain(t, NewSSEStream(io.NopCloser(strings.NewReader(body))))
	require.Equal(t, []chunks.Chunk{
		chunks.TextStart{ID: "a"},
		chunks.TextDelta{ID: "a", Delta: "Hi"},
		chunks.TextEnd{ID: "a"},
	}, got)
}

func TestSSEStream_PendingPayloadFlushedBeforeCompleteOne(t *testing.T) {
	body := "data: {\"type\":\"text-delta\",\n" +
		"data: \"id\":\"a\",\"delta\":\"x\"}\n" +
		"data: {\"type\":\"text-end\",\"id\":\"a\"}\n"
	got := drain(t, NewSSEStream(io.NopCloser(strings.NewReader(body))))
	require.Equal(t, []chunks.Chunk{
		chunks.TextDelta{ID: "a", Delta: "x"},
		chunks.TextEnd{ID: "a"},
	}, got)
}

func TestSSEStream_EndOfBodyWithoutSentinel(t *testing.T) {
	body := `data: {"type":"start-step"}`
	got := drain(t, NewSSEStream(io.NopCloser(strings.NewReader(body))))
	require.Equal(t, []chunks.Chunk{chunks.StartStep{}}, got)
}

func TestSSEStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSSEStream(io.NopCloser(strings.NewReader(`data: {"type":"start-step"}`)))
	_, err := s.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNDJSONStream(t *testing.T) {
	body := strings.Join([]string{
		`{"type":"tool-input-start","toolCallId":"t1","toolName":"lookup"}`,
		``,
		`{"type":"nope"}`,
		`{"type":"finish"}`,
		`[DONE]`,
		`{"type":"abort"}`,
	}, "\n")
	got := drain(t, NewNDJSONStream(io.NopCloser(strings.NewReader(body))))
	require.Equal(t, []chunks.Chunk{
		chunks.ToolInputStart{ToolCallID: "t1", ToolName: "lookup"},
		chunks.Finish{},
	}, got)
}

func TestSliceStream(t *testing.T) {
	s := NewSliceStream(chunks.StartStep{}, chunks.FinishStep{})
	require.Len(t, drain(t, s), 2)
	_, err := s.Next(context.Background())
	require.Equal(t, io.EOF, err)
}

func TestRequestBody_CoreFieldsWin(t *testing.T) {
	body := RequestBody(SendRequest{
		ChatID:    "c1",
		Trigger:   TriggerSubmitMessage,
		MessageID: "m1",
		Body:      map[string]any{"id": "spoofed", "temperature": 0.2},
	})
	require.Equal(t, "c1", body["id"])
	require.Equal(t, 0.2, body["temperature"])
	require.Equal(t, "m1", body["messageId"])
	require.NotNil(t, body["messages"])
	_, hasMeta := body["metadata"]
	require.False(t, hasMeta)
}

func TestError_Message(t *testing.T) {
	err := &Error{Op: "send messages", StatusCode: 500, Body: "boom"}
	require.Equal(t, "send messages: status 500: boom", err.Error())
}
