package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatstream/pkg/chunks"
	"github.com/go-go-golems/chatstream/pkg/transport"
	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

// scriptedStream yields its chunks, then err (io.EOF when nil). With block set it
// waits for cancellation after the chunks instead.
type scriptedStream struct {
	chunks []chunks.Chunk
	err    error
	block  bool
	pos    int
	closed bool
}

func (s *scriptedStream) Next(ctx context.Context) (chunks.Chunk, error) {
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type fakeTransport struct {
	mu         sync.Mutex
	send       func(n int, req transport.SendRequest) (transport.Stream, error)
	reconnect  func(req transport.ReconnectRequest) (transport.Stream, error)
	sends      []transport.SendRequest
	reconnects []transport.ReconnectRequest
}

func (f *fakeTransport) SendMessages(ctx context.Context, req transport.SendRequest) (transport.Stream, error) {
	f.mu.Lock()
	f.sends = append(f.sends, req)
	n := len(f.sends)
	f.mu.Unlock()
	return f.send(n, req)
}

func (f *fakeTransport) ReconnectToStream(ctx context.Context, req transport.ReconnectRequest) (transport.Stream, error) {
	f.mu.Lock()
	f.reconnects = append(f.reconnects, req)
	f.mu.Unlock()
	if f.reconnect == nil {
		return nil, nil
	}
	return f.reconnect(req)
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func stream(cs ...chunks.Chunk) *scriptedStream {
	return &scriptedStream{chunks: cs}
}

func textTurn(id, text string) []chunks.Chunk {
	return []chunks.Chunk{
		chunks.StartStep{},
		chunks.TextStart{ID: id},
		chunks.TextDelta{ID: id, Delta: text},
		chunks.TextEnd{ID: id},
		chunks.FinishStep{},
	}
}

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

// recorder is an Observer that remembers what it saw.
type recorder struct {
	mu       sync.Mutex
	statuses []Status
	errs     []error
	finishes []FinishInfo
	calls    []uimessage.ToolCall
	data     []chunks.Data
	changes  int
}

func (r *recorder) OnStatusChange(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) OnMessagesChange([]uimessage.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes++
}

func (r *recorder) OnToolCall(call uimessage.ToolCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recorder) OnData(d chunks.Data) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = append(r.data, d)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) OnFinish(info FinishInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishes = append(r.finishes, info)
}

func newChat(t *testing.T, tr transport.Transport, opts ...Option) (*Chat, *recorder) {
	t.Helper()
	rec := &recorder{}
	all := append([]Option{WithID("c1"), WithTransport(tr), WithIDGenerator(seqIDs()), WithObserver(rec)}, opts...)
	c, err := New(all...)
	require.NoError(t, err)
	return c, rec
}

func history() []uimessage.Message {
	return []uimessage.Message{
		uimessage.NewUserMessage("u1", "first", nil),
		{ID: "a1", Role: uimessage.RoleAssistant, Parts: []uimessage.Part{uimessage.TextPart{Text: "one", State: uimessage.TextStateDone}}},
		uimessage.NewUserMessage("u2", "second", nil),
		{ID: "a2", Role: uimessage.RoleAssistant, Parts: []uimessage.Part{uimessage.TextPart{Text: "two", State: uimessage.TextStateDone}}},
	}
}

func TestSendMessage_AssemblesAssistantMessage(t *testing.T) {
	tr := &fakeTransport{send: func(int, transport.SendRequest) (transport.Stream, error) {
		return stream(
			chunks.TextStart{ID: "a"},
			chunks.TextDelta{ID: "a", Delta: "Hi"},
			chunks.TextDelta{ID: "a", Delta: " there"},
			chunks.TextEnd{ID: "a"},
		), nil
	}}
	c, rec := newChat(t, tr)

	require.NoError(t, c.SendMessage(context.Background(), &MessageInput{Text: "hello"}))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, uimessage.RoleUser, msgs[0].Role)
	require.Equal(t, "hello", msgs[0].Text())
	require.Equal(t, uimessage.RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].Parts, 1)
	require.Equal(t, uimessage.TextPart{Text: "Hi there", State: uimessage.TextStateDone}, msgs[1].Parts[0])

	require.Equal(t, StatusReady, c.Status())
	require.NoError(t, c.Error())
	require.Equal(t, []Status{StatusSubmitted, StatusStreaming, StatusReady}, rec.statuses)
	require.Len(t, rec.finishes, 1)
	require.False(t, rec.finishes[0].IsError)
	require.Equal(t, "Hi there", rec.finishes[0].Message.Text())

	require.Len(t, tr.sends, 1)
	req := tr.sends[0]
	require.Equal(t, "c1", req.ChatID)
	require.Equal(t, transport.TriggerSubmitMessage, req.Trigger)
	require.Empty(t, req.MessageID)
	require.Len(t, req.Messages, 1)
}

func TestSendMessage_WithoutMessageIDAlwaysAppends(t *testing.T) {
	tr := &fakeTransport{send: func(n int, _ transport.SendRequest) (transport.Stream, error) {
		return stream(textTurn("t", fmt.Sprintf("answer %d", n))...), nil
	}}
	c, _ := newChat(t, tr)

	require.NoError(t, c.SendMessage(context.Background(), &MessageInput{Text: "a"}))
	require.NoError(t, c.SendMessage(context.Background(), &MessageInput{Text: "b"}))

	msgs := c.Messages()
	require.Len(t, msgs, 4)
	require.Equal(t, "a", msgs[0].Text())
	require.Equal(t, "answer 1", msgs[1].Text())
	require.Equal(t, "b", msgs[2].Text())
	require.Equal(t, "answer 2", msgs[3].Text())
	require.NotEqual(t, msgs[1].ID, msgs[3].ID)
}

func TestSendMessage_ReplacesUserMessageAndTruncates(t *testing.T) {
	tr := &fakeTransport{send: func(int, transport.SendRequest) (transport.Stream, error) {
		return stream(textTurn("t", "redo")...), nil
	}}
	c, _ := newChat(t, tr, WithMessages(history()))

	require.NoError(t, c.SendMessage(context.Background(), &MessageInput{Text: "first, edited", MessageID: "u1"}))

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "u1", msgs[0].ID)
	require.Equal(t, "first, edited", msgs[0].Text())
	require.Equal(t, "redo", msgs[1].Text())
	require.Equal(t, "u1", tr.sends[0].MessageID)
	require.Len(t, tr.sends[0].Messages, 1)
}

func TestSendMessage_AddressingErrors(t *testing.T) {
	cases := []struct {
		name      string
		messageID string
		want      error
	}{
		{"not a user message", "a1", ErrNotUserMessage},
		{"unknown id", "nope", ErrMessageNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := &fakeTransport{send: func(int, transport.SendRequest) (transport.Stream, error) {
				t.Fatal("transport must not be called")
				return nil, nil
			}}
			c, rec := newChat(t, tr, WithMessages(history()))

			err := c.SendMessage(context.Background(), &MessageInput{Text: "x", MessageID: tc.messageID})
			require.True(t, errors.Is(err, tc.want), "got %v", err)
			require.Equal(t, history(), c.Messages())
			require.Equal(t, StatusError, c.Status())
			require.Len(t, rec.errs, 1)
			require.Equal(t, 0, tr.sendCount())
		})
	}
}

func TestResumeStream_NoActiveStream(t *testing.T) {
	tr := &fakeTransport{}
	c, rec := newChat(t, tr, WithMessages(history()))

	require.NoError(t, c.ResumeStream(context.Background(), WithResumePath("/custom")))

	require.Equal(t, StatusReady, c.Status())
	require.Equal(t, history(), c.Messages())
	require.Equal(t, []Status{StatusSubmitted, StatusReady}, rec.statuses)
	require.Empty(t, rec.finishes)
	require.Len(t, tr.reconnects, 1)
	require.Equal(t, "c1", tr.reconnects[0].ChatID)
	require.Equal(t, "/custom", tr.reconnects[0].Path)
}

func TestResumeStream_ContinuesLastAssistantMessage(t *testing.T) {
	tr := &fakeTransport{reconnect: func(transport.ReconnectRequest) (transport.Stream, error) {
		return stream(textTurn("r", "more")...), nil
	}}
	c, _ := newChat(t, tr, WithMessages(history()))

	require.NoError(t, c.ResumeStream(context.Background()))

	msgs := c.Messages()
	require.Len(t, msgs, 4)
	require.Equal(t, "a2", msgs[3].ID)
	require.Equal(t, "twomore", msgs[3].Text())
	require.Equal(t, 0, tr.sendCount())
}

func TestTransportFailureMidStream_ThenClearError(t *testing.T) {
	boom := errors.New("connection reset")
	tr := &fakeTransport{send: func(int, transport.SendRequest) (transport.Stream, error) {
		return &scriptedStream{
			chunks: []chunks.Chunk{chunks.TextStart{ID: "a"}, chunks.TextDelta{ID: "a", Delta: "Hi"}},
			err:    &transport.Error{Op: "read stream", Err: boom},
		}, nil
	}}
	c, rec := newChat(t, tr)

	err := c.SendMessage(context.Background(), &MessageInput{Text: "hello"})
	require.Error(t, err)
	require.True(t, errors.Is(err, boom))
	require.Equal(t, StatusError, c.Status())
	require.True(t, errors.Is(c.Error(), boom))
	require.Len(t, rec.errs, 1)
	require.Len(t, rec.finishes, 1)
	require.True(t, rec.finishes[0].IsError)

	before := c.Messages()
	require.Len(t, before, 2)
	require.Equal(t, uimessage.TextPart{Text: "Hi", State: uimessage.TextStateDone}, before[1].Parts[0])

	c.ClearError()
	require.Equal(t, StatusReady, c.Status())
	require.NoError(t, c.Error())
	require.Equal(t, before, c.Messages())
}

func TestSendFailure_IsTransportError(t *testing.T) {
	tr := &fakeTransport{send: func(int, transport.SendRequest) (transport.Stream, error) {
		return nil, &transport.Error{Op: "send messages", StatusCode: 500}
	}}
	c, _ := newChat(t, tr)

	err := c.SendMessage(context.Background(), &MessageInput{Text: "hello"})
	var te *transport.Error
	require.True(t, errors.As(err, &te))
	require.Equal(t, StatusError, c.Status())
	require.Len(t, c.Messages(), 1)
}

func TestSuccessfulTurnAfterFailure_ClearsError(t *testing.T) {
	tr := &fakeTransport{send: func(n int, _ transport.SendRequest) (transport.Stream, error) {
		if n == 1 {
			return nil, errors.New("boom")
		}
		return stream(textTurn("t", "Hi")...), nil
	}}
	c, _ := newChat(t, tr)
	ctx := context.Background()

	require.Error(t, c.SendMessage(ctx, &MessageInput{Text: "hello"}))
	require.Equal(t, StatusError, c.Status())
	require.Error(t, c.Error())

	require.NoError(t, c.SendMessage(ctx, &MessageInput{Text: "again"}))
	require.Equal(t, StatusReady, c.Status())
	require.NoError(t, c.Error())
	require.Equal(t, "Hi", c.Messages()[len(c.Messages())-1].Text())
}

func TestResumeWithoutStreamAfterFailure_ClearsError(t *testing.T) {
	tr := &fakeTransport{send: func(int, transport.SendRequest) (transport.Stream, error) {
		return nil, errors.New("boom")
	}}
	c, _ := newChat(t, tr)
	ctx := context.Background()

	require.Error(t, c.SendMessage(ctx, &MessageInput{Text: "hello"}))
	require.NoError(t, c.ResumeStream(ctx))
	require.Equal(t, StatusReady, c.Status())
	require.NoError(t, c.Error())
}

func TestErrorChunk_IsReportedAndFoldingContinues(t *testing.T) {
	tr := &fakeTransport{send: func(int, transport.SendRequest) (transport.Stream, error) {
		return stream(
			chunks.TextStart{ID: "a"},
			chunks.Error{ErrorText: "quota exceeded"},
			chunks.TextDelta{ID: "a", Delta: "still here"},
			chunks.TextEnd{ID: "a"},
		), nil
	}}
	c, rec := newChat(t, tr, WithSendAutomaticallyWhen(func([]uimessage.Message) bool { return true }))

	require.NoError(t, c.SendMessage(context.Background(), &MessageInput{Text: "hello"}))

	require.Equal(t, StatusError, c.Status())
	var perr *ProtocolError
	require.True(t, errors.As(c.Error(), &perr))
	require.Equal(t, "quota exceeded", perr.Text)
	require.Equal(t, "still here", c.Messages()[1].Text())
	require.Len(t, rec.errs, 1)
	require.Equal(t, 1, tr.sendCount())
	require.True(t, rec.finishes[0].IsError)
}

func TestStop_CancelsQuietly(t *testing.T) {
	tr := &fakeTransport{send: func(int, transport.SendRequest) (transport.Stream, error) {
		return &scriptedStream{chunks: []chunks.Chunk{chunks.TextStart{ID: "a"}, chunks.TextDelta{ID: "a", Delta: "par"}}, block: true}, nil
	}}
	streaming := make(chan struct{}, 1)
	c, rec := newChat(t, tr, WithObserver(Hooks{StatusChange: func(s Status) {
		if s == StatusStreaming {
			streaming <- struct{}{}
		}
	}}))

	done := make(chan error, 1)
	go func() { done <- c.SendMessage(context.Background(), &MessageInput{Text: "hello"}) }()

	select {
	case <-streaming:
	case <-time.After(5 * time.Second):
		t.Fatal("turn never started streaming")
	}
	c.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not stop")
	}
	require.Equal(t, StatusReady, c.Status())
	require.NoError(t, c.Error())
	require.Empty(t, rec.errs)
	require.Len(t, rec.finishes, 1)
	require.True(t, rec.finishes[0].IsAbort)
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, uimessage.TextPart{Text: "par", State: uimessage.TextStateDone}, msgs[1].Parts[0])
}

func TestCallerContextCancellation_IsNotAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &fakeTransport{send: func(int, transport.SendRequest) (transport.Stream, error) {
		cancel()
		return &scriptedStream{block: true}, nil
	}}
	c, _ := newChat(t, tr)

	require.NoError(t, c.SendMessage(ctx, &MessageInput{Text: "hello"}))
	require.Equal(t, StatusReady, c.Status())
	require.NoError(t, c.Error())
	require.Len(t, c.Messages(), 1)
}

func TestAutoContinuation_IsBounded(t *testing.T) {
	for _, limit := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("max=%d", limit), func(t *testing.T) {
			tr := &fakeTransport{send: func(n int, _ transport.SendRequest) (transport.Stream, error) {
				return stream(textTurn(fmt.Sprintf("t%d", n), "x")...), nil
			}}
			c, _ := newChat(t, tr,
				WithMaxAutoContinuations(limit),
				WithSendAutomaticallyWhen(func([]uimessage.Message) bool { return true }),
			)

			err := c.SendMessage(context.Background(), &MessageInput{Text: "loop"})
			require.True(t, errors.Is(err, ErrTooManyRecursionAttempts), "got %v", err)
			require.Equal(t, limit+1, tr.sendCount())
			require.Equal(t, StatusError, c.Status())

			// Follow-ups continue the same assistant message.
			msgs := c.Messages()
			require.Len(t, msgs, 2)
			for i := 1; i < len(tr.sends); i++ {
				require.Equal(t, msgs[1].ID, tr.sends[i].MessageID)
				require.Equal(t, transport.TriggerSubmitMessage, tr.sends[i].Trigger)
			}
		})
	}
}

func TestToolRoundTrip_AutoContinues(t *testing.T) {
	tr := &fakeTransport{send: func(n int, req transport.SendRequest) (transport.Stream, error) {
		if n == 1 {
			return stream(
				chunks.StartStep{},
				chunks.ToolInputStart{ToolCallID: "t1", ToolName: "lookup"},
				chunks.ToolInputAvailable{ToolCallID: "t1", ToolName: "lookup", Input: json.RawMessage(`{"q":"x"}`)},
				chunks.FinishStep{},
			), nil
		}
		last := req.Messages[len(req.Messages)-1]
		tc, ok := uimessage.ToolCallOf(last.Parts[last.FindTool("t1")])
		if !ok || tc.State != uimessage.ToolStateOutputAvailable {
			return nil, errors.New("follow-up without tool output")
		}
		return stream(textTurn("t", "found it")...), nil
	}}

	var c *Chat
	var err error
	c, err = New(
		WithTransport(tr),
		WithIDGenerator(seqIDs()),
		WithSendAutomaticallyWhen(uimessage.LastAssistantMessageIsCompleteWithToolCalls),
		WithObserver(Hooks{ToolCall: func(call uimessage.ToolCall) {
			require.Equal(t, "lookup", call.ToolName)
			require.NoError(t, c.AddToolResult(context.Background(), ToolResult{ToolCallID: call.ToolCallID, Output: json.RawMessage(`{"r":1}`)}))
		}}),
	)
	require.NoError(t, err)

	require.NoError(t, c.SendMessage(context.Background(), &MessageInput{Text: "look it up"}))
	require.Equal(t, 2, tr.sendCount())
	require.Equal(t, StatusReady, c.Status())

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	calls := msgs[1].ToolCalls()
	require.Len(t, calls, 1)
	require.Equal(t, uimessage.ToolStateOutputAvailable, calls[0].State)
	require.JSONEq(t, `{"r":1}`, string(calls[0].Output))
	require.Equal(t, "found it", msgs[1].Text())
}

func TestAddToolResult_AfterTurnSendsFollowUp(t *testing.T) {
	tr := &fakeTransport{send: func(n int, _ transport.SendRequest) (transport.Stream, error) {
		if n == 1 {
			return stream(
				chunks.StartStep{},
				chunks.ToolInputAvailable{ToolCallID: "t1", ToolName: "ask", Input: json.RawMessage(`{}`)},
				chunks.FinishStep{},
			), nil
		}
		return stream(textTurn("t", "thanks")...), nil
	}}
	c, _ := newChat(t, tr, WithSendAutomaticallyWhen(uimessage.LastAssistantMessageIsCompleteWithToolCalls))

	require.NoError(t, c.SendMessage(context.Background(), &MessageInput{Text: "hi"}))
	require.Equal(t, 1, tr.sendCount())

	require.NoError(t, c.AddToolResult(context.Background(), ToolResult{ToolCallID: "t1", ErrorText: "user declined"}))
	require.Equal(t, 2, tr.sendCount())
	calls := c.Messages()[1].ToolCalls()
	require.Equal(t, uimessage.ToolStateOutputError, calls[0].State)
	require.Equal(t, "user declined", calls[0].ErrorText)
}

func TestAddToolResult_UnknownCall(t *testing.T) {
	c, _ := newChat(t, &fakeTransport{}, WithMessages(history()))
	err := c.AddToolResult(context.Background(), ToolResult{ToolCallID: "ghost"})
	require.True(t, errors.Is(err, ErrToolCallNotFound))
	require.Equal(t, StatusReady, c.Status())
}

func TestRegenerate(t *testing.T) {
	tr := &fakeTransport{send: func(int, transport.SendRequest) (transport.Stream, error) {
		return stream(textTurn("t", "fresh")...), nil
	}}
	c, _ := newChat(t, tr, WithMessages(history()))

	require.NoError(t, c.Regenerate(context.Background(), "a1"))
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "u1", msgs[0].ID)
	require.Equal(t, "fresh", msgs[1].Text())
	require.NotEqual(t, "a1", msgs[1].ID)
	require.Equal(t, transport.TriggerRegenerateMessage, tr.sends[0].Trigger)
	require.Equal(t, "a1", tr.sends[0].MessageID)

	err := c.Regenerate(context.Background(), "missing")
	require.True(t, errors.Is(err, ErrMessageNotFound))
}

func TestNoTransport(t *testing.T) {
	c, err := New(WithID("c1"))
	require.NoError(t, err)
	err = c.SendMessage(context.Background(), &MessageInput{Text: "hello"})
	require.True(t, errors.Is(err, ErrNoTransport))
	require.Equal(t, StatusError, c.Status())
}

func TestStatusChangesAreSuppressedWhenEqual(t *testing.T) {
	c, rec := newChat(t, &fakeTransport{})
	c.ClearError()
	require.Empty(t, rec.statuses)
	require.Equal(t, StatusReady, c.Status())
}

func TestStartChunkRenamesAssistantMessage(t *testing.T) {
	tr := &fakeTransport{send: func(int, transport.SendRequest) (transport.Stream, error) {
		return stream(
			chunks.Start{MessageID: "srv-1", MessageMetadata: json.RawMessage(`{"model":"m"}`)},
			chunks.TextStart{ID: "a"},
			chunks.TextDelta{ID: "a", Delta: "x"},
			chunks.TextEnd{ID: "a"},
			chunks.Data{Name: "progress", Data: json.RawMessage(`1`), Transient: true},
		), nil
	}}
	c, rec := newChat(t, tr)

	require.NoError(t, c.SendMessage(context.Background(), &MessageInput{Text: "hello"}))
	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "srv-1", msgs[1].ID)
	require.JSONEq(t, `{"model":"m"}`, string(msgs[1].Metadata))
	require.Len(t, rec.data, 1)
	require.Len(t, msgs[1].Parts, 1)
}

func TestNilInputResubmitsHistory(t *testing.T) {
	tr := &fakeTransport{send: func(int, transport.SendRequest) (transport.Stream, error) {
		return stream(textTurn("t", "again")...), nil
	}}
	c, _ := newChat(t, tr, WithMessages(history()[:3]))

	require.NoError(t, c.SendMessage(context.Background(), nil, WithHeaders(map[string]string{"X-A": "1"}), WithBody(map[string]any{"k": "v"})))
	require.Equal(t, "u2", tr.sends[0].MessageID)
	require.Equal(t, "1", tr.sends[0].Headers["X-A"])
	require.Equal(t, "v", tr.sends[0].Body["k"])
	require.Len(t, c.Messages(), 4)
}

func TestOptionsValidation(t *testing.T) {
	_, err := New(WithMaxAutoContinuations(-1))
	require.Error(t, err)
	_, err = New(WithIDGenerator(nil))
	require.Error(t, err)
	_, err = New(WithID(""))
	require.Error(t, err)

	c, err := New()
	require.NoError(t, err)
	require.NotEmpty(t, c.ID())
	require.Equal(t, StatusReady, c.Status())
}
