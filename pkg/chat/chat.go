// Package chat is the conversation controller. It owns the message history and the
// status state machine, runs turns against a transport, folds their chunk streams
// into assistant messages and issues bounded follow-up turns once client-side tool
// results are in.
package chat

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/assembler"
	"github.com/go-go-golems/chatstream/pkg/chunks"
	"github.com/go-go-golems/chatstream/pkg/transport"
	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

type Status string

const (
	StatusReady     Status = "ready"
	StatusSubmitted Status = "submitted"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// MessageInput describes the user turn passed to SendMessage. Either Message is set,
// or Text and Files are wrapped into a new user message.
type MessageInput struct {
	Message  *uimessage.Message
	Text     string
	Files    []uimessage.FilePart
	Metadata json.RawMessage
	// MessageID replaces the user message with this id and drops every message after it.
	MessageID string
}

// ToolResult is the outcome of a tool call executed by the client.
type ToolResult struct {
	ToolCallID string
	Output     json.RawMessage
	// ErrorText marks the call as failed.
	ErrorText string
}

// Chat is safe for concurrent use. At most one turn runs at a time; operations that
// start a turn wait for the running one to finish.
type Chat struct {
	id                    string
	transport             transport.Transport
	newID                 func() string
	maxAuto               int
	sendAutomaticallyWhen func(msgs []uimessage.Message) bool
	observers             []Observer

	turnSem chan struct{}

	mu        sync.Mutex
	messages  []uimessage.Message
	status    Status
	err       error
	recursion int
	active    *assembler.State
	cancel    context.CancelFunc
}

func New(opts ...Option) (*Chat, error) {
	c := &Chat{
		newID:   defaultIDGenerator,
		maxAuto: DefaultMaxAutoContinuations,
		status:  StatusReady,
		turnSem: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.id == "" {
		c.id = c.newID()
	}
	return c, nil
}

func (c *Chat) ID() string { return c.id }

func (c *Chat) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Chat) Error() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Messages returns a copy of the history.
func (c *Chat) Messages() []uimessage.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uimessage.CloneMessages(c.messages)
}

// SetMessages replaces the history.
func (c *Chat) SetMessages(msgs []uimessage.Message) {
	var n notes
	c.mu.Lock()
	c.messages = uimessage.CloneMessages(msgs)
	n.setMessages(c.messages)
	c.mu.Unlock()
	c.emit(n)
}

// ClearError moves the conversation from error back to ready. It does nothing in any other status.
func (c *Chat) ClearError() {
	var n notes
	c.mu.Lock()
	if c.status == StatusError {
		c.err = nil
		c.setStatusLocked(StatusReady, &n)
	}
	c.mu.Unlock()
	c.emit(n)
}

// Stop cancels the running turn. The turn ends as aborted, with status ready.
func (c *Chat) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		log.Debug().Str("component", "chat").Str("chat_id", c.id).Msg("stopping turn")
		cancel()
	}
}

// SendMessage appends a user message, or replaces one when in.MessageID is set, and
// runs a turn. A nil input resubmits the current history.
func (c *Chat) SendMessage(ctx context.Context, in *MessageInput, opts ...RequestOption) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	ro := buildRequestOptions(opts)

	if in == nil {
		return c.makeRequest(ctx, transport.TriggerSubmitMessage, c.lastMessageID(), ro)
	}

	msg := c.inputMessage(in)
	var n notes
	c.mu.Lock()
	if in.MessageID != "" {
		idx := uimessage.IndexOf(c.messages, in.MessageID)
		var err error
		switch {
		case idx < 0:
			err = errors.Wrapf(ErrMessageNotFound, "message %s", in.MessageID)
		case c.messages[idx].Role != uimessage.RoleUser:
			err = errors.Wrapf(ErrNotUserMessage, "message %s has role %s", in.MessageID, c.messages[idx].Role)
		}
		if err != nil {
			c.failLocked(err, &n)
			c.mu.Unlock()
			c.emit(n)
			return err
		}
		msg.ID = in.MessageID
		c.messages = append(c.messages[:idx:idx], msg)
	} else {
		c.messages = append(c.messages, msg)
	}
	n.setMessages(c.messages)
	c.mu.Unlock()
	c.emit(n)

	return c.makeRequest(ctx, transport.TriggerSubmitMessage, in.MessageID, ro)
}

// Regenerate drops the assistant message with the given id (the last message when
// messageID is empty), along with everything after it, and asks for a new answer.
func (c *Chat) Regenerate(ctx context.Context, messageID string, opts ...RequestOption) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	var n notes
	c.mu.Lock()
	idx := len(c.messages) - 1
	if messageID != "" {
		idx = uimessage.IndexOf(c.messages, messageID)
	}
	if idx < 0 {
		err := errors.Wrapf(ErrMessageNotFound, "message %q", messageID)
		c.failLocked(err, &n)
		c.mu.Unlock()
		c.emit(n)
		return err
	}
	cut := idx + 1
	if c.messages[idx].Role == uimessage.RoleAssistant {
		cut = idx
	}
	c.messages = c.messages[:cut:cut]
	n.setMessages(c.messages)
	c.mu.Unlock()
	c.emit(n)

	return c.makeRequest(ctx, transport.TriggerRegenerateMessage, messageID, buildRequestOptions(opts))
}

// ResumeStream reconnects to a turn that is still running server side. When the
// transport reports no active stream the status returns to ready and nothing else changes.
func (c *Chat) ResumeStream(ctx context.Context, opts ...RequestOption) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()
	return c.makeRequest(ctx, transport.TriggerResumeStream, "", buildRequestOptions(opts))
}

// AddToolResult records the output of a client-executed tool call. When no turn is
// running and the auto-send predicate holds, it sends the follow-up turn.
func (c *Chat) AddToolResult(ctx context.Context, res ToolResult) error {
	apply := func(tc uimessage.ToolCall) uimessage.ToolCall {
		if res.ErrorText != "" {
			tc.State = uimessage.ToolStateOutputError
			tc.ErrorText = res.ErrorText
			return tc
		}
		tc.State = uimessage.ToolStateOutputAvailable
		tc.Output = res.Output
		tc.ErrorText = ""
		return tc
	}

	var n notes
	c.mu.Lock()
	found := false
	for i := len(c.messages) - 1; i >= 0 && !found; i-- {
		if c.messages[i].Role != uimessage.RoleAssistant {
			continue
		}
		idx := c.messages[i].FindTool(res.ToolCallID)
		if idx < 0 {
			continue
		}
		m := c.messages[i].Clone()
		tc, _ := uimessage.ToolCallOf(m.Parts[idx])
		m.Parts[idx] = uimessage.WithToolCall(m.Parts[idx], apply(tc))
		c.messages[i] = m
		found = true
	}
	if c.active != nil {
		if tc, ok := c.active.Tool(res.ToolCallID); ok {
			c.active.SetToolCall(apply(tc))
			found = true
		}
	}
	if !found {
		c.mu.Unlock()
		return errors.Wrapf(ErrToolCallNotFound, "tool call %s", res.ToolCallID)
	}
	n.setMessages(c.messages)
	inFlight := c.active != nil
	msgs := uimessage.CloneMessages(c.messages)
	c.mu.Unlock()
	c.emit(n)

	if inFlight || c.sendAutomaticallyWhen == nil || !c.sendAutomaticallyWhen(msgs) {
		return nil
	}
	if !c.tryAcquire() {
		return nil
	}
	defer c.release()
	return c.makeRequest(ctx, transport.TriggerSubmitMessage, lastID(msgs), requestOptions{})
}

func (c *Chat) inputMessage(in *MessageInput) uimessage.Message {
	var msg uimessage.Message
	if in.Message != nil {
		msg = in.Message.Clone()
		if msg.Role == "" {
			msg.Role = uimessage.RoleUser
		}
	} else {
		msg = uimessage.NewUserMessage("", in.Text, in.Files)
	}
	if msg.ID == "" {
		msg.ID = c.newID()
	}
	if in.Metadata != nil {
		msg.Metadata = in.Metadata
	}
	return msg
}

// makeRequest runs one turn, then keeps issuing follow-up turns while the auto-send
// predicate holds, up to maxAuto of them.
func (c *Chat) makeRequest(ctx context.Context, trigger transport.Trigger, messageID string, ro requestOptions) error {
	completed, err := c.runTurn(ctx, trigger, messageID, ro)
	if err != nil || !completed {
		return err
	}
	if c.sendAutomaticallyWhen == nil || !c.sendAutomaticallyWhen(c.Messages()) {
		return nil
	}

	var n notes
	c.mu.Lock()
	if c.recursion >= c.maxAuto {
		err := errors.Wrapf(ErrTooManyRecursionAttempts, "limit is %d", c.maxAuto)
		c.failLocked(err, &n)
		c.mu.Unlock()
		c.emit(n)
		log.Warn().Str("component", "chat").Str("chat_id", c.id).Int("max", c.maxAuto).Msg("auto-continuation limit reached")
		return err
	}
	c.recursion++
	next := lastID(c.messages)
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.recursion--
		c.mu.Unlock()
	}()

	log.Debug().Str("component", "chat").Str("chat_id", c.id).Str("message_id", next).Msg("auto-continuing")
	return c.makeRequest(ctx, transport.TriggerSubmitMessage, next, ro)
}

type turn struct {
	state *assembler.State
	// pos is where the assembling message sits in the history, -1 until inserted.
	pos      int
	folded   bool
	protoErr error
}

// runTurn reports whether the turn completed cleanly, which is the only case that
// allows auto-continuation.
func (c *Chat) runTurn(ctx context.Context, trigger transport.Trigger, messageID string, ro requestOptions) (bool, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var n notes
	c.mu.Lock()
	c.err = nil
	c.setStatusLocked(StatusSubmitted, &n)
	t := c.newTurnLocked()
	c.active = t.state
	c.cancel = cancel
	history := uimessage.CloneMessages(c.messages)
	c.mu.Unlock()
	c.emit(n)
	defer func() {
		c.mu.Lock()
		c.active = nil
		c.cancel = nil
		c.mu.Unlock()
	}()

	log.Debug().Str("component", "chat").Str("chat_id", c.id).Str("trigger", string(trigger)).Int("messages", len(history)).Msg("starting turn")

	if c.transport == nil {
		return false, c.endTurn(t, ErrNoTransport)
	}

	var (
		stream transport.Stream
		err    error
	)
	if trigger == transport.TriggerResumeStream {
		stream, err = c.transport.ReconnectToStream(turnCtx, transport.ReconnectRequest{
			ChatID:   c.id,
			Path:     ro.path,
			Headers:  ro.headers,
			Body:     ro.body,
			Metadata: ro.metadata,
		})
		if err == nil && stream == nil {
			log.Debug().Str("component", "chat").Str("chat_id", c.id).Msg("no active stream to resume")
			var n notes
			c.mu.Lock()
			c.active = nil
			c.setStatusLocked(StatusReady, &n)
			c.mu.Unlock()
			c.emit(n)
			return false, nil
		}
	} else {
		stream, err = c.transport.SendMessages(turnCtx, transport.SendRequest{
			ChatID:    c.id,
			Messages:  history,
			Trigger:   trigger,
			MessageID: messageID,
			Headers:   ro.headers,
			Body:      ro.body,
			Metadata:  ro.metadata,
		})
	}
	if err != nil {
		return false, c.endTurn(t, err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Debug().Err(err).Str("component", "chat").Str("chat_id", c.id).Msg("closing stream")
		}
	}()

	for {
		ch, err := stream.Next(turnCtx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, c.endTurn(t, err)
		}
		c.fold(t, ch)
	}
	return c.finishTurn(t), nil
}

// newTurnLocked continues the last message when it is an assistant message (a tool
// round trip) and starts a fresh assistant message otherwise.
func (c *Chat) newTurnLocked() *turn {
	if n := len(c.messages); n > 0 && c.messages[n-1].Role == uimessage.RoleAssistant {
		return &turn{state: assembler.NewState(c.messages[n-1]), pos: n - 1}
	}
	return &turn{
		state: assembler.NewState(uimessage.Message{ID: c.newID(), Role: uimessage.RoleAssistant}),
		pos:   -1,
	}
}

// upsertLocked writes the assembling message into the history: in place when it is
// already the last message, appended otherwise.
func (c *Chat) upsertLocked(t *turn) {
	msg := t.state.Snapshot()
	last := len(c.messages) - 1
	if last >= 0 && (c.messages[last].ID == msg.ID || t.pos == last) {
		c.messages[last] = msg
		t.pos = last
		return
	}
	c.messages = append(c.messages, msg)
	t.pos = len(c.messages) - 1
}

func (c *Chat) fold(t *turn, ch chunks.Chunk) {
	var n notes
	c.mu.Lock()
	assembler.Fold(t.state, ch, assembler.Callbacks{
		OnToolCall: func(call uimessage.ToolCall) {
			n.toolCalls = append(n.toolCalls, call)
		},
		OnData: func(d chunks.Data) {
			n.data = append(n.data, d)
		},
		OnError: func(text string) {
			perr := &ProtocolError{Text: text}
			t.protoErr = perr
			c.err = perr
			c.setStatusLocked(StatusError, &n)
			n.errs = append(n.errs, perr)
		},
	})
	t.folded = true
	if t.protoErr == nil {
		c.setStatusLocked(StatusStreaming, &n)
	}
	c.upsertLocked(t)
	n.setMessages(c.messages)
	c.mu.Unlock()
	c.emit(n)
}

func (c *Chat) finishTurn(t *turn) bool {
	var n notes
	c.mu.Lock()
	info := c.closeTurnLocked(t, &n)
	info.IsError = t.protoErr != nil
	if t.protoErr == nil {
		c.setStatusLocked(StatusReady, &n)
	}
	c.mu.Unlock()
	c.emit(n)
	c.notifyFinish(info)

	if a := t.state.Anomalies(); a > 0 {
		log.Warn().Str("component", "chat").Str("chat_id", c.id).Int("anomalies", a).Msg("stream had protocol anomalies")
	}
	return t.protoErr == nil
}

// endTurn finishes a turn that failed. Cancellation ends it quietly.
func (c *Chat) endTurn(t *turn, err error) error {
	var n notes
	c.mu.Lock()
	info := c.closeTurnLocked(t, &n)
	if errors.Is(err, context.Canceled) {
		c.err = nil
		c.setStatusLocked(StatusReady, &n)
		info.IsAbort = true
		c.mu.Unlock()
		c.emit(n)
		c.notifyFinish(info)
		log.Debug().Str("component", "chat").Str("chat_id", c.id).Msg("turn cancelled")
		return nil
	}
	info.IsError = true
	c.failLocked(err, &n)
	c.mu.Unlock()
	c.emit(n)
	c.notifyFinish(info)
	log.Warn().Err(err).Str("component", "chat").Str("chat_id", c.id).Msg("turn failed")
	return err
}

func (c *Chat) closeTurnLocked(t *turn, n *notes) FinishInfo {
	assembler.Finalize(t.state)
	if t.folded {
		c.upsertLocked(t)
		n.setMessages(c.messages)
	}
	c.active = nil
	c.cancel = nil
	return FinishInfo{Message: t.state.Snapshot(), Messages: uimessage.CloneMessages(c.messages)}
}

func (c *Chat) failLocked(err error, n *notes) {
	c.err = err
	c.setStatusLocked(StatusError, n)
	n.errs = append(n.errs, err)
}

// setStatusLocked records a transition. Setting the current status is not a transition.
func (c *Chat) setStatusLocked(s Status, n *notes) {
	if c.status == s {
		return
	}
	c.status = s
	n.statuses = append(n.statuses, s)
}

func (c *Chat) lastMessageID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lastID(c.messages)
}

func lastID(msgs []uimessage.Message) string {
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].ID
}

func (c *Chat) acquire(ctx context.Context) error {
	select {
	case c.turnSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Chat) tryAcquire() bool {
	select {
	case c.turnSem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Chat) release() { <-c.turnSem }

// notes collects notifications produced under the lock so they can be delivered after it is released.
type notes struct {
	statuses        []Status
	messages        []uimessage.Message
	messagesChanged bool
	toolCalls       []uimessage.ToolCall
	data            []chunks.Data
	errs            []error
}

func (n *notes) setMessages(msgs []uimessage.Message) {
	n.messages = uimessage.CloneMessages(msgs)
	n.messagesChanged = true
}

func (c *Chat) emit(n notes) {
	for _, s := range n.statuses {
		for _, o := range c.observers {
			o.OnStatusChange(s)
		}
	}
	if n.messagesChanged {
		for _, o := range c.observers {
			o.OnMessagesChange(n.messages)
		}
	}
	for _, call := range n.toolCalls {
		for _, o := range c.observers {
			o.OnToolCall(call)
		}
	}
	for _, d := range n.data {
		for _, o := range c.observers {
			o.OnData(d)
		}
	}
	for _, err := range n.errs {
		for _, o := range c.observers {
			o.OnError(err)
		}
	}
}

func (c *Chat) notifyFinish(info FinishInfo) {
	for _, o := range c.observers {
		o.OnFinish(info)
	}
}
