// Package transport defines the boundary between the conversation controller and
// whatever carries requests and chunk streams over the network.
package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-go-golems/chatstream/pkg/chunks"
	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

type Trigger string

const (
	TriggerSubmitMessage     Trigger = "submit-message"
	TriggerResumeStream      Trigger = "resume-stream"
	TriggerRegenerateMessage Trigger = "regenerate-message"
)

// SendRequest is everything a transport needs to start a turn.
type SendRequest struct {
	ChatID    string
	Messages  []uimessage.Message
	Trigger   Trigger
	MessageID string
	Headers   map[string]string
	Body      map[string]any
	Metadata  json.RawMessage
}

// ReconnectRequest asks to resume the stream of a turn that is still running server side.
type ReconnectRequest struct {
	ChatID   string
	Path     string
	Headers  map[string]string
	Body     map[string]any
	Metadata json.RawMessage
}

// Stream is a single-consumer pull iterator over the chunks of one turn.
//
// Next blocks until a chunk is available. It returns io.EOF once the stream ended
// successfully, either through the sentinel or because the body was exhausted.
// Units that do not decode are skipped, never returned.
type Stream interface {
	Next(ctx context.Context) (chunks.Chunk, error)
	Close() error
}

// Transport starts and resumes chunk streams.
type Transport interface {
	SendMessages(ctx context.Context, req SendRequest) (Stream, error)
	// ReconnectToStream returns (nil, nil) when there is no active stream to resume.
	ReconnectToStream(ctx context.Context, req ReconnectRequest) (Stream, error)
}

// Error reports a failed request: a connection failure or a non-2xx response.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
}

func (e *Error) Unwrap() error { return e.Err }

// RequestBody is the JSON payload shared by the HTTP and websocket transports.
// Extra body fields are merged at the top level; the core fields win on conflict.
func RequestBody(req SendRequest) map[string]any {
	out := make(map[string]any, len(req.Body)+5)
	for k, v := range req.Body {
		out[k] = v
	}
	msgs := req.Messages
	if msgs == nil {
		msgs = []uimessage.Message{}
	}
	out["id"] = req.ChatID
	out["messages"] = msgs
	out["trigger"] = req.Trigger
	if req.MessageID != "" {
		out["messageId"] = req.MessageID
	}
	if req.Metadata != nil {
		out["metadata"] = req.Metadata
	}
	return out
}

// MergeHeaders layers request headers over defaults.
func MergeHeaders(defaults, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// MergeBody layers request body fields over defaults.
func MergeBody(defaults, overrides map[string]any) map[string]any {
	if len(defaults) == 0 {
		return overrides
	}
	out := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}
