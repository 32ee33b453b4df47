// Package replay serves recorded chunk streams from files or memory. Every turn
// replays the same recording, which makes it useful for the CLI replay command and
// for exercising the controller without a server.
package replay

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/transport"
)

type Framing string

const (
	FramingSSE    Framing = "sse"
	FramingNDJSON Framing = "ndjson"
)

// Source opens a fresh reader over a recording.
type Source func() (io.ReadCloser, error)

// FileSource opens path on every call.
func FileSource(path string) Source {
	return func() (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "open recording %s", path)
		}
		return f, nil
	}
}

// BytesSource replays an in-memory recording.
func BytesSource(b []byte) Source {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
}

// FramingForPath guesses the framing from the file extension.
func FramingForPath(path string) Framing {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ndjson", ".jsonl":
		return FramingNDJSON
	}
	return FramingSSE
}

type Transport struct {
	send    Source
	resume  Source
	framing Framing

	mu       sync.Mutex
	requests []transport.SendRequest
}

var _ transport.Transport = &Transport{}

type Option func(*Transport) error

func WithFraming(f Framing) Option {
	return func(t *Transport) error {
		switch f {
		case FramingSSE, FramingNDJSON:
			t.framing = f
			return nil
		}
		return errors.Errorf("unknown framing %q", f)
	}
}

// WithResumeSource makes ReconnectToStream replay src. Without it there is never an
// active stream to resume.
func WithResumeSource(src Source) Option {
	return func(t *Transport) error {
		t.resume = src
		return nil
	}
}

func New(send Source, opts ...Option) (*Transport, error) {
	if send == nil {
		return nil, errors.New("replay: source is nil")
	}
	t := &Transport{send: send, framing: FramingSSE}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NewFile replays the recording at path, picking the framing from its extension.
func NewFile(path string, opts ...Option) (*Transport, error) {
	return New(FileSource(path), append([]Option{WithFraming(FramingForPath(path))}, opts...)...)
}

func (t *Transport) SendMessages(ctx context.Context, req transport.SendRequest) (transport.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.requests = append(t.requests, req)
	t.mu.Unlock()

	rc, err := t.send()
	if err != nil {
		return nil, &transport.Error{Op: "send messages", Err: err}
	}
	log.Debug().Str("component", "replay").Str("chat_id", req.ChatID).Str("trigger", string(req.Trigger)).Msg("replaying recording")
	return t.stream(rc), nil
}

func (t *Transport) ReconnectToStream(ctx context.Context, req transport.ReconnectRequest) (transport.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.resume == nil {
		return nil, nil
	}
	rc, err := t.resume()
	if err != nil {
		return nil, &transport.Error{Op: "reconnect", Err: err}
	}
	return t.stream(rc), nil
}

// Requests returns the send requests seen so far.
func (t *Transport) Requests() []transport.SendRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transport.SendRequest(nil), t.requests...)
}

func (t *Transport) stream(rc io.ReadCloser) transport.Stream {
	if t.framing == FramingNDJSON {
		return transport.NewNDJSONStream(rc)
	}
	return transport.NewSSEStream(rc)
}
