// Package wsstream carries turns over a websocket: the request goes out as one text
// frame, every following text frame holds one chunk.
package wsstream

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatstream/pkg/chunks"
	"github.com/go-go-golems/chatstream/pkg/transport"
)

// NoActiveStreamType is the frame type a server sends when a resume request finds nothing to resume.
const NoActiveStreamType = "no-active-stream"

type Transport struct {
	url     string
	dialer  *websocket.Dialer
	headers map[string]string
	body    map[string]any
}

var _ transport.Transport = &Transport{}

type Option func(*Transport) error

func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) error {
		if d == nil {
			return errors.New("dialer is nil")
		}
		t.dialer = d
		return nil
	}
}

func WithHeaders(h map[string]string) Option {
	return func(t *Transport) error {
		t.headers = transport.MergeHeaders(t.headers, h)
		return nil
	}
}

func WithBody(b map[string]any) Option {
	return func(t *Transport) error {
		t.body = transport.MergeBody(t.body, b)
		return nil
	}
}

func New(url string, opts ...Option) (*Transport, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("wsstream: url is empty")
	}
	t := &Transport{url: url, dialer: websocket.DefaultDialer}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Transport) SendMessages(ctx context.Context, req transport.SendRequest) (transport.Stream, error) {
	if t == nil {
		return nil, errors.New("wsstream: transport is nil")
	}
	req.Body = transport.MergeBody(t.body, req.Body)
	return t.open(ctx, t.url, req.Headers, transport.RequestBody(req))
}

// ReconnectToStream sends a resume-stream request frame. A first reply of type
// no-active-stream means there is nothing to resume.
func (t *Transport) ReconnectToStream(ctx context.Context, req transport.ReconnectRequest) (transport.Stream, error) {
	if t == nil {
		return nil, errors.New("wsstream: transport is nil")
	}
	target := t.url
	if p := strings.TrimSpace(req.Path); p != "" {
		target = p
	}
	body := transport.MergeBody(t.body, req.Body)
	payload := make(map[string]any, len(body)+3)
	for k, v := range body {
		payload[k] = v
	}
	payload["id"] = req.ChatID
	payload["trigger"] = transport.TriggerResumeStream
	if req.Metadata != nil {
		payload["metadata"] = req.Metadata
	}

	s, err := t.open(ctx, target, req.Headers, payload)
	if err != nil {
		return nil, err
	}
	first, err := s.nextFrame(ctx)
	if err != nil {
		_ = s.Close()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	if frameType(first) == NoActiveStreamType {
		log.Debug().Str("component", "wsstream").Str("chat_id", req.ChatID).Msg("no active stream")
		_ = s.Close()
		return nil, nil
	}
	s.pending = first
	return s, nil
}

func (t *Transport) open(ctx context.Context, url string, extra map[string]string, payload map[string]any) (*stream, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "wsstream: marshal request")
	}
	header := http.Header{}
	for k, v := range transport.MergeHeaders(t.headers, extra) {
		header.Set(k, v)
	}

	conn, resp, err := t.dialer.DialContext(ctx, url, header)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		te := &transport.Error{Op: "dial", Err: err}
		if resp != nil {
			te.StatusCode = resp.StatusCode
			_ = resp.Body.Close()
		}
		return nil, te
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		_ = conn.Close()
		return nil, &transport.Error{Op: "write request", Err: err}
	}
	return newStream(ctx, conn), nil
}

type stream struct {
	conn    *websocket.Conn
	frames  chan []byte
	done    chan struct{}
	group   *errgroup.Group
	pending []byte

	mu      sync.Mutex
	readErr error
	once    sync.Once
}

// newStream starts the reader pump and a watcher that closes the connection once
// the turn context ends or the stream is closed.
func newStream(ctx context.Context, conn *websocket.Conn) *stream {
	g, gctx := errgroup.WithContext(ctx)
	s := &stream{
		conn:   conn,
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
		group:  g,
	}
	g.Go(func() error {
		defer close(s.frames)
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				s.setReadErr(s.classify(err))
				return nil
			}
			if mt != websocket.TextMessage {
				continue
			}
			select {
			case s.frames <- data:
			case <-s.done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.done:
		}
		return conn.Close()
	})
	return s
}

func (s *stream) classify(err error) error {
	select {
	case <-s.done:
		return io.EOF
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	return &transport.Error{Op: "read frame", Err: err}
}

func (s *stream) setReadErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

func (s *stream) nextFrame(ctx context.Context) ([]byte, error) {
	if s.pending != nil {
		f := s.pending
		s.pending = nil
		return f, nil
	}
	select {
	case f, ok := <-s.frames:
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.readErr != nil {
				return nil, s.readErr
			}
			return nil, io.EOF
		}
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *stream) Next(ctx context.Context) (chunks.Chunk, error) {
	for {
		f, err := s.nextFrame(ctx)
		if err != nil {
			return nil, err
		}
		c, err := chunks.Decode(f)
		if errors.Is(err, chunks.ErrDone) {
			return nil, io.EOF
		}
		if c != nil {
			return c, nil
		}
	}
}

func (s *stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	})
	err := s.group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func frameType(f []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(f, &head); err != nil {
		return ""
	}
	return head.Type
}
