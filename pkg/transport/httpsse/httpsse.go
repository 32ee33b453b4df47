// Package httpsse is the HTTP transport: it POSTs the conversation and reads the
// response body as an event stream.
package httpsse

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/transport"
)

type Framing string

const (
	FramingSSE    Framing = "sse"
	FramingNDJSON Framing = "ndjson"

	ndjsonContentType = "application/x-ndjson"
	maxErrorBody      = 64 * 1024
)

type Transport struct {
	api     string
	client  *http.Client
	headers map[string]string
	body    map[string]any
	framing Framing
}

var _ transport.Transport = &Transport{}

type Option func(*Transport) error

func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) error {
		if c == nil {
			return errors.New("http client is nil")
		}
		t.client = c
		return nil
	}
}

// WithHeaders sets headers sent on every request. Per-request headers win.
func WithHeaders(h map[string]string) Option {
	return func(t *Transport) error {
		t.headers = transport.MergeHeaders(t.headers, h)
		return nil
	}
}

// WithBody sets extra top-level fields merged into every request body.
func WithBody(b map[string]any) Option {
	return func(t *Transport) error {
		t.body = transport.MergeBody(t.body, b)
		return nil
	}
}

// WithFraming forces the response framing. Without it, SSE is assumed unless the
// server answers with application/x-ndjson.
func WithFraming(f Framing) Option {
	return func(t *Transport) error {
		switch f {
		case FramingSSE, FramingNDJSON, "":
			t.framing = f
			return nil
		default:
			return errors.Errorf("unknown framing %q", f)
		}
	}
}

func New(api string, opts ...Option) (*Transport, error) {
	api = strings.TrimSpace(api)
	if api == "" {
		return nil, errors.New("httpsse: api url is empty")
	}
	if _, err := url.Parse(api); err != nil {
		return nil, errors.Wrap(err, "httpsse: parse api url")
	}
	t := &Transport{api: api, client: http.DefaultClient}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Transport) SendMessages(ctx context.Context, req transport.SendRequest) (transport.Stream, error) {
	if t == nil {
		return nil, errors.New("httpsse: transport is nil")
	}
	req.Body = transport.MergeBody(t.body, req.Body)
	payload, err := json.Marshal(transport.RequestBody(req))
	if err != nil {
		return nil, errors.Wrap(err, "httpsse: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.api, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "httpsse: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	t.setHeaders(httpReq, req.Headers)

	log.Debug().Str("component", "httpsse").Str("chat_id", req.ChatID).Str("trigger", string(req.Trigger)).Int("messages", len(req.Messages)).Msg("sending messages")
	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &transport.Error{Op: "send messages", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("send messages", resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &transport.Error{Op: "send messages", StatusCode: resp.StatusCode, Body: "response has no body"}
	}
	return t.stream(resp), nil
}

// ReconnectToStream issues GET {api}/{chatId}/stream, or GET on req.Path when set.
// 204 No Content means the server has no active stream for the chat.
func (t *Transport) ReconnectToStream(ctx context.Context, req transport.ReconnectRequest) (transport.Stream, error) {
	if t == nil {
		return nil, errors.New("httpsse: transport is nil")
	}
	target, err := t.reconnectURL(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "httpsse: build reconnect request")
	}
	t.setHeaders(httpReq, req.Headers)

	log.Debug().Str("component", "httpsse").Str("chat_id", req.ChatID).Str("url", target).Msg("reconnecting to stream")
	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &transport.Error{Op: "reconnect", Err: err}
	}
	if resp.StatusCode == http.StatusNoContent {
		_ = resp.Body.Close()
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("reconnect", resp)
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, nil
	}
	return t.stream(resp), nil
}

func (t *Transport) reconnectURL(req transport.ReconnectRequest) (string, error) {
	if p := strings.TrimSpace(req.Path); p != "" {
		base, err := url.Parse(t.api)
		if err != nil {
			return "", errors.Wrap(err, "httpsse: parse api url")
		}
		ref, err := url.Parse(p)
		if err != nil {
			return "", errors.Wrap(err, "httpsse: parse reconnect path")
		}
		return base.ResolveReference(ref).String(), nil
	}
	if req.ChatID == "" {
		return "", errors.New("httpsse: reconnect needs a chat id")
	}
	return strings.TrimRight(t.api, "/") + "/" + url.PathEscape(req.ChatID) + "/stream", nil
}

func (t *Transport) setHeaders(r *http.Request, extra map[string]string) {
	r.Header.Set("Accept", "text/event-stream")
	for k, v := range transport.MergeHeaders(t.headers, extra) {
		r.Header.Set(k, v)
	}
}

func (t *Transport) stream(resp *http.Response) transport.Stream {
	framing := t.framing
	if framing == "" {
		framing = FramingSSE
		if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && mt == ndjsonContentType {
			framing = FramingNDJSON
		}
	}
	if framing == FramingNDJSON {
		return transport.NewNDJSONStream(resp.Body)
	}
	return transport.NewSSEStream(resp.Body)
}

func statusError(op string, resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &transport.Error{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
