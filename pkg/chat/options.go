package chat

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/transport"
	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

const DefaultMaxAutoContinuations = 3

type Option func(*Chat) error

func WithID(id string) Option {
	return func(c *Chat) error {
		if id == "" {
			return errors.New("chat id is empty")
		}
		c.id = id
		return nil
	}
}

func WithTransport(t transport.Transport) Option {
	return func(c *Chat) error {
		c.transport = t
		return nil
	}
}

// WithMessages seeds the history, e.g. from a store.
func WithMessages(msgs []uimessage.Message) Option {
	return func(c *Chat) error {
		c.messages = uimessage.CloneMessages(msgs)
		return nil
	}
}

// WithIDGenerator replaces the uuid generator used for new messages and the chat id.
func WithIDGenerator(gen func() string) Option {
	return func(c *Chat) error {
		if gen == nil {
			return errors.New("id generator is nil")
		}
		c.newID = gen
		return nil
	}
}

// WithMaxAutoContinuations bounds the number of follow-up turns issued for one request.
func WithMaxAutoContinuations(n int) Option {
	return func(c *Chat) error {
		if n < 0 {
			return errors.Errorf("max auto continuations must be >= 0, got %d", n)
		}
		c.maxAuto = n
		return nil
	}
}

// WithSendAutomaticallyWhen installs the predicate checked after every successful
// turn. uimessage.LastAssistantMessageIsCompleteWithToolCalls is the usual choice.
func WithSendAutomaticallyWhen(pred func(msgs []uimessage.Message) bool) Option {
	return func(c *Chat) error {
		c.sendAutomaticallyWhen = pred
		return nil
	}
}

// WithObserver adds an observer. Observers are notified in the order they were added.
func WithObserver(o Observer) Option {
	return func(c *Chat) error {
		if o == nil {
			return errors.New("observer is nil")
		}
		c.observers = append(c.observers, o)
		return nil
	}
}

func defaultIDGenerator() string {
	return uuid.NewString()
}

// RequestOption adjusts a single request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	headers  map[string]string
	body     map[string]any
	metadata json.RawMessage
	path     string
}

func WithHeaders(h map[string]string) RequestOption {
	return func(o *requestOptions) {
		o.headers = transport.MergeHeaders(o.headers, h)
	}
}

func WithBody(b map[string]any) RequestOption {
	return func(o *requestOptions) {
		o.body = transport.MergeBody(o.body, b)
	}
}

func WithRequestMetadata(m json.RawMessage) RequestOption {
	return func(o *requestOptions) {
		o.metadata = m
	}
}

// WithResumePath overrides the path the transport reconnects to.
func WithResumePath(p string) RequestOption {
	return func(o *requestOptions) {
		o.path = p
	}
}

func buildRequestOptions(opts []RequestOption) requestOptions {
	var ro requestOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&ro)
		}
	}
	return ro
}
