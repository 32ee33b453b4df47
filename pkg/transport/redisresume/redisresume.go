// Package redisresume makes any transport resumable by teeing every chunk of a turn
// into a Redis stream. A reconnecting client replays that stream from the start and
// then follows it until the turn ends.
package redisresume

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chunks"
	"github.com/go-go-golems/chatstream/pkg/transport"
)

const (
	DefaultKeyPrefix = "chatstream:"

	fieldChunk = "chunk"
	fieldError = "error"
)

// Client is the subset of go-redis the relay needs. *redis.Client satisfies it.
type Client interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Relay struct {
	inner  transport.Transport
	client Client

	prefix string
	maxLen int64
	ttl    time.Duration
	block  time.Duration
	idle   time.Duration
}

var _ transport.Transport = &Relay{}

type Option func(*Relay) error

func WithKeyPrefix(p string) Option {
	return func(r *Relay) error {
		r.prefix = p
		return nil
	}
}

// WithMaxLen caps the number of entries kept per turn (approximate trimming).
func WithMaxLen(n int64) Option {
	return func(r *Relay) error {
		if n <= 0 {
			return errors.New("max len must be positive")
		}
		r.maxLen = n
		return nil
	}
}

// WithTTL sets how long a finished turn stays resumable.
func WithTTL(d time.Duration) Option {
	return func(r *Relay) error {
		r.ttl = d
		return nil
	}
}

// WithBlock sets the XREAD block interval used while following a live turn.
func WithBlock(d time.Duration) Option {
	return func(r *Relay) error {
		r.block = d
		return nil
	}
}

// WithIdleTimeout bounds how long a resumed stream waits without new entries.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Relay) error {
		r.idle = d
		return nil
	}
}

func New(inner transport.Transport, client Client, opts ...Option) (*Relay, error) {
	if client == nil {
		return nil, errors.New("redisresume: client is nil")
	}
	r := &Relay{
		inner:  inner,
		client: client,
		prefix: DefaultKeyPrefix,
		maxLen: 10000,
		ttl:    10 * time.Minute,
		block:  5 * time.Second,
		idle:   time.Minute,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Key is the Redis stream key holding the chunks of a chat's current turn.
func (r *Relay) Key(chatID string) string { return r.prefix + chatID }

func (r *Relay) SendMessages(ctx context.Context, req transport.SendRequest) (transport.Stream, error) {
	if r.inner == nil {
		return nil, errors.New("redisresume: no transport to relay")
	}
	key := r.Key(req.ChatID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		log.Warn().Err(err).Str("component", "redisresume").Str("key", key).Msg("failed to reset turn stream")
	}
	s, err := r.inner.SendMessages(ctx, req)
	if err != nil {
		r.appendTerminal(context.WithoutCancel(ctx), key, fieldError, err.Error())
		return nil, err
	}
	return &teeStream{relay: r, inner: s, key: key}, nil
}

// ReconnectToStream replays the Redis stream of the chat's turn. A missing key, or a
// turn whose last entry is terminal, means there is no turn to resume.
func (r *Relay) ReconnectToStream(ctx context.Context, req transport.ReconnectRequest) (transport.Stream, error) {
	key := r.Key(req.ChatID)
	last, err := r.client.XRevRangeN(ctx, key, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, &transport.Error{Op: "reconnect", Err: errors.Wrap(err, "redis xrevrange")}
	}
	if len(last) == 0 {
		log.Debug().Str("component", "redisresume").Str("key", key).Msg("no turn stream to resume")
		return nil, nil
	}
	if isTerminal(last[0]) {
		log.Debug().Str("component", "redisresume").Str("key", key).Msg("turn already finished")
		return nil, nil
	}
	return &followStream{relay: r, key: key, lastID: "0"}, nil
}

func isTerminal(msg redis.XMessage) bool {
	if _, ok := msg.Values[fieldError]; ok {
		return true
	}
	raw, _ := msg.Values[fieldChunk].(string)
	return raw == chunks.DoneToken
}

func (r *Relay) add(ctx context.Context, key, field, value string) error {
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{field: value},
	}).Err()
}

func (r *Relay) appendTerminal(ctx context.Context, key, field, value string) {
	if err := r.add(ctx, key, field, value); err != nil {
		log.Warn().Err(err).Str("component", "redisresume").Str("key", key).Msg("failed to append terminal entry")
		return
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("component", "redisresume").Str("key", key).Msg("failed to set ttl")
		}
	}
}

// teeStream forwards the inner stream and appends every chunk to Redis.
type teeStream struct {
	relay *Relay
	inner transport.Stream
	key   string

	once sync.Once
}

func (t *teeStream) Next(ctx context.Context) (chunks.Chunk, error) {
	c, err := t.inner.Next(ctx)
	if err != nil {
		wctx := context.WithoutCancel(ctx)
		switch {
		case errors.Is(err, io.EOF):
			t.finish(wctx, fieldChunk, chunks.DoneToken)
		case errors.Is(err, context.Canceled):
			t.finish(wctx, fieldChunk, chunks.DoneToken)
		default:
			t.finish(wctx, fieldError, err.Error())
		}
		return nil, err
	}
	b, encErr := chunks.Encode(c)
	if encErr == nil {
		encErr = t.relay.add(ctx, t.key, fieldChunk, string(b))
	}
	if encErr != nil {
		log.Warn().Err(encErr).Str("component", "redisresume").Str("key", t.key).Str("chunk", c.Type()).Msg("failed to relay chunk")
	}
	return c, nil
}

func (t *teeStream) finish(ctx context.Context, field, value string) {
	t.once.Do(func() { t.relay.appendTerminal(ctx, t.key, field, value) })
}

// Close ends the relayed turn. Followers see it as finished.
func (t *teeStream) Close() error {
	t.finish(context.Background(), fieldChunk, chunks.DoneToken)
	return t.inner.Close()
}

// followStream reads a turn stream from the beginning, blocking for new entries
// until the terminal entry arrives.
type followStream struct {
	relay   *Relay
	key     string
	lastID  string
	pending []redis.XMessage
	done    bool
}

func (f *followStream) Next(ctx context.Context) (chunks.Chunk, error) {
	idleSince := time.Now()
	for {
		if f.done {
			return nil, io.EOF
		}
		for len(f.pending) > 0 {
			msg := f.pending[0]
			f.pending = f.pending[1:]
			f.lastID = msg.ID
			if text, ok := msg.Values[fieldError].(string); ok {
				f.done = true
				return nil, &transport.Error{Op: "resume", Err: errors.New(text)}
			}
			raw, _ := msg.Values[fieldChunk].(string)
			c, err := chunks.Decode([]byte(raw))
			if errors.Is(err, chunks.ErrDone) {
				f.done = true
				return nil, io.EOF
			}
			if c != nil {
				return c, nil
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.relay.idle > 0 && time.Since(idleSince) > f.relay.idle {
			return nil, &transport.Error{Op: "resume", Err: errors.Errorf("no entries on %s for %s", f.key, f.relay.idle)}
		}
		res, err := f.relay.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{f.key, f.lastID},
			Count:   100,
			Block:   f.relay.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &transport.Error{Op: "resume", Err: errors.Wrap(err, "redis xread")}
		}
		for _, s := range res {
			f.pending = append(f.pending, s.Messages...)
		}
		if len(f.pending) > 0 {
			idleSince = time.Now()
		}
	}
}

func (f *followStream) Close() error {
	f.done = true
	return nil
}
