// Package eventbus fans chat notifications out over watermill, in process through
// a go channel or across processes through Redis Streams.
package eventbus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/logging"
)

type Bus struct {
	pub    message.Publisher
	sub    message.Subscriber
	closer func() error

	// set for Redis buses, so subscribers start at the tail of the chat stream
	client redis.UniversalClient
	group  string
}

// NewInMemory returns a bus backed by a gochannel pubsub. Publishing waits for
// subscribers to ack, which keeps events in order.
func NewInMemory() *Bus {
	gc := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, logging.NewWatermillLogger(log.Logger))
	return &Bus{pub: gc, sub: gc, closer: gc.Close}
}

// NewRedis returns a bus over Redis Streams. Subscribers join group as consumer.
func NewRedis(client redis.UniversalClient, group, consumer string) (*Bus, error) {
	if client == nil {
		return nil, errors.New("eventbus: redis client is nil")
	}
	logger := logging.NewWatermillLogger(log.Logger)
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "eventbus: redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: group,
		Consumer:      consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, errors.Wrap(err, "eventbus: redis subscriber")
	}
	return &Bus{
		pub:    pub,
		sub:    sub,
		client: client,
		group:  group,
		closer: func() error {
			perr := pub.Close()
			if err := sub.Close(); err != nil {
				return err
			}
			return perr
		},
	}, nil
}

// EnsureGroupAtTail creates group on the chat's stream at $ so a new subscriber
// does not replay the stream's history. An existing group is left alone.
func EnsureGroupAtTail(ctx context.Context, client redis.UniversalClient, chatID, group string) error {
	stream := Topic(chatID)
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return err
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

func (b *Bus) Publish(ev Event) error {
	if b == nil || b.pub == nil {
		return errors.New("eventbus: nil bus")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "eventbus: marshal event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", string(ev.Type))
	return b.pub.Publish(Topic(ev.ChatID), msg)
}

// Subscribe delivers chatID's events until ctx is done. Payloads that do not
// decode are logged and dropped.
func (b *Bus) Subscribe(ctx context.Context, chatID string) (<-chan Event, error) {
	if b == nil || b.sub == nil {
		return nil, errors.New("eventbus: nil bus")
	}
	if b.client != nil {
		if err := EnsureGroupAtTail(ctx, b.client, chatID, b.group); err != nil {
			return nil, errors.Wrapf(err, "eventbus: create group %s", b.group)
		}
	}
	msgs, err := b.sub.Subscribe(ctx, Topic(chatID))
	if err != nil {
		return nil, errors.Wrapf(err, "eventbus: subscribe %s", Topic(chatID))
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				err := json.Unmarshal(msg.Payload, &ev)
				msg.Ack()
				if err != nil {
					log.Warn().Err(err).Str("component", "eventbus").Str("chat_id", chatID).Str("uuid", msg.UUID).Msg("dropping undecodable event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	if b == nil || b.closer == nil {
		return nil
	}
	return b.closer()
}
