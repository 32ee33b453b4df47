package chatrunner

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/go-go-golems/chatstream/pkg/config"
	"github.com/go-go-golems/chatstream/pkg/eventbus"
	"github.com/go-go-golems/chatstream/pkg/persistence/chatstore"
	"github.com/go-go-golems/chatstream/pkg/transport"
	"github.com/go-go-golems/chatstream/pkg/transport/httpsse"
	"github.com/go-go-golems/chatstream/pkg/transport/redisresume"
	"github.com/go-go-golems/chatstream/pkg/transport/wsstream"
)

// OpenRedis connects to the configured Redis and pings it. It returns nil when
// Redis is disabled.
func OpenRedis(ctx context.Context, s config.RedisSettings) (*redis.Client, error) {
	if !s.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connect to redis at %s", s.Addr)
	}
	return client, nil
}

// BuildTransport creates the configured transport. With a Redis client every turn
// is also relayed through Redis so it can be resumed from another process.
func BuildTransport(s config.Settings, client *redis.Client) (transport.Transport, error) {
	var (
		t   transport.Transport
		err error
	)
	switch s.Transport {
	case config.TransportHTTP, config.TransportNDJSON:
		framing := httpsse.FramingSSE
		if s.Transport == config.TransportNDJSON {
			framing = httpsse.FramingNDJSON
		}
		t, err = httpsse.New(s.API,
			httpsse.WithHeaders(s.Headers),
			httpsse.WithBody(s.Body),
			httpsse.WithFraming(framing),
		)
	case config.TransportWS:
		t, err = wsstream.New(s.API,
			wsstream.WithHeaders(s.Headers),
			wsstream.WithBody(s.Body),
		)
	default:
		return nil, errors.Errorf("unknown transport %q", s.Transport)
	}
	if err != nil {
		return nil, err
	}
	if client == nil {
		return t, nil
	}
	return redisresume.New(t, client, redisresume.WithTTL(s.Redis.TTL))
}

// BuildBus returns a Redis Streams bus when a client is given, an in-process bus otherwise.
func BuildBus(s config.RedisSettings, client *redis.Client) (*eventbus.Bus, error) {
	if client == nil {
		return eventbus.NewInMemory(), nil
	}
	return eventbus.NewRedis(client, s.Group, s.Consumer)
}

func OpenStore(s config.StoreSettings) (chatstore.Store, error) {
	switch s.Driver {
	case "", config.StoreMemory:
		return chatstore.NewInMemoryStore(), nil
	case config.StoreSQLite:
		dsn, err := chatstore.SQLiteDSNForFile(s.DSN)
		if err != nil {
			return nil, err
		}
		return chatstore.NewSQLiteStore(dsn)
	}
	return nil, errors.Errorf("unknown store driver %q", s.Driver)
}
