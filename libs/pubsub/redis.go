package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nexaledger/platform/libs/events"
	"github.com/redis/go-redis/v9"
)

// RedisTransport maps channels onto Redis PUBLISH/SUBSCRIBE. go-redis
// re-dials and re-subscribes a PubSub on the next receive after a connection
// drop, so a subscription survives reconnects with its channels intact.
type RedisTransport struct {
	rdb           *redis.Client
	logger        *slog.Logger
	reconnectWait time.Duration
}

func NewRedisTransport(rdb *redis.Client, logger *slog.Logger) *RedisTransport {
	return &RedisTransport{rdb: rdb, logger: logger, reconnectWait: time.Second}
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := t.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: redis publish %s: %v", events.ErrTransportUnavailable, channel, err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string, h Handler) error {
	ps := t.rdb.Subscribe(ctx, channel)
	// Wait for the subscribe confirmation so callers know the subscription is live.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: redis subscribe %s: %v", events.ErrTransportUnavailable, channel, err)
	}

	// A blocked read does not observe cancellation; closing the PubSub does.
	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	defer func() {
		stop()
		_ = ps.Close()
	}()

	h = traced("redis", h)
	for {
		m, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, redis.ErrClosed) {
				return ErrClosed
			}
			t.logger.Error("redis subscription error", "err", err, "channel", channel)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(t.reconnectWait):
			}
			continue
		}
		_ = h(ctx, Message{
			ID:         uuid.NewString(),
			Channel:    m.Channel,
			Payload:    []byte(m.Payload),
			ReceivedAt: time.Now().UTC(),
		})
	}
}

func (t *RedisTransport) Ping(ctx context.Context) error {
	return t.rdb.Ping(ctx).Err()
}

func (t *RedisTransport) Close() error {
	return t.rdb.Close()
}
