// Package pubsub is the named-channel broadcast transport between producing
// services and listeners. Delivery is at-most-once: a message reaches the
// subscribers connected when it is published and is otherwise dropped.
package pubsub

import (
	"context"
	"errors"
	"time"
)

// Message is a single delivery on a subscription.
type Message struct {
	ID         string
	Channel    string
	Payload    []byte
	ReceivedAt time.Time
}

// Handler is invoked once per delivered message. A returned error is the
// handler's own business; it never stops the subscription.
type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Subscriber interface {
	// Subscribe blocks, calling h for each message on channel, until ctx is
	// cancelled (nil is returned) or the transport fails or is closed.
	Subscribe(ctx context.Context, channel string, h Handler) error
}

type Transport interface {
	Publisher
	Subscriber
	Ping(ctx context.Context) error
	Close() error
}

var ErrClosed = errors.New("pubsub: transport closed")
