package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexaledger/platform/libs/metrics"
)

// Transport is the write side of a channel transport.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Channels names the provisioned routes for audit and notification traffic.
type Channels struct {
	Audit        string
	Notification string
}

// Publisher serializes messages and hands them to the transport. It returns
// once the transport accepts the write and never learns whether anyone
// received the message.
type Publisher struct {
	transport Transport
	channels  Channels
	allowed   map[string]struct{}
	now       func() time.Time
}

// NewPublisher builds a publisher that only writes to the given channels plus
// any extra provisioned ones (a dead-letter channel, for instance).
func NewPublisher(transport Transport, channels Channels, extra ...string) *Publisher {
	allowed := map[string]struct{}{}
	for _, c := range append([]string{channels.Audit, channels.Notification}, extra...) {
		if c = strings.TrimSpace(c); c != "" {
			allowed[c] = struct{}{}
		}
	}
	return &Publisher{
		transport: transport,
		channels:  channels,
		allowed:   allowed,
		now:       time.Now,
	}
}

// Publish JSON-encodes message and writes it to channel.
func (p *Publisher) Publish(ctx context.Context, channel string, message any) error {
	if strings.TrimSpace(channel) == "" {
		return fmt.Errorf("%w: channel name is empty", ErrUnknownChannel)
	}
	if _, ok := p.allowed[channel]; !ok {
		return fmt.Errorf("%w: %q is not provisioned", ErrUnknownChannel, channel)
	}
	if p.transport == nil {
		return fmt.Errorf("%w: publisher has no transport", ErrTransportUnavailable)
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	err = p.transport.Publish(ctx, channel, payload)
	metrics.ObservePublish(channel, err)
	if err != nil {
		if errors.Is(err, ErrTransportUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return nil
}

// PublishAudit stamps the record with the current UTC time when the producer
// left it unset and publishes it on the audit channel.
func (p *Publisher) PublishAudit(ctx context.Context, log AuditLog) error {
	if log.Timestamp.IsZero() {
		log.Timestamp = p.now().UTC()
	}
	if log.UserID == "" {
		log.UserID = AnonymousActor
	}
	if log.EmpresaID == nil {
		log.EmpresaID = Int64(NoTenant)
	}
	return p.Publish(ctx, p.channels.Audit, log)
}

func (p *Publisher) PublishEmail(ctx context.Context, evt EmailEvent) error {
	return p.Publish(ctx, p.channels.Notification, evt)
}
