// Package listener records audit events delivered on the audit channel.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nexaledger/platform/libs/events"
	"github.com/nexaledger/platform/libs/metrics"
	"github.com/nexaledger/platform/libs/pubsub"
)

// Store persists audit records.
type Store interface {
	Insert(ctx context.Context, log events.AuditLog) (int64, error)
}

type Listener struct {
	store   Store
	sub     pubsub.Subscriber
	channel string
	logger  *slog.Logger
	policy  pubsub.Policy
	dlq     pubsub.Publisher
	timeout time.Duration
}

type Option func(*Listener)

// WithPolicy sets retry and dead-letter behaviour; dlq receives dead letters.
func WithPolicy(p pubsub.Policy, dlq pubsub.Publisher) Option {
	return func(l *Listener) {
		l.policy = p
		l.dlq = dlq
	}
}

// WithMessageTimeout bounds the time spent on a single message.
func WithMessageTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func New(store Store, sub pubsub.Subscriber, channel string, logger *slog.Logger, opts ...Option) *Listener {
	l := &Listener{
		store:   store,
		sub:     sub,
		channel: channel,
		logger:  logger.With("channel", channel, "listener", "audit"),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run subscribes to the audit channel until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("subscribed to audit channel")
	err := l.sub.Subscribe(ctx, l.channel, l.Handle)
	l.logger.Info("audit listener stopped")
	return err
}

// Handle decodes and stores one message. Every failure is logged and the
// message dropped; the returned error only feeds tracing.
func (l *Listener) Handle(ctx context.Context, msg pubsub.Message) error {
	start := time.Now()
	// The message finishes even if shutdown begins mid-write.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	logger := l.logger.With("message_id", msg.ID)

	record, err := events.DecodeAuditLog(msg.Payload)
	if err != nil {
		logger.Error("failed to deserialize audit log", "err", err, "payload", string(msg.Payload))
		metrics.ObserveMessage(l.channel, metrics.OutcomeMalformed, time.Since(start))
		return err
	}

	var id int64
	err = l.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		id, err = l.store.Insert(ctx, record)
		if err != nil && !errors.Is(err, events.ErrPersistence) {
			err = errors.Join(events.ErrPersistence, err)
		}
		return err
	})
	if err != nil {
		logger.Error("failed to persist audit log", "err", err, "action", record.Action, "payload", string(msg.Payload))
		outcome := metrics.OutcomeFailed
		if ok, dlqErr := l.policy.DeadLetter(ctx, l.dlq, msg, err); dlqErr != nil {
			logger.Error("failed to dead-letter audit log", "err", dlqErr)
		} else if ok {
			outcome = metrics.OutcomeDeadLetter
		}
		metrics.ObserveMessage(l.channel, outcome, time.Since(start))
		return err
	}

	logger.Info("processed audit log",
		"id", id,
		"action", record.Action,
		"user_id", record.UserID,
		"empresa_id", record.Tenant(),
		"admin_cross_tenant", record.IsAdminCrossTenant(),
	)
	metrics.ObserveMessage(l.channel, metrics.OutcomeProcessed, time.Since(start))
	return nil
}
