// Package listener turns notification events into rendered emails.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/nexaledger/platform/libs/events"
	"github.com/nexaledger/platform/libs/metrics"
	"github.com/nexaledger/platform/libs/pubsub"
	"github.com/nexaledger/platform/services/mailer-service/internal/email"
	"github.com/nexaledger/platform/services/mailer-service/internal/templates"
)

type Renderer interface {
	Validate(name string, data templates.Data) error
	Render(name string, data templates.Data) string
}

type Listener struct {
	renderer Renderer
	sender   email.Sender
	sub      pubsub.Subscriber
	channel  string
	logger   *slog.Logger
	policy   pubsub.Policy
	dlq      pubsub.Publisher
	timeout  time.Duration
}

type Option func(*Listener)

// WithPolicy sets retry and dead-letter behaviour for failed sends.
func WithPolicy(p pubsub.Policy, dlq pubsub.Publisher) Option {
	return func(l *Listener) {
		l.policy = p
		l.dlq = dlq
	}
}

func WithMessageTimeout(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func New(renderer Renderer, sender email.Sender, sub pubsub.Subscriber, channel string, logger *slog.Logger, opts ...Option) *Listener {
	l := &Listener{
		renderer: renderer,
		sender:   sender,
		sub:      sub,
		channel:  channel,
		logger:   logger.With("channel", channel, "listener", "notification"),
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("subscribed to notification channel")
	err := l.sub.Subscribe(ctx, l.channel, l.Handle)
	l.logger.Info("notification listener stopped")
	return err
}

// Handle renders and sends one email. Invalid template data skips the send;
// an unknown template still sends the not-found body.
func (l *Listener) Handle(ctx context.Context, msg pubsub.Message) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()
	logger := l.logger.With("message_id", msg.ID)

	evt, err := events.DecodeEmailEvent(msg.Payload)
	if err != nil {
		logger.Error("failed to deserialize email event", "err", err, "payload", string(msg.Payload))
		metrics.ObserveMessage(l.channel, metrics.OutcomeMalformed, time.Since(start))
		return err
	}
	logger = logger.With("template", evt.Template, "recipient", evt.Recipient)

	data := templates.Data(evt.Data)
	switch err := l.renderer.Validate(evt.Template, data); {
	case errors.Is(err, templates.ErrUnknownTemplate):
		logger.Warn("template not found; sending placeholder body")
	case err != nil:
		logger.Warn("invalid template data; email not sent", "err", err, "fields", fieldNames(data))
		metrics.ObserveMessage(l.channel, metrics.OutcomeInvalid, time.Since(start))
		return err
	}

	mail := email.Mail{
		To:      evt.Recipient,
		Subject: evt.Subject,
		HTML:    l.renderer.Render(evt.Template, data),
	}
	err = l.policy.Do(ctx, func(ctx context.Context) error {
		return l.sender.Send(ctx, mail)
	})
	if err != nil {
		logger.Error("failed to send email", "err", err)
		outcome := metrics.OutcomeFailed
		if ok, dlqErr := l.policy.DeadLetter(ctx, l.dlq, msg, err); dlqErr != nil {
			logger.Error("failed to dead-letter email event", "err", dlqErr)
		} else if ok {
			outcome = metrics.OutcomeDeadLetter
		}
		metrics.ObserveMessage(l.channel, outcome, time.Since(start))
		return err
	}

	logger.Info("processed email event")
	metrics.ObserveMessage(l.channel, metrics.OutcomeProcessed, time.Since(start))
	return nil
}

func fieldNames(data templates.Data) []string {
	names := make([]string, 0, len(data))
	for k := range data {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
