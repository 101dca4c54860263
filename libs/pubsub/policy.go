package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexaledger/platform/libs/config"
	"github.com/nexaledger/platform/libs/events"
	otelx "github.com/nexaledger/platform/libs/otel"
)

// Policy decides what a listener does when handling a message fails. The
// zero value (one attempt, no dead-letter channel) is fire-and-forget.
type Policy struct {
	MaxAttempts       int
	Backoff           time.Duration
	DeadLetterChannel string
}

// PolicyFromEnv reads DELIVERY_MAX_ATTEMPTS, DELIVERY_BACKOFF and
// DLQ_CHANNEL. Unset, they give the fire-and-forget policy.
func PolicyFromEnv() (Policy, error) {
	attempts, err := config.Int("DELIVERY_MAX_ATTEMPTS", 1)
	if err != nil {
		return Policy{}, err
	}
	if attempts < 1 {
		return Policy{}, fmt.Errorf("DELIVERY_MAX_ATTEMPTS must be at least 1 (got %d)", attempts)
	}
	backoff, err := config.Duration("DELIVERY_BACKOFF", 500*time.Millisecond)
	if err != nil {
		return Policy{}, err
	}
	return Policy{
		MaxAttempts:       attempts,
		Backoff:           backoff,
		DeadLetterChannel: config.String("DLQ_CHANNEL", ""),
	}, nil
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. The wait before attempt n is (n-1)*Backoff.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= p.attempts(); attempt++ {
		if attempt > 1 && p.Backoff > 0 {
			timer := time.NewTimer(time.Duration(attempt-1) * p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(err, ctx.Err())
			case <-timer.C:
			}
		}
		err = fn(ctx)
		if err == nil || !events.Retryable(err) {
			return err
		}
	}
	return err
}

// DeadLetter publishes msg with its failure to the dead-letter channel. It
// reports false when the policy has no such channel.
func (p Policy) DeadLetter(ctx context.Context, pub Publisher, msg Message, cause error) (bool, error) {
	channel := strings.TrimSpace(p.DeadLetterChannel)
	if channel == "" || pub == nil {
		return false, nil
	}
	letter := events.NewDeadLetter(msg.Channel, msg.Payload, cause, time.Now())
	letter.TraceContext = otelx.CaptureTrace(ctx)
	raw, err := json.Marshal(letter)
	if err != nil {
		return false, fmt.Errorf("%w: %v", events.ErrSerialization, err)
	}
	if err := pub.Publish(ctx, channel, raw); err != nil {
		return false, err
	}
	return true, nil
}
