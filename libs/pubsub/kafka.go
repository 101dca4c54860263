package pubsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexaledger/platform/libs/events"
	"github.com/nexaledger/platform/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// KafkaTransport uses one topic per channel. Readers join no consumer group
// and start at the tail of partition 0, so, as with Redis, only subscribers
// that are reading when a message is written ever see it. Channels must be
// provisioned as single-partition topics to keep per-publisher ordering.
type KafkaTransport struct {
	rawBrokers string
	brokers    []string
	writer     *kafka.Writer
	logger     *slog.Logger
	done       chan struct{}
	closeOnce  sync.Once
}

func NewKafkaTransport(brokers string, logger *slog.Logger) (*KafkaTransport, error) {
	list := kafkax.SplitBrokers(brokers)
	if len(list) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	return &KafkaTransport{
		rawBrokers: brokers,
		brokers:    list,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(list...),
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

func (t *KafkaTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	msg := kafka.Message{
		Topic: channel,
		Value: payload,
		Headers: []kafka.Header{
			{Key: kafkax.MessageIDHeader, Value: []byte(uuid.NewString())},
		},
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: kafka write %s: %v", events.ErrTransportUnavailable, channel, err)
	}
	return nil
}

func (t *KafkaTransport) Subscribe(ctx context.Context, channel string, h Handler) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	// Closing the transport ends every subscription.
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.done:
			cancel()
		case <-readCtx.Done():
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   t.brokers,
		Topic:     channel,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   500 * time.Millisecond,
	})
	defer reader.Close()
	if err := reader.SetOffset(kafka.LastOffset); err != nil {
		return fmt.Errorf("%w: kafka subscribe %s: %v", events.ErrTransportUnavailable, channel, err)
	}

	h = traced("kafka", h)
	for {
		msg, err := reader.ReadMessage(readCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if readCtx.Err() != nil || errors.Is(err, io.EOF) {
				return ErrClosed
			}
			t.logger.Error("kafka read error", "err", err, "channel", channel)
			select {
			case <-readCtx.Done():
				if ctx.Err() != nil {
					return nil
				}
				return ErrClosed
			case <-time.After(time.Second):
			}
			continue
		}
		_ = h(kafkax.ExtractTraceContext(ctx, msg), Message{
			ID:         kafkax.MessageID(msg),
			Channel:    msg.Topic,
			Payload:    msg.Value,
			ReceivedAt: time.Now().UTC(),
		})
	}
}

func (t *KafkaTransport) Ping(ctx context.Context) error {
	return kafkax.ReadyCheck(t.rawBrokers)(ctx)
}

func (t *KafkaTransport) Close() error {
	err := ErrClosed
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.writer.Close()
	})
	return err
}
