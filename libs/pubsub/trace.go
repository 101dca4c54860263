package pubsub

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// traced opens a consumer span around each handler invocation.
func traced(system string, h Handler) Handler {
	return func(ctx context.Context, msg Message) error {
		ctx, span := otel.Tracer("pubsub").Start(ctx, "pubsub.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.system", system),
				attribute.String("messaging.destination", msg.Channel),
				attribute.String("messaging.message_id", msg.ID),
				attribute.Int("messaging.message.body.size", len(msg.Payload)),
			),
		)
		defer span.End()

		err := h(ctx, msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
