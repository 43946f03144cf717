package otel

import (
	"context"

	"github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MQConsumeSpan 为一次投递创建 consumer span，redelivered 标记 nack 后的重试
func MQConsumeSpan(ctx context.Context, queue string, msg amqp091.Delivery) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.operation", "process"),
		attribute.String("messaging.destination.name", queue),
		attribute.String("messaging.rabbitmq.destination.routing_key", msg.RoutingKey),
		attribute.Bool("messaging.rabbitmq.redelivered", msg.Redelivered),
	}
	if msg.MessageId != "" {
		attrs = append(attrs, attribute.String("messaging.message.id", msg.MessageId))
	}
	return Tracer().Start(ctx, "mq.consume "+queue,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attrs...),
	)
}
