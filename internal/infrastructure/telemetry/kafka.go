package telemetry

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type kafkaHeaderCarrier struct {
	headers []kafka.Header
}

func (c kafkaHeaderCarrier) Get(key string) string {
	for _, header := range c.headers {
		if strings.EqualFold(header.Key, key) {
			return string(header.Value)
		}
	}
	return ""
}

func (c *kafkaHeaderCarrier) Set(key, value string) {
	for i := range c.headers {
		if strings.EqualFold(c.headers[i].Key, key) {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c kafkaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, header := range c.headers {
		keys = append(keys, header.Key)
	}
	return keys
}

func InjectKafkaHeaders(ctx context.Context, headers *[]kafka.Header) {
	carrier := kafkaHeaderCarrier{headers: *headers}
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	*headers = carrier.headers
}

func ExtractKafkaHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := kafkaHeaderCarrier{headers: headers}
	return otel.GetTextMapPropagator().Extract(ctx, &carrier)
}

// ConsumerContext restores the producer's span context from headers,
// falling back to the trace id carried in the payload.
func ConsumerContext(ctx context.Context, headers []kafka.Header, traceID string) context.Context {
	ctx = ExtractKafkaHeaders(ctx, headers)
	if trace.SpanContextFromContext(ctx).IsValid() || traceID == "" {
		return ctx
	}
	if withTrace, ok := ContextWithTraceID(ctx, traceID); ok {
		return withTrace
	}
	return ctx
}
