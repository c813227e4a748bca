package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"txqueue/internal/domain"
	"txqueue/internal/infrastructure/telemetry"
	"txqueue/internal/streaming"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes queue activity to one topic per chain. It doubles as a
// receipt sink so that pending receipts can be stored by a separate ledger
// process.
type Producer struct {
	writer messageWriter
	prefix string
	now    func() time.Time
}

type ProducerConfig struct {
	Brokers     []string
	TopicPrefix string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return newProducer(writer, cfg.TopicPrefix), nil
}

func newProducer(writer messageWriter, prefix string) *Producer {
	if strings.TrimSpace(prefix) == "" {
		prefix = "txqueue"
	}
	return &Producer{writer: writer, prefix: prefix, now: time.Now}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) AddPendingReceipt(ctx context.Context, account domain.Account, receipt domain.PendingReceipt) error {
	address := strings.ToLower(account.Address)
	return p.publish(ctx, "txqueue.publish_pending_receipt", address, streaming.Message{
		Type:    streaming.MessageTypePendingReceipt,
		ChainID: receipt.ChainID,
		Account: address,
		TxHash:  receipt.TxHash,
		Status:  receipt.Status,
		Receipt: &receipt,
	}, attribute.String("tx.hash", receipt.TxHash), attribute.Int64("tx.nonce", int64(receipt.Nonce)))
}

func (p *Producer) MarkReceiptStatus(ctx context.Context, account domain.Account, txHash string, status domain.ReceiptStatus) error {
	address := strings.ToLower(account.Address)
	return p.publish(ctx, "txqueue.publish_receipt_status", address, streaming.Message{
		Type:    streaming.MessageTypeReceiptStatus,
		ChainID: account.ChainID,
		Account: address,
		TxHash:  txHash,
		Status:  status,
	}, attribute.String("tx.hash", txHash), attribute.String("receipt.status", string(status)))
}

func (p *Producer) PublishTransition(ctx context.Context, transition domain.Transition) error {
	return p.publish(ctx, "txqueue.publish_transition", transition.Account, streaming.Message{
		Type:       streaming.MessageTypeTransition,
		ChainID:    transition.ChainID,
		Account:    transition.Account,
		TxHash:     transition.TxHash,
		Transition: &transition,
	}, attribute.String("parcel.id", transition.ParcelID), attribute.String("parcel.status", transition.To))
}

// publish writes one message keyed by account so a single account's
// activity stays ordered within its partition.
func (p *Producer) publish(ctx context.Context, spanName, key string, msg streaming.Message, attrs ...attribute.KeyValue) error {
	traceCtx := ctx
	if !trace.SpanContextFromContext(ctx).IsValid() {
		if traceID, _, ok := telemetry.NewTraceID(); ok {
			if spanCtx, ok := telemetry.NewSpanContext(traceID); ok {
				traceCtx = trace.ContextWithSpanContext(ctx, spanCtx)
			}
		}
	}
	traceCtx, span := otel.Tracer("txqueue/kafka").Start(traceCtx, spanName, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(append(attrs,
		attribute.Int64("chain.id", int64(msg.ChainID)),
		attribute.String("account", key),
	)...)

	if spanCtx := span.SpanContext(); spanCtx.HasTraceID() {
		msg.TraceID = spanCtx.TraceID().String()
	}
	if msg.At.IsZero() {
		msg.At = p.now().UTC()
	}
	payload, err := streaming.Encode(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(traceCtx, &headers)
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   p.topicForChain(msg.ChainID),
		Key:     []byte(key),
		Value:   payload,
		Headers: headers,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("publish %s: %w", msg.Type, err)
	}
	return nil
}

func (p *Producer) topicForChain(chainID uint64) string {
	return fmt.Sprintf("%s-%d", p.prefix, chainID)
}
