package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"txqueue/internal/streaming"
)

// MessageSource is a Kafka reader with manual commits.
type MessageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Committer
}

// LedgerObserver receives consumer health signals.
type LedgerObserver interface {
	OnLedgerFetchError()
	OnLedgerDecodeError()
	OnLedgerFlush(count int, err error)
}

type LedgerConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	// MessageContext restores trace context for a fetched message.
	MessageContext func(ctx context.Context, msg kafka.Message, traceID string) context.Context
}

// Ledger folds queue activity from Kafka into the receipt store.
type Ledger struct {
	source   MessageSource
	repo     LedgerWriter
	observer LedgerObserver
	logger   *slog.Logger
	cfg      LedgerConfig
}

func NewLedger(source MessageSource, repo LedgerWriter, observer LedgerObserver, logger *slog.Logger, cfg LedgerConfig) (*Ledger, error) {
	if source == nil {
		return nil, errors.New("ledger message source is required")
	}
	if repo == nil {
		return nil, errors.New("ledger repository is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{source: source, repo: repo, observer: observer, logger: logger, cfg: cfg}, nil
}

// Run consumes until ctx is cancelled. A final flush is attempted on the
// way out so committed offsets never run ahead of stored rows.
func (l *Ledger) Run(ctx context.Context) error {
	tracer := otel.Tracer("txqueue/ledger")
	batch := NewBatch()

	for {
		fetchCtx, cancel := context.WithTimeout(ctx, l.cfg.FlushInterval)
		message, err := l.source.FetchMessage(fetchCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				l.flush(context.WithoutCancel(ctx), batch, "shutdown")
				return nil
			}
			if errors.Is(err, context.DeadlineExceeded) {
				l.flush(ctx, batch, "timeout")
				continue
			}
			l.fetchError()
			l.logger.Error("kafka fetch error", "err", err)
			if !sleepCtx(ctx, 100*time.Millisecond) {
				l.flush(context.WithoutCancel(ctx), batch, "shutdown")
				return nil
			}
			continue
		}

		decoded, err := streaming.Decode(message.Value)
		if err != nil {
			l.logger.Warn("message decode error", "err", err, "offset", message.Offset)
			if l.observer != nil {
				l.observer.OnLedgerDecodeError()
			}
			// Undecodable messages are skipped by riding along with the batch commit.
			batch.messages = append(batch.messages, message)
			continue
		}

		messageCtx := ctx
		if l.cfg.MessageContext != nil {
			messageCtx = l.cfg.MessageContext(ctx, message, decoded.TraceID)
		}
		_, span := tracer.Start(messageCtx, "ledger.process_message", trace.WithSpanKind(trace.SpanKindConsumer))
		span.SetAttributes(
			attribute.String("message.type", string(decoded.Type)),
			attribute.Int64("chain.id", int64(decoded.ChainID)),
		)
		if decoded.TxHash != "" {
			span.SetAttributes(attribute.String("tx.hash", decoded.TxHash))
		}
		batch.Add(decoded, message)
		span.End()

		if batch.Len() >= l.cfg.BatchSize {
			l.flush(ctx, batch, "size")
		}
	}
}

func (l *Ledger) flush(ctx context.Context, batch *Batch, reason string) {
	if batch.Len() == 0 {
		return
	}
	count := batch.Len()
	err := batch.Flush(ctx, l.repo, l.source)
	if err != nil {
		l.logger.Error("ledger flush error", "reason", reason, "err", err)
	}
	if l.observer != nil {
		l.observer.OnLedgerFlush(count, err)
	}
}

func (l *Ledger) fetchError() {
	if l.observer != nil {
		l.observer.OnLedgerFetchError()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
