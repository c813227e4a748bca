package application

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"txqueue/internal/domain"
	"txqueue/internal/streaming"
)

type statusUpdate struct {
	account domain.Account
	txHash  string
	status  domain.ReceiptStatus
}

// Batch accumulates ledger writes between offset commits. Pending
// receipts are stored before status updates so an update that arrives in
// the same batch as its receipt still applies.
type Batch struct {
	receipts    []domain.PendingReceipt
	statuses    []statusUpdate
	transitions int
	messages    []kafka.Message
	minOffset   map[int]int64
	maxOffset   map[int]int64
}

func NewBatch() *Batch {
	return &Batch{
		minOffset: make(map[int]int64),
		maxOffset: make(map[int]int64),
	}
}

func (b *Batch) Add(msg streaming.Message, kafkaMsg kafka.Message) {
	switch msg.Type {
	case streaming.MessageTypePendingReceipt:
		receipt := *msg.Receipt
		if receipt.ChainID == 0 {
			receipt.ChainID = msg.ChainID
		}
		if receipt.Account == "" {
			receipt.Account = msg.Account
		}
		b.receipts = append(b.receipts, receipt)
	case streaming.MessageTypeReceiptStatus:
		b.statuses = append(b.statuses, statusUpdate{
			account: domain.Account{Address: strings.ToLower(msg.Account), ChainID: msg.ChainID},
			txHash:  strings.ToLower(msg.TxHash),
			status:  msg.Status,
		})
	case streaming.MessageTypeTransition:
		b.transitions++
	}

	b.messages = append(b.messages, kafkaMsg)

	partition := kafkaMsg.Partition
	offset := kafkaMsg.Offset
	if min, ok := b.minOffset[partition]; !ok || offset < min {
		b.minOffset[partition] = offset
	}
	if max, ok := b.maxOffset[partition]; !ok || offset > max {
		b.maxOffset[partition] = offset
	}
}

func (b *Batch) Len() int {
	return len(b.messages)
}

type Committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// LedgerWriter is the part of the receipt store the ledger consumer writes to.
type LedgerWriter interface {
	StoreReceipts(ctx context.Context, receipts []domain.PendingReceipt) error
	MarkReceiptStatus(ctx context.Context, account domain.Account, txHash string, status domain.ReceiptStatus) error
}

// Flush writes the batch and then commits its offsets. On error nothing
// is committed and the batch is kept, so the next flush retries it.
func (b *Batch) Flush(ctx context.Context, repo LedgerWriter, committer Committer) error {
	if b.Len() == 0 {
		return nil
	}

	start := time.Now()

	if len(b.receipts) > 0 {
		if err := repo.StoreReceipts(ctx, b.receipts); err != nil {
			return fmt.Errorf("failed to store receipts: %w", err)
		}
	}
	for _, update := range b.statuses {
		if err := repo.MarkReceiptStatus(ctx, update.account, update.txHash, update.status); err != nil {
			return fmt.Errorf("failed to mark %s %s: %w", update.txHash, update.status, err)
		}
	}

	if err := committer.CommitMessages(ctx, b.messages...); err != nil {
		return fmt.Errorf("failed to commit kafka messages: %w", err)
	}

	slog.Info("flushed ledger batch",
		"count", b.Len(),
		"receipts", len(b.receipts),
		"statuses", len(b.statuses),
		"transitions", b.transitions,
		"offsets", b.offsetRanges(),
		"duration", time.Since(start),
	)

	b.Reset()
	return nil
}

// offsetRanges renders the committed offsets per partition, e.g.
// "0:10-14 3:7-7".
func (b *Batch) offsetRanges() string {
	partitions := make([]int, 0, len(b.minOffset))
	for partition := range b.minOffset {
		partitions = append(partitions, partition)
	}
	slices.Sort(partitions)
	ranges := make([]string, 0, len(partitions))
	for _, partition := range partitions {
		ranges = append(ranges, fmt.Sprintf("%d:%d-%d", partition, b.minOffset[partition], b.maxOffset[partition]))
	}
	return strings.Join(ranges, " ")
}

func (b *Batch) Reset() {
	b.receipts = b.receipts[:0]
	b.statuses = b.statuses[:0]
	b.transitions = 0
	b.messages = b.messages[:0]
	clear(b.minOffset)
	clear(b.maxOffset)
}
