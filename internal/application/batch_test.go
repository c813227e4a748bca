package application

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"txqueue/internal/domain"
	"txqueue/internal/streaming"
)

type mockLedger struct {
	receipts []domain.PendingReceipt
	marks    []string
	err      error
}

func (m *mockLedger) StoreReceipts(ctx context.Context, receipts []domain.PendingReceipt) error {
	if m.err != nil {
		return m.err
	}
	m.receipts = append(m.receipts, receipts...)
	return nil
}

func (m *mockLedger) MarkReceiptStatus(ctx context.Context, account domain.Account, txHash string, status domain.ReceiptStatus) error {
	m.marks = append(m.marks, account.Address+"/"+txHash+"="+string(status))
	return nil
}

type mockCommitter struct {
	committed []kafka.Message
}

func (m *mockCommitter) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.committed = append(m.committed, msgs...)
	return nil
}

func TestBatch_AddAndFlush(t *testing.T) {
	batch := NewBatch()
	repo := &mockLedger{}
	committer := &mockCommitter{}
	ctx := context.Background()

	batch.Add(streaming.Message{
		Type:    streaming.MessageTypePendingReceipt,
		ChainID: 1,
		Account: "0xabc",
		Receipt: &domain.PendingReceipt{TxHash: "0x1", Status: domain.ReceiptPending},
	}, kafka.Message{Offset: 1})

	batch.Add(streaming.Message{
		Type:    streaming.MessageTypeReceiptStatus,
		ChainID: 1,
		Account: "0xABC",
		TxHash:  "0x1",
		Status:  domain.ReceiptSuccess,
	}, kafka.Message{Offset: 2})

	batch.Add(streaming.Message{
		Type:       streaming.MessageTypeTransition,
		ChainID:    1,
		Transition: &domain.Transition{From: "SIGNED", To: "BROADCASTING"},
	}, kafka.Message{Offset: 3})

	if batch.Len() != 3 {
		t.Errorf("expected batch len 3, got %d", batch.Len())
	}

	if err := batch.Flush(ctx, repo, committer); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if len(repo.receipts) != 1 {
		t.Fatalf("expected 1 receipt, got %d", len(repo.receipts))
	}
	if repo.receipts[0].ChainID != 1 || repo.receipts[0].Account != "0xabc" {
		t.Errorf("receipt not filled from envelope: %+v", repo.receipts[0])
	}
	if len(repo.marks) != 1 || repo.marks[0] != "0xabc/0x1=success" {
		t.Errorf("unexpected status updates %v", repo.marks)
	}

	if len(committer.committed) != 3 {
		t.Errorf("expected 3 committed messages, got %d", len(committer.committed))
	}

	if batch.Len() != 0 {
		t.Errorf("expected batch len 0 after reset, got %d", batch.Len())
	}
}

func TestBatch_FlushErrorKeepsBatch(t *testing.T) {
	batch := NewBatch()
	repo := &mockLedger{err: errors.New("db down")}
	committer := &mockCommitter{}

	batch.Add(streaming.Message{
		Type:    streaming.MessageTypePendingReceipt,
		ChainID: 1,
		Receipt: &domain.PendingReceipt{TxHash: "0x1"},
	}, kafka.Message{Offset: 7})

	if err := batch.Flush(context.Background(), repo, committer); err == nil {
		t.Fatal("expected flush error")
	}
	if len(committer.committed) != 0 {
		t.Errorf("offsets committed after failed write")
	}
	if batch.Len() != 1 {
		t.Errorf("expected batch to be kept, got len %d", batch.Len())
	}

	repo.err = nil
	if err := batch.Flush(context.Background(), repo, committer); err != nil {
		t.Fatalf("retry flush failed: %v", err)
	}
	if len(committer.committed) != 1 {
		t.Errorf("expected 1 committed message, got %d", len(committer.committed))
	}
}

func TestBatch_EmptyFlushIsNoop(t *testing.T) {
	if err := NewBatch().Flush(context.Background(), &mockLedger{}, nil); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestBatch_OffsetRangesPerPartition(t *testing.T) {
	batch := NewBatch()
	transition := streaming.Message{Type: streaming.MessageTypeTransition, ChainID: 1}
	batch.Add(transition, kafka.Message{Partition: 3, Offset: 7})
	batch.Add(transition, kafka.Message{Partition: 0, Offset: 14})
	batch.Add(transition, kafka.Message{Partition: 0, Offset: 10})

	if got := batch.offsetRanges(); got != "0:10-14 3:7-7" {
		t.Fatalf("expected 0:10-14 3:7-7, got %q", got)
	}

	batch.Reset()
	if got := batch.offsetRanges(); got != "" {
		t.Fatalf("expected no ranges after reset, got %q", got)
	}
}
