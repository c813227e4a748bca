package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txqueue/internal/domain"
	"txqueue/internal/streaming"
)

type chanSource struct {
	messages chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func (s *chanSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-s.messages:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *chanSource) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		s.committed = append(s.committed, msg.Offset)
	}
	return nil
}

func (s *chanSource) offsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

type lockedLedger struct {
	mu       sync.Mutex
	receipts []domain.PendingReceipt
	statuses map[string]domain.ReceiptStatus
}

func (l *lockedLedger) StoreReceipts(_ context.Context, receipts []domain.PendingReceipt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receipts = append(l.receipts, receipts...)
	return nil
}

func (l *lockedLedger) MarkReceiptStatus(_ context.Context, _ domain.Account, txHash string, status domain.ReceiptStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.statuses == nil {
		l.statuses = make(map[string]domain.ReceiptStatus)
	}
	l.statuses[txHash] = status
	return nil
}

func (l *lockedLedger) status(txHash string) domain.ReceiptStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statuses[txHash]
}

type ledgerCounts struct {
	mu      sync.Mutex
	decode  int
	flushed int
}

func (c *ledgerCounts) OnLedgerFetchError()  {}
func (c *ledgerCounts) OnLedgerDecodeError() { c.mu.Lock(); c.decode++; c.mu.Unlock() }
func (c *ledgerCounts) OnLedgerFlush(count int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.flushed += count
	}
}

func encoded(t *testing.T, msg streaming.Message) []byte {
	t.Helper()
	payload, err := streaming.Encode(msg)
	require.NoError(t, err)
	return payload
}

func TestLedgerStoresAndCommits(t *testing.T) {
	source := &chanSource{messages: make(chan kafka.Message, 8)}
	repo := &lockedLedger{}
	counts := &ledgerCounts{}
	ledger, err := NewLedger(source, repo, counts, nil, LedgerConfig{BatchSize: 10, FlushInterval: 20 * time.Millisecond})
	require.NoError(t, err)

	source.messages <- kafka.Message{Offset: 1, Value: encoded(t, streaming.Message{
		Type:    streaming.MessageTypePendingReceipt,
		ChainID: 5,
		Account: "0xabc",
		Receipt: &domain.PendingReceipt{TxHash: "0xaa", Status: domain.ReceiptPending},
	})}
	source.messages <- kafka.Message{Offset: 2, Value: []byte("not json")}
	source.messages <- kafka.Message{Offset: 3, Value: encoded(t, streaming.Message{
		Type:    streaming.MessageTypeReceiptStatus,
		ChainID: 5,
		Account: "0xabc",
		TxHash:  "0xAA",
		Status:  domain.ReceiptSuccess,
	})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ledger.Run(ctx) }()

	require.Eventually(t, func() bool { return len(source.offsets()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.ReceiptSuccess, repo.status("0xaa"))
	counts.mu.Lock()
	assert.Equal(t, 1, counts.decode)
	assert.Equal(t, 3, counts.flushed)
	counts.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ledger did not stop")
	}
}

func TestLedgerFlushesOnShutdown(t *testing.T) {
	source := &chanSource{messages: make(chan kafka.Message, 1)}
	repo := &lockedLedger{}
	ledger, err := NewLedger(source, repo, nil, nil, LedgerConfig{BatchSize: 10, FlushInterval: time.Hour})
	require.NoError(t, err)

	source.messages <- kafka.Message{Offset: 9, Value: encoded(t, streaming.Message{
		Type:    streaming.MessageTypePendingReceipt,
		ChainID: 5,
		Receipt: &domain.PendingReceipt{TxHash: "0xbb"},
	})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ledger.Run(ctx) }()
	require.Eventually(t, func() bool { return len(source.messages) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.NoError(t, <-done)
	assert.Equal(t, []int64{9}, source.offsets())
	repo.mu.Lock()
	assert.Len(t, repo.receipts, 1)
	repo.mu.Unlock()
}

func TestNewLedgerRequiresDeps(t *testing.T) {
	_, err := NewLedger(nil, &lockedLedger{}, nil, nil, LedgerConfig{})
	assert.Error(t, err)
	_, err = NewLedger(&chanSource{}, nil, nil, nil, LedgerConfig{})
	assert.Error(t, err)
}
