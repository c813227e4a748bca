package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txqueue/internal/domain"
	"txqueue/internal/txqueue"
)

func TestNewPendingReceipt(t *testing.T) {
	nonce := uint64(7)
	parcel := txqueue.Parcel{
		Kind: "transfer",
		Hash: "0xabc",
		Raw: &domain.TxRequest{
			From:     "0x1111111111111111111111111111111111111111",
			To:       "0xABCDEF0000000000000000000000000000000000",
			Value:    "5",
			GasPrice: "100",
			Nonce:    &nonce,
		},
		Response: &domain.TxResponse{Hash: "0xabc", Gas: 21000, Nonce: 7},
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))

	receipt := NewPendingReceipt(domain.Account{Address: "0x1111111111111111111111111111111111111111"}, 5, parcel, now)

	assert.NotEmpty(t, receipt.UUID)
	assert.Equal(t, uint64(5), receipt.ChainID)
	assert.Equal(t, "0xabc", receipt.TxHash)
	assert.Equal(t, "transfer", receipt.Kind)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000000", receipt.To)
	assert.Equal(t, "5", receipt.Value)
	assert.Equal(t, uint64(7), receipt.Nonce)
	assert.Equal(t, uint64(21000), receipt.GasLimit)
	assert.Equal(t, "100", receipt.GasPrice)
	assert.Equal(t, domain.ReceiptPending, receipt.Status)
	assert.Equal(t, time.UTC, receipt.CreatedAt.Location())
}

func TestNewPendingReceiptDefaults(t *testing.T) {
	receipt := NewPendingReceipt(domain.Account{Address: "0xAA"}, 1, txqueue.Parcel{Hash: "0x1"}, time.Now())
	assert.Equal(t, "0xaa", receipt.From)
	assert.Equal(t, "0", receipt.Value)
}

type statuslessSink struct{ calls int }

func (s *statuslessSink) AddPendingReceipt(context.Context, domain.Account, domain.PendingReceipt) error {
	s.calls++
	return nil
}

func TestReceiptSinksFanOut(t *testing.T) {
	failing := &fakeSink{err: errors.New("store down")}
	plain := &statuslessSink{}
	tracking := &fakeSink{}
	sinks := ReceiptSinks{failing, plain, tracking}

	err := sinks.AddPendingReceipt(context.Background(), account, domain.PendingReceipt{TxHash: "0x1"})
	assert.ErrorContains(t, err, "store down")
	assert.Equal(t, 1, plain.calls)
	receipts, _ := tracking.snapshot()
	assert.Len(t, receipts, 1)

	require.NoError(t, sinks.MarkReceiptStatus(context.Background(), account, "0x1", domain.ReceiptSuccess))
	_, statuses := tracking.snapshot()
	assert.Equal(t, domain.ReceiptSuccess, statuses["0x1"])
}
