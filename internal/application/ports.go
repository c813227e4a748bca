package application

import (
	"context"
	"math/big"
	"time"

	"txqueue/internal/domain"
	"txqueue/internal/txqueue"
)

// ChainReader is the slice of the provider client the coordinator needs.
type ChainReader interface {
	GetTransactionCount(ctx context.Context, address string) (uint64, error)
	EstimateGas(ctx context.Context, tx domain.TxRequest) (string, error)
	GetGasPrice(ctx context.Context) (*big.Int, error)
	WaitForTransaction(ctx context.Context, hash string, confirmations uint64, timeout time.Duration) (*domain.Receipt, error)
}

// Signer turns a prepared transaction into a broadcastable artifact.
type Signer interface {
	Address() string
	Sign(ctx context.Context, tx domain.TxRequest) (txqueue.Signed, error)
}

// ReceiptSink is told about every transaction as soon as it is broadcast.
type ReceiptSink interface {
	AddPendingReceipt(ctx context.Context, account domain.Account, receipt domain.PendingReceipt) error
}

// ReceiptStatusSink is optionally implemented by sinks that track the
// outcome of a pending receipt.
type ReceiptStatusSink interface {
	MarkReceiptStatus(ctx context.Context, account domain.Account, txHash string, status domain.ReceiptStatus) error
}

type TransitionPublisher interface {
	PublishTransition(ctx context.Context, transition domain.Transition) error
}

type CoordinatorObserver interface {
	OnTransition(from, to string)
	OnConfirmed(latency time.Duration)
	OnPendingReceipt(err error)
}

// ReceiptRepository persists pending receipts per account.
type ReceiptRepository interface {
	ReceiptSink
	ReceiptStatusSink
	StoreReceipts(ctx context.Context, receipts []domain.PendingReceipt) error
	QueryReceipts(ctx context.Context, filter ReceiptQueryFilter) ([]domain.PendingReceipt, error)
	Ping(ctx context.Context) error
	Close() error
}
