package provider

import (
	"context"
	"math/big"
	"time"

	"txqueue/internal/domain"
	"txqueue/internal/infrastructure/ethrpc"
)

// Backend is one endpoint's view of the chain. Absent transactions,
// receipts and blocks are reported as nil values with a nil error.
type Backend interface {
	Name() string
	BlockNumber(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
	Call(ctx context.Context, msg domain.CallMsg) (string, error)
	EstimateGas(ctx context.Context, tx domain.TxRequest) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	TransactionCount(ctx context.Context, address string) (uint64, error)
	TransactionByHash(ctx context.Context, hash string) (*domain.TxResponse, error)
	TransactionReceipt(ctx context.Context, hash string) (*domain.Receipt, error)
	BlockByNumber(ctx context.Context, number uint64) (*domain.Block, error)
	BlockByHash(ctx context.Context, hash string) (*domain.Block, error)
	SendRawTransaction(ctx context.Context, signed string) (string, error)
}

// Dialer turns a configured endpoint into a Backend.
type Dialer func(ep domain.Endpoint) (Backend, error)

// HTTPDialer dials endpoints over JSON-RPC/HTTP.
func HTTPDialer(timeout time.Duration) Dialer {
	return func(ep domain.Endpoint) (Backend, error) {
		return ethrpc.NewClient(ethrpc.Config{Name: ep.Name, URL: ep.URL, Timeout: timeout})
	}
}

type member struct {
	endpoint domain.Endpoint
	backend  Backend
}
