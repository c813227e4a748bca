package provider

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"time"

	"txqueue/internal/domain"
	"txqueue/internal/infrastructure/ethrpc"
)

var errTransport = errors.New("connection refused")

// fakeBackend answers from fixed values and counts calls.
type fakeBackend struct {
	name    string
	delay   time.Duration
	err     error
	block   uint64
	balance *big.Int
	gas     uint64
	price   *big.Int
	nonce   uint64
	result  string
	tx      *domain.TxResponse
	receipt *domain.Receipt
	sendErr error
	sent    string

	calls atomic.Int32
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) wait(ctx context.Context) error {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	return f.block, nil
}

func (f *fakeBackend) Balance(ctx context.Context, _ string) (*big.Int, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.balance, nil
}

func (f *fakeBackend) Call(ctx context.Context, _ domain.CallMsg) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	return f.result, nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, _ domain.TxRequest) (uint64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	return f.gas, nil
}

func (f *fakeBackend) GasPrice(ctx context.Context) (*big.Int, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.price, nil
}

func (f *fakeBackend) TransactionCount(ctx context.Context, _ string) (uint64, error) {
	if err := f.wait(ctx); err != nil {
		return 0, err
	}
	return f.nonce, nil
}

func (f *fakeBackend) TransactionByHash(ctx context.Context, _ string) (*domain.TxResponse, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.tx, nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, _ string) (*domain.Receipt, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.receipt, nil
}

func (f *fakeBackend) BlockByNumber(ctx context.Context, number uint64) (*domain.Block, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return &domain.Block{Number: number}, nil
}

func (f *fakeBackend) BlockByHash(ctx context.Context, hash string) (*domain.Block, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return &domain.Block{Hash: hash}, nil
}

func (f *fakeBackend) SendRawTransaction(ctx context.Context, signed string) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = signed
	return f.result, nil
}

func nodeRejection(message string) error {
	return &ethrpc.RPCError{Code: -32000, Message: message}
}

// pool builds a network and a dialer over the given fakes, one endpoint
// per fake with weight 1.
func pool(fakes ...*fakeBackend) (domain.Network, Dialer) {
	network := domain.Network{ChainID: 1, Name: "testnet", BaseSymbol: "ETH"}
	byName := make(map[string]*fakeBackend, len(fakes))
	for i, f := range fakes {
		network.Endpoints = append(network.Endpoints, domain.Endpoint{
			Name:     f.name,
			URL:      "http://" + f.name,
			Weight:   1,
			Priority: i,
		})
		byName[f.name] = f
	}
	dial := func(ep domain.Endpoint) (Backend, error) {
		f, ok := byName[ep.Name]
		if !ok {
			return nil, errors.New("unknown endpoint")
		}
		return f, nil
	}
	return network, dial
}

func totalCalls(fakes ...*fakeBackend) int32 {
	var n int32
	for _, f := range fakes {
		n += f.calls.Load()
	}
	return n
}
