// Package provider answers chain queries against a network's endpoint
// pool. In aggregated mode every read fans out to the whole pool and
// resolves on a weighted quorum; in single-endpoint mode calls go to the
// one selected node with no fallback. Transaction lookups can also race the
// pool, taking the first node that knows the transaction.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"txqueue/internal/domain"
	"txqueue/internal/race"
)

const (
	ModeAggregated = "aggregated"
	ModeSingle     = "single"
	ModeRace       = "race"

	defaultPollInterval = 4 * time.Second
	defaultCallTimeout  = 15 * time.Second
)

// Observer receives one callback per logical call.
type Observer interface {
	ObserveRPCCall(method, mode, status string, duration time.Duration)
}

type Client struct {
	network      domain.Network
	single       bool
	dial         Dialer
	pollInterval time.Duration
	logger       *slog.Logger
	observer     Observer
}

type Option func(*Client)

// WithSingleEndpoint bypasses aggregation and sends every call to the
// network's selected endpoint.
func WithSingleEndpoint() Option {
	return func(c *Client) { c.single = true }
}

func WithDialer(dial Dialer) Option {
	return func(c *Client) { c.dial = dial }
}

func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithObserver(observer Observer) Option {
	return func(c *Client) { c.observer = observer }
}

func NewClient(network domain.Network, opts ...Option) (*Client, error) {
	if err := network.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		network:      network,
		dial:         HTTPDialer(defaultCallTimeout),
		pollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Network() domain.Network {
	return c.network
}

func (c *Client) Mode() string {
	if c.single {
		return ModeSingle
	}
	return ModeAggregated
}

// members resolves the endpoint set for one call. Nothing is cached so the
// client can be shared freely between goroutines.
func (c *Client) members() ([]member, error) {
	endpoints := c.network.Ranked()
	if c.single {
		selected, err := c.network.Selected()
		if err != nil {
			return nil, err
		}
		endpoints = []domain.Endpoint{selected}
	}
	members := make([]member, 0, len(endpoints))
	for _, ep := range endpoints {
		backend, err := c.dial(ep)
		if err != nil {
			c.logger.Warn("endpoint dial failed", "endpoint", ep.Name, "error", err)
			continue
		}
		members = append(members, member{endpoint: ep, backend: backend})
	}
	return members, nil
}

func (c *Client) need() int {
	if c.single {
		return 1
	}
	return c.network.QuorumWeight()
}

func (c *Client) unavailable() error {
	if c.single {
		return ErrEndpointUnreachable
	}
	return ErrProviderUnavailable
}

// failure builds the error for a call no answer could satisfy. A single
// endpoint that answered with an error object is up, so its own error is
// returned; only transport failures make it unreachable.
func (c *Client) failure(errs []error) error {
	joined := errors.Join(errs...)
	if c.single && allNodeErrors(errs) {
		return joined
	}
	return wrap(c.unavailable(), joined)
}

func (c *Client) observe(ctx context.Context, method, mode string, fn func(ctx context.Context) error) error {
	ctx, span := otel.Tracer("txqueue/provider").Start(ctx, "provider."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.mode", mode),
			attribute.Int64("chain.id", int64(c.network.ChainID)),
			attribute.Int("endpoint.count", len(c.network.Endpoints)),
		))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.DebugContext(ctx, "rpc call failed", "method", method, "mode", mode, "error", err)
	}
	if c.observer != nil {
		c.observer.ObserveRPCCall(method, mode, status, time.Since(start))
	}
	return err
}

func agreed[T any](ctx context.Context, c *Client, fn func(context.Context, Backend) (T, error), classify func(error) error) (T, error) {
	members, err := c.members()
	if err != nil {
		var zero T
		return zero, wrap(c.unavailable(), err)
	}
	return resolve[T](ctx, members, c.need(), newAgreeTally[T](c.need()), fn, classify, c.failure)
}

func median(ctx context.Context, c *Client, fn func(context.Context, Backend) (uint64, error), classify func(error) error) (uint64, error) {
	members, err := c.members()
	if err != nil {
		return 0, wrap(c.unavailable(), err)
	}
	return resolve[uint64](ctx, members, c.need(), &medianTally{need: c.need()}, fn, classify, c.failure)
}

func (c *Client) Call(ctx context.Context, msg domain.CallMsg) (string, error) {
	var out string
	err := c.observe(ctx, "call", c.Mode(), func(ctx context.Context) error {
		var err error
		out, err = agreed(ctx, c, func(ctx context.Context, b Backend) (string, error) {
			return b.Call(ctx, msg)
		}, nil)
		return err
	})
	return out, err
}

func (c *Client) GetRawBalance(ctx context.Context, address string) (*big.Int, error) {
	var out string
	err := c.observe(ctx, "getBalance", c.Mode(), func(ctx context.Context) error {
		var err error
		out, err = agreed(ctx, c, func(ctx context.Context, b Backend) (string, error) {
			balance, err := b.Balance(ctx, address)
			if err != nil {
				return "", err
			}
			return balance.String(), nil
		}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	balance, _ := new(big.Int).SetString(out, 10)
	return balance, nil
}

// GetBalance returns the base-currency balance in display units.
func (c *Client) GetBalance(ctx context.Context, address string) (string, error) {
	raw, err := c.GetRawBalance(ctx, address)
	if err != nil {
		return "", err
	}
	return FormatUnits(raw, c.network.Decimals()), nil
}

func (c *Client) GetRawTokenBalance(ctx context.Context, address string, token domain.Asset) (*big.Int, error) {
	data, err := encodeBalanceOf(address)
	if err != nil {
		return nil, err
	}
	result, err := c.Call(ctx, domain.CallMsg{To: token.Contract, Data: data})
	if err != nil {
		return nil, err
	}
	return decodeBalanceOf(result)
}

func (c *Client) GetTokenBalance(ctx context.Context, address string, token domain.Asset) (string, error) {
	raw, err := c.GetRawTokenBalance(ctx, address, token)
	if err != nil {
		return "", err
	}
	decimals := token.Decimals
	if decimals == 0 {
		decimals = domain.DefaultBaseDecimals
	}
	return FormatUnits(raw, decimals), nil
}

func (c *Client) EstimateGas(ctx context.Context, tx domain.TxRequest) (string, error) {
	var gas uint64
	err := c.observe(ctx, "estimateGas", c.Mode(), func(ctx context.Context) error {
		var err error
		gas, err = median(ctx, c, func(ctx context.Context, b Backend) (uint64, error) {
			return b.EstimateGas(ctx, tx)
		}, revertClass)
		return err
	})
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(gas, 10), nil
}

func (c *Client) GetGasPrice(ctx context.Context) (*big.Int, error) {
	var out string
	err := c.observe(ctx, "gasPrice", c.Mode(), func(ctx context.Context) error {
		members, err := c.members()
		if err != nil {
			return wrap(c.unavailable(), err)
		}
		out, err = resolve[string](ctx, members, c.need(), &bigMedianTally{need: c.need()},
			func(ctx context.Context, b Backend) (string, error) {
				price, err := b.GasPrice(ctx)
				if err != nil {
					return "", err
				}
				return price.String(), nil
			}, nil, c.failure)
		return err
	})
	if err != nil {
		return nil, err
	}
	price, _ := new(big.Int).SetString(out, 10)
	return price, nil
}

func (c *Client) GetTransactionCount(ctx context.Context, address string) (uint64, error) {
	var nonce uint64
	err := c.observe(ctx, "getTransactionCount", c.Mode(), func(ctx context.Context) error {
		var err error
		nonce, err = agreed(ctx, c, func(ctx context.Context, b Backend) (uint64, error) {
			return b.TransactionCount(ctx, address)
		}, nil)
		return err
	})
	return nonce, err
}

// GetTransactionByHash looks a transaction up. With raceAll set, every
// endpoint is asked concurrently and the first one that knows the
// transaction wins; endpoints that report it absent are ignored because
// propagation between nodes is not synchronized.
func (c *Client) GetTransactionByHash(ctx context.Context, hash string, raceAll bool) (*domain.TxResponse, error) {
	hash = strings.ToLower(hash)
	if raceAll {
		return c.raceTransaction(ctx, hash)
	}
	var tx *domain.TxResponse
	err := c.observe(ctx, "getTransaction", c.Mode(), func(ctx context.Context) error {
		var err error
		tx, err = agreed(ctx, c, func(ctx context.Context, b Backend) (*domain.TxResponse, error) {
			return b.TransactionByHash(ctx, hash)
		}, nil)
		if err != nil {
			return err
		}
		if tx == nil {
			return fmt.Errorf("%w: %s", ErrTransactionNotFound, hash)
		}
		return nil
	})
	return tx, err
}

func (c *Client) raceTransaction(ctx context.Context, hash string) (*domain.TxResponse, error) {
	var tx *domain.TxResponse
	err := c.observe(ctx, "getTransaction", ModeRace, func(ctx context.Context) error {
		members, err := c.members()
		if err != nil {
			return wrap(ErrTransactionNotFound, err)
		}
		tasks := make([]race.Task[*domain.TxResponse], 0, len(members))
		for _, m := range members {
			backend := m.backend
			tasks = append(tasks, func(ctx context.Context) (*domain.TxResponse, error) {
				return backend.TransactionByHash(ctx, hash)
			})
		}
		tx, err = race.First(ctx, tasks, func(tx *domain.TxResponse) bool { return tx != nil })
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s: %w", ErrTransactionNotFound, hash, err)
		}
		return nil
	})
	return tx, err
}

// GetTransactionReceipt returns nil without error while the transaction is
// not mined.
func (c *Client) GetTransactionReceipt(ctx context.Context, hash string) (*domain.Receipt, error) {
	hash = strings.ToLower(hash)
	var receipt *domain.Receipt
	err := c.observe(ctx, "getTransactionReceipt", c.Mode(), func(ctx context.Context) error {
		var err error
		receipt, err = agreed(ctx, c, func(ctx context.Context, b Backend) (*domain.Receipt, error) {
			return b.TransactionReceipt(ctx, hash)
		}, nil)
		return err
	})
	return receipt, err
}

func (c *Client) GetBlockByNumber(ctx context.Context, number uint64) (*domain.Block, error) {
	var block *domain.Block
	err := c.observe(ctx, "getBlockByNumber", c.Mode(), func(ctx context.Context) error {
		var err error
		block, err = agreed(ctx, c, func(ctx context.Context, b Backend) (*domain.Block, error) {
			return b.BlockByNumber(ctx, number)
		}, nil)
		return err
	})
	return block, err
}

func (c *Client) GetBlockByHash(ctx context.Context, hash string) (*domain.Block, error) {
	var block *domain.Block
	err := c.observe(ctx, "getBlockByHash", c.Mode(), func(ctx context.Context) error {
		var err error
		block, err = agreed(ctx, c, func(ctx context.Context, b Backend) (*domain.Block, error) {
			return b.BlockByHash(ctx, strings.ToLower(hash))
		}, nil)
		return err
	})
	return block, err
}

func (c *Client) blockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.observe(ctx, "blockNumber", c.Mode(), func(ctx context.Context) error {
		var err error
		number, err = median(ctx, c, func(ctx context.Context, b Backend) (uint64, error) {
			return b.BlockNumber(ctx)
		}, nil)
		return err
	})
	return number, err
}

func (c *Client) GetCurrentBlock(ctx context.Context) (string, error) {
	number, err := c.blockNumber(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(number, 10), nil
}

// LatestBlockNumber satisfies readiness probes.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return c.blockNumber(ctx)
}

// SendRawTx broadcasts a signed payload. In aggregated mode it goes to
// every endpoint and the first acceptance wins. The response is rebuilt
// from the payload itself so callers get sender, nonce and gas without
// another round trip.
func (c *Client) SendRawTx(ctx context.Context, signed string) (*domain.TxResponse, error) {
	var hash string
	err := c.observe(ctx, "sendRawTransaction", c.Mode(), func(ctx context.Context) error {
		members, err := c.members()
		if err != nil {
			return wrap(c.unavailable(), err)
		}
		tasks := make([]race.Task[string], 0, len(members))
		for _, m := range members {
			backend := m.backend
			tasks = append(tasks, func(ctx context.Context) (string, error) {
				return backend.SendRawTransaction(ctx, signed)
			})
		}
		hash, err = race.First(ctx, tasks, func(string) bool { return true })
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if allNodeErrors(memberErrors(err)) {
			return wrap(ErrRejected, err)
		}
		return wrap(c.unavailable(), err)
	})
	if err != nil {
		return nil, err
	}
	return c.responseFromPayload(signed, hash), nil
}

func (c *Client) responseFromPayload(signed, hash string) *domain.TxResponse {
	resp := &domain.TxResponse{Hash: strings.ToLower(hash), ChainID: c.network.ChainID}
	raw, err := hexutil.Decode(signed)
	if err != nil {
		c.logger.Warn("broadcast payload is not hex", "tx_hash", hash, "error", err)
		return resp
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		c.logger.Warn("broadcast payload did not decode", "tx_hash", hash, "error", err)
		return resp
	}
	if local := strings.ToLower(tx.Hash().Hex()); resp.Hash == "" {
		resp.Hash = local
	} else if local != resp.Hash {
		c.logger.Warn("node returned a different hash than the payload", "tx_hash", hash, "payload_hash", local)
	}
	resp.Nonce = tx.Nonce()
	resp.Gas = tx.Gas()
	resp.GasPrice = tx.GasPrice().String()
	resp.Value = tx.Value().String()
	resp.Input = hexutil.Encode(tx.Data())
	if tx.To() != nil {
		resp.To = strings.ToLower(tx.To().Hex())
	}
	if chainID := tx.ChainId(); chainID != nil && chainID.Sign() > 0 {
		resp.ChainID = chainID.Uint64()
	}
	if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), &tx); err == nil {
		resp.From = strings.ToLower(from.Hex())
	}
	return resp
}
