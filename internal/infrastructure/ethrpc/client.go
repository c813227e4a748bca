package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"txqueue/internal/domain"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	name       string
	url        string
	httpClient *http.Client
	idCounter  uint64
}

type Config struct {
	Name    string
	URL     string
	Timeout time.Duration
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rpc url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	name := cfg.Name
	if name == "" {
		name = cfg.URL
	}
	return &Client{
		name:       name,
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_chainId", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_blockNumber", []any{}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	var result string
	if err := c.call(ctx, "eth_getBalance", []any{address, "latest"}, &result); err != nil {
		return nil, err
	}
	return parseHexBig(result)
}

func (c *Client) Call(ctx context.Context, msg domain.CallMsg) (string, error) {
	call := map[string]any{"to": msg.To, "data": msg.Data}
	if msg.From != "" {
		call["from"] = msg.From
	}
	var result string
	if err := c.call(ctx, "eth_call", []any{call, "latest"}, &result); err != nil {
		return "", err
	}
	return result, nil
}

func (c *Client) EstimateGas(ctx context.Context, tx domain.TxRequest) (uint64, error) {
	params, err := txParams(tx)
	if err != nil {
		return 0, err
	}
	var result string
	if err := c.call(ctx, "eth_estimateGas", []any{params}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var result string
	if err := c.call(ctx, "eth_gasPrice", []any{}, &result); err != nil {
		return nil, err
	}
	return parseHexBig(result)
}

func (c *Client) TransactionCount(ctx context.Context, address string) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_getTransactionCount", []any{address, "pending"}, &result); err != nil {
		return 0, err
	}
	return parseHexUint(result)
}

// TransactionByHash returns nil without error when the node does not know
// the transaction.
func (c *Client) TransactionByHash(ctx context.Context, hash string) (*domain.TxResponse, error) {
	var result *rpcTransaction
	if err := c.call(ctx, "eth_getTransactionByHash", []any{hash}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.toDomain()
}

// TransactionReceipt returns nil without error while the transaction is
// not mined.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*domain.Receipt, error) {
	var result *rpcReceipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{hash}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.toDomain()
}

func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*domain.Block, error) {
	var result *rpcBlock
	if err := c.call(ctx, "eth_getBlockByNumber", []any{formatHexUint(number), false}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.toDomain()
}

func (c *Client) BlockByHash(ctx context.Context, hash string) (*domain.Block, error) {
	var result *rpcBlock
	if err := c.call(ctx, "eth_getBlockByHash", []any{hash, false}, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	return result.toDomain()
}

func (c *Client) SendRawTransaction(ctx context.Context, signed string) (string, error) {
	var result string
	if err := c.call(ctx, "eth_sendRawTransaction", []any{signed}, &result); err != nil {
		return "", err
	}
	return result, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is an error object returned by the node itself, as opposed to a
// transport failure.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	id := atomic.AddUint64(&c.idCounter, 1)
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return err
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if result == nil {
		return nil
	}
	if len(decoded.Result) == 0 {
		return errors.New("rpc result is empty")
	}
	return json.Unmarshal(decoded.Result, result)
}
