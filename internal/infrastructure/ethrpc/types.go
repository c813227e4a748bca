package ethrpc

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"txqueue/internal/domain"
)

type rpcTransaction struct {
	Hash        string  `json:"hash"`
	From        string  `json:"from"`
	To          *string `json:"to"`
	Nonce       string  `json:"nonce"`
	Gas         string  `json:"gas"`
	GasPrice    string  `json:"gasPrice"`
	Value       string  `json:"value"`
	Input       string  `json:"input"`
	ChainID     *string `json:"chainId"`
	BlockNumber *string `json:"blockNumber"`
	BlockHash   *string `json:"blockHash"`
}

func (t *rpcTransaction) toDomain() (*domain.TxResponse, error) {
	nonce, err := parseHexUint(t.Nonce)
	if err != nil {
		return nil, fmt.Errorf("tx nonce: %w", err)
	}
	gas, err := parseHexUint(t.Gas)
	if err != nil {
		return nil, fmt.Errorf("tx gas: %w", err)
	}
	gasPrice, err := parseHexDecimal(t.GasPrice)
	if err != nil {
		return nil, fmt.Errorf("tx gasPrice: %w", err)
	}
	value, err := parseHexDecimal(t.Value)
	if err != nil {
		return nil, fmt.Errorf("tx value: %w", err)
	}
	resp := &domain.TxResponse{
		Hash:     strings.ToLower(t.Hash),
		From:     strings.ToLower(t.From),
		To:       strings.ToLower(deref(t.To)),
		Nonce:    nonce,
		Gas:      gas,
		GasPrice: gasPrice,
		Value:    value,
		Input:    t.Input,
	}
	if t.ChainID != nil {
		if resp.ChainID, err = parseHexUint(*t.ChainID); err != nil {
			return nil, fmt.Errorf("tx chainId: %w", err)
		}
	}
	if t.BlockNumber != nil {
		block, err := parseHexUint(*t.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("tx blockNumber: %w", err)
		}
		resp.BlockNumber = &block
		resp.BlockHash = strings.ToLower(deref(t.BlockHash))
	}
	return resp, nil
}

type rpcReceipt struct {
	TxHash            string  `json:"transactionHash"`
	BlockNumber       string  `json:"blockNumber"`
	BlockHash         string  `json:"blockHash"`
	TxIndex           string  `json:"transactionIndex"`
	From              string  `json:"from"`
	To                *string `json:"to"`
	Status            string  `json:"status"`
	CumulativeGasUsed string  `json:"cumulativeGasUsed"`
	GasUsed           string  `json:"gasUsed"`
	ContractAddress   *string `json:"contractAddress"`
	EffectiveGasPrice string  `json:"effectiveGasPrice"`
}

func (r *rpcReceipt) toDomain() (*domain.Receipt, error) {
	blockNumber, err := parseHexUint(r.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("receipt blockNumber: %w", err)
	}
	txIndex, err := parseHexUint(r.TxIndex)
	if err != nil {
		return nil, fmt.Errorf("receipt transactionIndex: %w", err)
	}
	status, err := parseHexUint(r.Status)
	if err != nil {
		return nil, fmt.Errorf("receipt status: %w", err)
	}
	cumulative, err := parseHexUint(r.CumulativeGasUsed)
	if err != nil {
		return nil, fmt.Errorf("receipt cumulativeGasUsed: %w", err)
	}
	gasUsed, err := parseHexUint(r.GasUsed)
	if err != nil {
		return nil, fmt.Errorf("receipt gasUsed: %w", err)
	}
	receipt := &domain.Receipt{
		TxHash:            strings.ToLower(r.TxHash),
		BlockNumber:       blockNumber,
		BlockHash:         strings.ToLower(r.BlockHash),
		TxIndex:           txIndex,
		From:              strings.ToLower(r.From),
		To:                strings.ToLower(deref(r.To)),
		Status:            status,
		CumulativeGasUsed: cumulative,
		GasUsed:           gasUsed,
		ContractAddress:   strings.ToLower(deref(r.ContractAddress)),
	}
	if r.EffectiveGasPrice != "" {
		if receipt.EffectiveGasPrice, err = parseHexDecimal(r.EffectiveGasPrice); err != nil {
			return nil, fmt.Errorf("receipt effectiveGasPrice: %w", err)
		}
	}
	return receipt, nil
}

type rpcBlock struct {
	Number       string `json:"number"`
	Hash         string `json:"hash"`
	ParentHash   string `json:"parentHash"`
	Timestamp    string `json:"timestamp"`
	GasLimit     string `json:"gasLimit"`
	GasUsed      string `json:"gasUsed"`
	Transactions []any  `json:"transactions"`
}

func (b *rpcBlock) toDomain() (*domain.Block, error) {
	number, err := parseHexUint(b.Number)
	if err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}
	timestamp, err := parseHexUint(b.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("block timestamp: %w", err)
	}
	gasLimit, err := parseHexUint(b.GasLimit)
	if err != nil {
		return nil, fmt.Errorf("block gasLimit: %w", err)
	}
	gasUsed, err := parseHexUint(b.GasUsed)
	if err != nil {
		return nil, fmt.Errorf("block gasUsed: %w", err)
	}
	return &domain.Block{
		Number:     number,
		Hash:       strings.ToLower(b.Hash),
		ParentHash: strings.ToLower(b.ParentHash),
		Timestamp:  timestamp,
		GasLimit:   gasLimit,
		GasUsed:    gasUsed,
		TxCount:    len(b.Transactions),
	}, nil
}

// txParams renders a partial transaction as an eth_estimateGas call object.
func txParams(tx domain.TxRequest) (map[string]any, error) {
	params := map[string]any{}
	if tx.From != "" {
		params["from"] = tx.From
	}
	if tx.To != "" {
		params["to"] = tx.To
	}
	if tx.Data != "" {
		params["data"] = tx.Data
	}
	for key, raw := range map[string]string{"value": tx.Value, "gas": tx.Gas, "gasPrice": tx.GasPrice} {
		if raw == "" {
			continue
		}
		value, ok := new(big.Int).SetString(raw, 10)
		if !ok || value.Sign() < 0 {
			return nil, fmt.Errorf("invalid %s: %q", key, raw)
		}
		params[key] = hexutil.EncodeBig(value)
	}
	if tx.Nonce != nil {
		params["nonce"] = hexutil.EncodeUint64(*tx.Nonce)
	}
	return params, nil
}

func parseHexUint(value string) (uint64, error) {
	return hexutil.DecodeUint64(value)
}

func parseHexBig(value string) (*big.Int, error) {
	return hexutil.DecodeBig(value)
}

func parseHexDecimal(value string) (string, error) {
	parsed, err := hexutil.DecodeBig(value)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

func formatHexUint(value uint64) string {
	return hexutil.EncodeUint64(value)
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
