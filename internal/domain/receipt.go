package domain

import "time"

// Receipt represents a transaction receipt from the chain.
type Receipt struct {
	TxHash            string `json:"tx_hash"`
	BlockNumber       uint64 `json:"block_number"`
	BlockHash         string `json:"block_hash"`
	TxIndex           uint64 `json:"tx_index"`
	From              string `json:"from"`
	To                string `json:"to,omitempty"`
	Status            uint64 `json:"status"`
	CumulativeGasUsed uint64 `json:"cumulative_gas_used"`
	GasUsed           uint64 `json:"gas_used"`
	ContractAddress   string `json:"contract_address,omitempty"`
	EffectiveGasPrice string `json:"effective_gas_price,omitempty"`
	Confirmations     uint64 `json:"confirmations,omitempty"`
}

func (r Receipt) Succeeded() bool {
	return r.Status == 1
}

type ReceiptStatus string

const (
	ReceiptPending ReceiptStatus = "pending"
	ReceiptSuccess ReceiptStatus = "success"
	ReceiptFailed  ReceiptStatus = "failed"
)

// PendingReceipt is recorded against an account as soon as a transaction
// has been broadcast, before it is mined.
type PendingReceipt struct {
	UUID      string        `json:"uuid"`
	ChainID   uint64        `json:"chain_id"`
	Account   string        `json:"account"`
	TxHash    string        `json:"tx_hash"`
	Kind      string        `json:"kind"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Value     string        `json:"value"`
	Nonce     uint64        `json:"nonce"`
	GasLimit  uint64        `json:"gas_limit"`
	GasPrice  string        `json:"gas_price"`
	Data      string        `json:"data,omitempty"`
	Status    ReceiptStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}
