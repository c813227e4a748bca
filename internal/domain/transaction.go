package domain

// TxRequest is an unsigned, possibly partial transaction. Quantities are
// decimal strings; empty means "not set yet".
type TxRequest struct {
	From     string  `json:"from,omitempty"`
	To       string  `json:"to,omitempty"`
	Value    string  `json:"value,omitempty"`
	Data     string  `json:"data,omitempty"`
	Gas      string  `json:"gas,omitempty"`
	GasPrice string  `json:"gas_price,omitempty"`
	Nonce    *uint64 `json:"nonce,omitempty"`
	ChainID  uint64  `json:"chain_id,omitempty"`
}

// CallMsg is a read-only contract call.
type CallMsg struct {
	From string
	To   string
	Data string
}

// TxResponse is a transaction as reported by a node. BlockNumber is nil
// while the transaction is pending.
type TxResponse struct {
	Hash        string  `json:"hash"`
	From        string  `json:"from"`
	To          string  `json:"to,omitempty"`
	Nonce       uint64  `json:"nonce"`
	Gas         uint64  `json:"gas"`
	GasPrice    string  `json:"gas_price"`
	Value       string  `json:"value"`
	Input       string  `json:"input"`
	ChainID     uint64  `json:"chain_id,omitempty"`
	BlockNumber *uint64 `json:"block_number,omitempty"`
	BlockHash   string  `json:"block_hash,omitempty"`
}
