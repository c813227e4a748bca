package domain

// Block is the subset of a chain block the client reads.
type Block struct {
	Number     uint64 `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parent_hash"`
	Timestamp  uint64 `json:"timestamp"`
	GasLimit   uint64 `json:"gas_limit"`
	GasUsed    uint64 `json:"gas_used"`
	TxCount    int    `json:"tx_count"`
}
