package domain

import "time"

// Transition is the published record of one queue status change.
type Transition struct {
	ChainID  uint64    `json:"chain_id"`
	Account  string    `json:"account"`
	ParcelID string    `json:"parcel_id"`
	Index    int       `json:"index"`
	Kind     string    `json:"kind,omitempty"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	TxHash   string    `json:"tx_hash,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
