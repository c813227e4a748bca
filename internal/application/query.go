package application

import "txqueue/internal/domain"

type ReceiptQueryFilter struct {
	ChainID *uint64
	Account string
	TxHash  string
	Status  domain.ReceiptStatus
	Limit   int
}

// NormalizeLimit bounds a query limit to (0, 1000], defaulting to 100.
func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
