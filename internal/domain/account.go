package domain

// Account is the sender a queue is bound to.
type Account struct {
	Address string
	Label   string
	ChainID uint64
}

// Asset carries the metadata needed to read and display a token balance.
type Asset struct {
	Symbol   string
	Contract string
	Decimals uint
}
