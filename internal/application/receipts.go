package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"txqueue/internal/domain"
	"txqueue/internal/txqueue"
)

// NewPendingReceipt builds the record handed to receipt sinks for a parcel
// that just reached BROADCASTED.
func NewPendingReceipt(account domain.Account, chainID uint64, parcel txqueue.Parcel, now time.Time) domain.PendingReceipt {
	receipt := domain.PendingReceipt{
		UUID:      uuid.NewString(),
		ChainID:   chainID,
		Account:   strings.ToLower(account.Address),
		TxHash:    parcel.Hash,
		Kind:      parcel.Kind,
		Status:    domain.ReceiptPending,
		CreatedAt: now.UTC(),
	}
	tx := parcel.Intent
	if parcel.Raw != nil {
		tx = *parcel.Raw
	}
	receipt.From = strings.ToLower(tx.From)
	receipt.To = strings.ToLower(tx.To)
	receipt.Value = tx.Value
	receipt.GasPrice = tx.GasPrice
	receipt.Data = tx.Data
	if tx.Nonce != nil {
		receipt.Nonce = *tx.Nonce
	}
	if resp := parcel.Response; resp != nil {
		if resp.From != "" {
			receipt.From = resp.From
		}
		if resp.To != "" {
			receipt.To = resp.To
		}
		if resp.Value != "" {
			receipt.Value = resp.Value
		}
		if resp.GasPrice != "" {
			receipt.GasPrice = resp.GasPrice
		}
		if resp.Gas > 0 {
			receipt.GasLimit = resp.Gas
		}
		if resp.Nonce > 0 || tx.Nonce == nil {
			receipt.Nonce = resp.Nonce
		}
	}
	if receipt.From == "" {
		receipt.From = receipt.Account
	}
	if receipt.Value == "" {
		receipt.Value = "0"
	}
	return receipt
}

// ReceiptSinks delivers to every sink and joins their errors.
type ReceiptSinks []ReceiptSink

func (s ReceiptSinks) AddPendingReceipt(ctx context.Context, account domain.Account, receipt domain.PendingReceipt) error {
	var errs []error
	for _, sink := range s {
		if err := sink.AddPendingReceipt(ctx, account, receipt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s ReceiptSinks) MarkReceiptStatus(ctx context.Context, account domain.Account, txHash string, status domain.ReceiptStatus) error {
	var errs []error
	for _, sink := range s {
		if updater, ok := sink.(ReceiptStatusSink); ok {
			if err := updater.MarkReceiptStatus(ctx, account, txHash, status); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
