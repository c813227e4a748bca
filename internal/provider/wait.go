package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"txqueue/internal/domain"
)

// WaitForTransaction polls until the receipt for hash has at least the
// requested number of confirmations. A zero count is treated as one. The
// wait fails with ErrConfirmationTimeout once timeout elapses; it never
// retries beyond that, re-polling is up to the caller.
func (c *Client) WaitForTransaction(ctx context.Context, hash string, confirmations uint64, timeout time.Duration) (*domain.Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}
	hash = strings.ToLower(hash)

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.confirmed(waitCtx, hash, confirmations)
		switch {
		case receipt != nil:
			return receipt, nil
		case errors.Is(err, ErrDecode):
			return nil, err
		case err != nil:
			c.logger.DebugContext(ctx, "receipt poll failed", "tx_hash", hash, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s after %s", ErrConfirmationTimeout, hash, timeout)
		case <-ticker.C:
		}
	}
}

func (c *Client) confirmed(ctx context.Context, hash string, confirmations uint64) (*domain.Receipt, error) {
	receipt, err := c.GetTransactionReceipt(ctx, hash)
	if err != nil || receipt == nil {
		return nil, err
	}
	if confirmations == 1 {
		receipt.Confirmations = 1
		return receipt, nil
	}
	head, err := c.blockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if head < receipt.BlockNumber {
		return nil, nil
	}
	depth := head - receipt.BlockNumber + 1
	if depth < confirmations {
		return nil, nil
	}
	receipt.Confirmations = depth
	return receipt, nil
}
