package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"txqueue/internal/domain"
)

// ReceiptSource looks up a mined receipt; nil means not mined yet.
type ReceiptSource interface {
	GetTransactionReceipt(ctx context.Context, hash string) (*domain.Receipt, error)
}

// ReceiptCache memoizes chain receipts. Only receipts that exist are
// cached; a missing receipt is asked again every time because it may be
// mined at any moment.
type ReceiptCache struct {
	source ReceiptSource
	cache  client
	ttl    time.Duration
	prefix string
}

func NewReceiptCache(source ReceiptSource, rdb *redis.Client, chainID uint64, ttl time.Duration) *ReceiptCache {
	rc := &ReceiptCache{source: source, ttl: ttlOrDefault(ttl), prefix: receiptPrefix(chainID)}
	if rdb != nil {
		rc.cache = rdb
	}
	return rc
}

func (c *ReceiptCache) GetTransactionReceipt(ctx context.Context, hash string) (*domain.Receipt, error) {
	hash = strings.ToLower(hash)
	if c.cache == nil {
		return c.source.GetTransactionReceipt(ctx, hash)
	}
	key := c.prefix + hash
	if cached, err := c.cache.Get(ctx, key).Result(); err == nil {
		var receipt domain.Receipt
		if err := json.Unmarshal([]byte(cached), &receipt); err == nil {
			return &receipt, nil
		}
	}

	receipt, err := c.source.GetTransactionReceipt(ctx, hash)
	if err != nil || receipt == nil {
		return receipt, err
	}
	if payload, err := json.Marshal(receipt); err == nil {
		_ = c.cache.Set(ctx, key, payload, c.ttl).Err()
	}
	return receipt, nil
}

func receiptPrefix(chainID uint64) string {
	return "txqueue:receipt:" + strconv.FormatUint(chainID, 10) + ":"
}
