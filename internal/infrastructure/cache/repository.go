package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"txqueue/internal/application"
	"txqueue/internal/domain"
)

const (
	receiptVersionKey = "txqueue:receipts:version"
	receiptKeyPrefix  = "txqueue:receipts:v"
)

// CachedRepository caches receipt queries. Every write bumps a version
// counter that is part of each cache key, so stale pages are never read.
type CachedRepository struct {
	application.ReceiptRepository
	cache client
	ttl   time.Duration
}

func NewCachedRepository(base application.ReceiptRepository, rdb *redis.Client, ttl time.Duration) *CachedRepository {
	repo := &CachedRepository{ReceiptRepository: base, ttl: ttlOrDefault(ttl)}
	if rdb != nil {
		repo.cache = rdb
	}
	return repo
}

func (r *CachedRepository) AddPendingReceipt(ctx context.Context, account domain.Account, receipt domain.PendingReceipt) error {
	if err := r.ReceiptRepository.AddPendingReceipt(ctx, account, receipt); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedRepository) StoreReceipts(ctx context.Context, receipts []domain.PendingReceipt) error {
	if err := r.ReceiptRepository.StoreReceipts(ctx, receipts); err != nil {
		return err
	}
	if len(receipts) > 0 {
		r.invalidate(ctx)
	}
	return nil
}

func (r *CachedRepository) MarkReceiptStatus(ctx context.Context, account domain.Account, txHash string, status domain.ReceiptStatus) error {
	if err := r.ReceiptRepository.MarkReceiptStatus(ctx, account, txHash, status); err != nil {
		return err
	}
	r.invalidate(ctx)
	return nil
}

func (r *CachedRepository) QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]domain.PendingReceipt, error) {
	if r.cache == nil {
		return r.ReceiptRepository.QueryReceipts(ctx, filter)
	}
	version, ok := r.version(ctx)
	if !ok {
		return r.ReceiptRepository.QueryReceipts(ctx, filter)
	}
	key := receiptQueryKey(version, filter)
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		var receipts []domain.PendingReceipt
		if err := json.Unmarshal([]byte(cached), &receipts); err == nil {
			return receipts, nil
		}
	}

	receipts, err := r.ReceiptRepository.QueryReceipts(ctx, filter)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(receipts)
	if err != nil {
		return receipts, nil
	}
	_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	return receipts, nil
}

func (r *CachedRepository) Close() error {
	err := r.ReceiptRepository.Close()
	if r.cache != nil {
		_ = r.cache.Close()
	}
	return err
}

func (r *CachedRepository) version(ctx context.Context) (string, bool) {
	version, err := r.cache.Get(ctx, receiptVersionKey).Result()
	if err == nil {
		return version, true
	}
	if isMiss(err) {
		return "0", true
	}
	return "", false
}

func (r *CachedRepository) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Incr(ctx, receiptVersionKey).Err()
}

func receiptQueryKey(version string, filter application.ReceiptQueryFilter) string {
	var b strings.Builder
	b.Grow(128)
	b.WriteString(receiptKeyPrefix)
	b.WriteString(version)
	b.WriteString(":chain=")
	if filter.ChainID != nil {
		b.WriteString(strconv.FormatUint(*filter.ChainID, 10))
	} else {
		b.WriteString("all")
	}
	b.WriteString(":account=")
	b.WriteString(orAny(strings.ToLower(filter.Account)))
	b.WriteString(":tx=")
	b.WriteString(orAny(strings.ToLower(filter.TxHash)))
	b.WriteString(":status=")
	b.WriteString(orAny(string(filter.Status)))
	b.WriteString(":limit=")
	b.WriteString(strconv.Itoa(application.NormalizeLimit(filter.Limit)))
	return b.String()
}

func orAny(value string) string {
	if value == "" {
		return "any"
	}
	return value
}
