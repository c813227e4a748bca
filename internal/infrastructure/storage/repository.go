// Package storage picks the receipt ledger backend from a DSN.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"txqueue/internal/application"
	"txqueue/internal/infrastructure/cache"
	"txqueue/internal/infrastructure/mysql"
	"txqueue/internal/infrastructure/sqlite"
)

const sqlitePrefix = "sqlite://"

var ErrNoDSN = errors.New("receipt store dsn is required")

type Options struct {
	// Redis, when non-nil, caches receipt queries.
	Redis    *redis.Client
	CacheTTL time.Duration
}

// Open returns the receipt repository named by dsn. "sqlite://<path>"
// opens a local file; anything else is treated as a MySQL DSN.
func Open(ctx context.Context, dsn string, opts Options) (application.ReceiptRepository, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrNoDSN
	}

	var (
		repo application.ReceiptRepository
		err  error
	)
	if path, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		repo, err = sqlite.NewRepository(path)
	} else {
		repo, err = mysql.NewRepository(dsn)
	}
	if err != nil {
		return nil, err
	}
	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	if opts.Redis != nil {
		repo = cache.NewCachedRepository(repo, opts.Redis, opts.CacheTTL)
	}
	return repo, nil
}

// Backend names the driver Open would use for dsn.
func Backend(dsn string) string {
	if strings.HasPrefix(strings.TrimSpace(dsn), sqlitePrefix) {
		return "sqlite"
	}
	return "mysql"
}
