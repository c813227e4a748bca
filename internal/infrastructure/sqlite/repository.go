package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"txqueue/internal/application"
	"txqueue/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS pending_receipts (
			uuid TEXT NOT NULL UNIQUE,
			chain_id INTEGER NOT NULL,
			account TEXT NOT NULL,
			tx_hash TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			from_addr TEXT NOT NULL,
			to_addr TEXT NOT NULL DEFAULT '',
			value TEXT NOT NULL DEFAULT '0',
			nonce INTEGER NOT NULL,
			gas_limit INTEGER NOT NULL DEFAULT 0,
			gas_price TEXT NOT NULL DEFAULT '',
			data TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (account, tx_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS pending_receipts_status_idx ON pending_receipts (chain_id, status)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const insertReceipt = `INSERT INTO pending_receipts
	(uuid, chain_id, account, tx_hash, kind, from_addr, to_addr, value, nonce, gas_limit, gas_price, data, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(account, tx_hash) DO NOTHING`

// AddPendingReceipt records a receipt once; replaying the same
// (account, tx_hash) leaves the stored row and its status untouched.
func (r *Repository) AddPendingReceipt(ctx context.Context, account domain.Account, receipt domain.PendingReceipt) error {
	if account.Address != "" {
		receipt.Account = account.Address
	}
	return r.StoreReceipts(ctx, []domain.PendingReceipt{receipt})
}

func (r *Repository) StoreReceipts(ctx context.Context, receipts []domain.PendingReceipt) error {
	if len(receipts) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, insertReceipt)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, rc := range receipts {
		created := rc.CreatedAt.UnixMilli()
		if rc.CreatedAt.IsZero() {
			created = now
		}
		status := rc.Status
		if status == "" {
			status = domain.ReceiptPending
		}
		if _, err := stmt.ExecContext(ctx,
			rc.UUID, rc.ChainID, strings.ToLower(rc.Account), strings.ToLower(rc.TxHash), rc.Kind,
			strings.ToLower(rc.From), strings.ToLower(rc.To), rc.Value, rc.Nonce, rc.GasLimit, rc.GasPrice, rc.Data,
			string(status), created, now,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) MarkReceiptStatus(ctx context.Context, account domain.Account, txHash string, status domain.ReceiptStatus) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_receipts SET status = ?, updated_at = ? WHERE account = ? AND tx_hash = ?`,
		string(status), time.Now().UnixMilli(), strings.ToLower(account.Address), strings.ToLower(txHash),
	)
	return err
}

func (r *Repository) QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]domain.PendingReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)

	if filter.ChainID != nil {
		clauses = append(clauses, "chain_id = ?")
		args = append(args, *filter.ChainID)
	}
	if filter.Account != "" {
		clauses = append(clauses, "account = ?")
		args = append(args, strings.ToLower(filter.Account))
	}
	if filter.TxHash != "" {
		clauses = append(clauses, "tx_hash = ?")
		args = append(args, strings.ToLower(filter.TxHash))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT uuid, chain_id, account, tx_hash, kind, from_addr, to_addr, value, nonce, gas_limit, gas_price, data, status, created_at FROM pending_receipts`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC, nonce ASC LIMIT ?"
	args = append(args, application.NormalizeLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []domain.PendingReceipt
	for rows.Next() {
		var rc domain.PendingReceipt
		var status string
		var created int64
		if err := rows.Scan(&rc.UUID, &rc.ChainID, &rc.Account, &rc.TxHash, &rc.Kind, &rc.From, &rc.To, &rc.Value,
			&rc.Nonce, &rc.GasLimit, &rc.GasPrice, &rc.Data, &status, &created); err != nil {
			return nil, err
		}
		rc.Status = domain.ReceiptStatus(status)
		rc.CreatedAt = time.UnixMilli(created).UTC()
		receipts = append(receipts, rc)
	}
	return receipts, rows.Err()
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}
