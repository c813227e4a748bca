package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"txqueue/internal/application"
	"txqueue/internal/domain"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS pending_receipts (
			uuid CHAR(36) NOT NULL,
			chain_id BIGINT UNSIGNED NOT NULL,
			account VARCHAR(42) NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			kind VARCHAR(64) NOT NULL DEFAULT '',
			from_addr VARCHAR(42) NOT NULL,
			to_addr VARCHAR(42) NOT NULL DEFAULT '',
			value VARCHAR(78) NOT NULL DEFAULT '0',
			nonce BIGINT UNSIGNED NOT NULL,
			gas_limit BIGINT UNSIGNED NOT NULL DEFAULT 0,
			gas_price VARCHAR(78) NOT NULL DEFAULT '',
			data MEDIUMTEXT NOT NULL,
			status VARCHAR(16) NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (account, tx_hash),
			UNIQUE KEY pending_receipts_uuid (uuid),
			KEY pending_receipts_status_idx (chain_id, status)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return ensureColumn(db, "pending_receipts", "kind", "VARCHAR(64) NOT NULL DEFAULT ''")
}

func ensureColumn(db *sql.DB, table, column, definition string) error {
	var count int
	row := db.QueryRow(
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?`,
		table,
		column,
	)
	if err := row.Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	_, err := db.Exec(stmt)
	return err
}

func (r *Repository) AddPendingReceipt(ctx context.Context, account domain.Account, receipt domain.PendingReceipt) error {
	if account.Address != "" {
		receipt.Account = account.Address
	}
	return r.StoreReceipts(ctx, []domain.PendingReceipt{receipt})
}

// StoreReceipts inserts receipts, ignoring any (account, tx_hash) already
// stored so replays never roll a status back to pending.
func (r *Repository) StoreReceipts(ctx context.Context, receipts []domain.PendingReceipt) error {
	if len(receipts) == 0 {
		return nil
	}
	ctx, span := startDBSpan(ctx, "mysql.StoreReceipts", attribute.Int("receipt.count", len(receipts)))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO pending_receipts
		(uuid, chain_id, account, tx_hash, kind, from_addr, to_addr, value, nonce, gas_limit, gas_price, data, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE updated_at = updated_at`)
	if err != nil {
		_ = tx.Rollback()
		recordSpanError(span, err)
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
			recordSpanError(span, err)
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

func (r *Repository) MarkReceiptStatus(ctx context.Context, account domain.Account, txHash string, status domain.ReceiptStatus) error {
	ctx, span := startDBSpan(ctx, "mysql.MarkReceiptStatus",
		attribute.String("tx.hash", txHash),
		attribute.String("receipt.status", string(status)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_receipts SET status = ?, updated_at = ? WHERE account = ? AND tx_hash = ?`,
		string(status), time.Now().UnixMilli(), strings.ToLower(account.Address), strings.ToLower(txHash),
	)
	if err != nil {
		recordSpanError(span, err)
	}
	return err
}

func (r *Repository) QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]domain.PendingReceipt, error) {
	ctx, span := startDBSpan(ctx, "mysql.QueryReceipts", attribute.String("account", filter.Account))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query, args := receiptQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		recordSpanError(span, err)
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
			recordSpanError(span, err)
			return nil, err
		}
		rc.Status = domain.ReceiptStatus(status)
		rc.CreatedAt = time.UnixMilli(created).UTC()
		receipts = append(receipts, rc)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return receipts, nil
}

func receiptQuery(filter application.ReceiptQueryFilter) (string, []any) {
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
	return query, args
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("txqueue/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
