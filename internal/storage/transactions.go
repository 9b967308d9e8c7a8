package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"spendwise/internal/core"
)

const (
	insertTransactionSQL = `
INSERT INTO transactions (email, amount, type, description, category_id, date_time, balance, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectTransactionCols = `id, email, amount, type, description, category_id, date_time, balance`

	latestTransactionSQL = `
SELECT ` + selectTransactionCols + `
FROM transactions
WHERE email = ?
ORDER BY date_time DESC, id DESC
LIMIT 1`

	listTransactionsSQL = `
SELECT ` + selectTransactionCols + `
FROM transactions
WHERE email = ? AND date_time >= ? AND date_time <= ?
ORDER BY date_time ASC, id ASC`
)

// far bounds for open-ended ranges
var (
	minTime = time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
)

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	res, err := r.db.ExecContext(ctx, insertTransactionSQL,
		tx.Email,
		tx.Amount,
		string(tx.Type),
		tx.Description,
		tx.CategoryID,
		formatTime(tx.DateTime),
		tx.Balance,
		formatTime(time.Now()),
	)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction id: %w", err)
	}
	tx.ID = id
	return tx, nil
}

func (r *SQLiteRepository) LatestTransaction(ctx context.Context, email string) (core.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx, latestTransactionSQL, email))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("latest transaction: %w", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, email string, from, to time.Time) ([]core.Transaction, error) {
	if from.IsZero() {
		from = minTime
	}
	if to.IsZero() {
		to = maxTime
	}
	rows, err := r.db.QueryContext(ctx, listTransactionsSQL, email, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		tx       core.Transaction
		txType   string
		dateTime string
	)
	if err := row.Scan(&tx.ID, &tx.Email, &tx.Amount, &txType, &tx.Description, &tx.CategoryID, &dateTime, &tx.Balance); err != nil {
		return core.Transaction{}, err
	}
	tx.Type = core.TxType(txType)
	t, err := parseTime(dateTime)
	if err != nil {
		return core.Transaction{}, err
	}
	tx.DateTime = t
	return tx, nil
}
