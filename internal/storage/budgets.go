package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"spendwise/internal/core"

	"github.com/shopspring/decimal"
)

const (
	budgetCols = `id, email, category_id, budget_amount, amount_spent, created_at, valid_until,
       email_sent_50, email_sent_100, status, version, completed_at, archive_reason`

	insertBudgetSQL = `
INSERT INTO budgets (email, category_id, budget_amount, amount_spent, created_at, valid_until, status, version)
VALUES (?, ?, ?, ?, ?, ?, 'active', 1)`

	activeBudgetSQL = `
SELECT ` + budgetCols + `
FROM budgets
WHERE email = ? AND category_id = ? AND status = 'active'`

	budgetByIDSQL = `
SELECT ` + budgetCols + `
FROM budgets
WHERE id = ?`

	listActiveBudgetsSQL = `
SELECT ` + budgetCols + `
FROM budgets
WHERE email = ? AND status = 'active'
ORDER BY category_id`

	listCompletedBudgetsSQL = `
SELECT ` + budgetCols + `
FROM budgets
WHERE email = ? AND status = 'completed'
ORDER BY completed_at DESC, id DESC`

	updateSpentSQL = `
UPDATE budgets
SET amount_spent = ?, version = version + 1
WHERE id = ? AND version = ? AND status = 'active'`

	setFlag50SQL = `
UPDATE budgets SET email_sent_50 = ?
WHERE id = ? AND status = 'active' AND email_sent_50 <> ?`

	setFlag100SQL = `
UPDATE budgets SET email_sent_100 = ?
WHERE id = ? AND status = 'active' AND email_sent_100 <> ?`

	archiveBudgetSQL = `
UPDATE budgets
SET status = 'completed', completed_at = ?, archive_reason = ?
WHERE id = ? AND status = 'active'`

	expiredBudgetsSQL = `
SELECT ` + budgetCols + `
FROM budgets
WHERE status = 'active' AND valid_until < ?
ORDER BY id`
)

func (r *SQLiteRepository) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	res, err := r.db.ExecContext(ctx, insertBudgetSQL,
		b.Email,
		b.CategoryID,
		b.BudgetAmount,
		b.AmountSpent,
		formatTime(b.CreatedAt),
		formatTime(b.ValidUntil),
	)
	if isUniqueViolation(err) {
		return core.Budget{}, core.ErrBudgetExists
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("insert budget: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Budget{}, fmt.Errorf("insert budget id: %w", err)
	}
	b.ID = id
	b.Status = core.BudgetActive
	b.Version = 1
	return b, nil
}

func (r *SQLiteRepository) ActiveBudget(ctx context.Context, email string, categoryID int) (core.Budget, error) {
	b, err := scanBudget(r.db.QueryRowContext(ctx, activeBudgetSQL, email, categoryID))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, core.ErrNotFound
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("active budget: %w", err)
	}
	return b, nil
}

func (r *SQLiteRepository) ListActiveBudgets(ctx context.Context, email string) ([]core.Budget, error) {
	return r.queryBudgets(ctx, listActiveBudgetsSQL, email)
}

func (r *SQLiteRepository) ListCompletedBudgets(ctx context.Context, email string) ([]core.CompletedBudget, error) {
	budgets, err := r.queryBudgets(ctx, listCompletedBudgetsSQL, email)
	if err != nil {
		return nil, err
	}
	out := make([]core.CompletedBudget, len(budgets))
	for i, b := range budgets {
		out[i] = b.Completed()
	}
	return out, nil
}

func (r *SQLiteRepository) UpdateSpent(ctx context.Context, id, expectedVersion int64, spent decimal.Decimal) (core.Budget, error) {
	res, err := r.db.ExecContext(ctx, updateSpentSQL, spent, id, expectedVersion)
	if err != nil {
		return core.Budget{}, fmt.Errorf("update spent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Budget{}, fmt.Errorf("update spent rows: %w", err)
	}

	b, err := scanBudget(r.db.QueryRowContext(ctx, budgetByIDSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, core.ErrNotFound
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("reload budget: %w", err)
	}
	if n == 0 {
		if b.Status != core.BudgetActive {
			return core.Budget{}, core.ErrNotFound
		}
		return core.Budget{}, core.ErrConflict
	}
	return b, nil
}

func (r *SQLiteRepository) SetThresholdFlag(ctx context.Context, id int64, threshold int, sent bool) (bool, error) {
	var query string
	switch threshold {
	case 50:
		query = setFlag50SQL
	case 100:
		query = setFlag100SQL
	default:
		return false, fmt.Errorf("unknown threshold %d", threshold)
	}
	v := boolInt(sent)
	res, err := r.db.ExecContext(ctx, query, v, id, v)
	if err != nil {
		return false, fmt.Errorf("set %d%% flag: %w", threshold, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set %d%% flag rows: %w", threshold, err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) ArchiveBudget(ctx context.Context, id int64, reason core.ArchiveReason, at time.Time) error {
	res, err := r.db.ExecContext(ctx, archiveBudgetSQL, formatTime(at), string(reason), id)
	if err != nil {
		return fmt.Errorf("archive budget: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive budget rows: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) ExpiredBudgets(ctx context.Context, now time.Time) ([]core.Budget, error) {
	return r.queryBudgets(ctx, expiredBudgetsSQL, formatTime(now))
}

func (r *SQLiteRepository) queryBudgets(ctx context.Context, query string, args ...any) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBudget(row rowScanner) (core.Budget, error) {
	var (
		b                     core.Budget
		createdAt, validUntil string
		sent50, sent100       int
		status                string
		completedAt, reason   sql.NullString
	)
	err := row.Scan(&b.ID, &b.Email, &b.CategoryID, &b.BudgetAmount, &b.AmountSpent, &createdAt, &validUntil,
		&sent50, &sent100, &status, &b.Version, &completedAt, &reason)
	if err != nil {
		return core.Budget{}, err
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Budget{}, err
	}
	if b.ValidUntil, err = parseTime(validUntil); err != nil {
		return core.Budget{}, err
	}
	if b.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return core.Budget{}, err
	}
	b.EmailSent50 = sent50 != 0
	b.EmailSent100 = sent100 != 0
	b.Status = core.BudgetStatus(status)
	b.Reason = core.ArchiveReason(reason.String)
	return b, nil
}
