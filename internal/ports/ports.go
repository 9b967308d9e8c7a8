// Package ports declares the persistence contracts the domain services depend
// on. The SQLite repository and the in-memory store both satisfy them.
package ports

import (
	"context"
	"time"

	"spendwise/internal/core"

	"github.com/shopspring/decimal"
)

type (
	TransactionStore interface {
		InsertTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error)
		// LatestTransaction returns the owner's most recently dated transaction
		// or core.ErrNotFound.
		LatestTransaction(ctx context.Context, email string) (core.Transaction, error)
		// ListTransactions returns the owner's transactions ordered by DateTime
		// ascending. Zero bounds are open.
		ListTransactions(ctx context.Context, email string, from, to time.Time) ([]core.Transaction, error)
	}

	BudgetStore interface {
		// CreateBudget returns core.ErrBudgetExists when an active budget for the
		// same (email, category) is already present.
		CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error)
		ActiveBudget(ctx context.Context, email string, categoryID int) (core.Budget, error)
		ListActiveBudgets(ctx context.Context, email string) ([]core.Budget, error)
		ListCompletedBudgets(ctx context.Context, email string) ([]core.CompletedBudget, error)
		// UpdateSpent writes spent only if the stored version equals
		// expectedVersion, else core.ErrConflict. The returned budget carries the
		// bumped version.
		UpdateSpent(ctx context.Context, id, expectedVersion int64, spent decimal.Decimal) (core.Budget, error)
		// SetThresholdFlag flips the 50 or 100 flag on an active budget and
		// reports whether the stored value changed. A missing or completed
		// budget reports false without an error.
		SetThresholdFlag(ctx context.Context, id int64, threshold int, sent bool) (bool, error)
		// ArchiveBudget moves an active budget to completed. It returns
		// core.ErrNotFound if the budget is not active anymore.
		ArchiveBudget(ctx context.Context, id int64, reason core.ArchiveReason, at time.Time) error
		// ExpiredBudgets lists active budgets whose ValidUntil is strictly before now.
		ExpiredBudgets(ctx context.Context, now time.Time) ([]core.Budget, error)
	}

	AccountStore interface {
		CreateUser(ctx context.Context, u core.User) (core.User, error)
		UserByEmail(ctx context.Context, email string) (core.User, error)
		MarkVerified(ctx context.Context, email string) error
		UpdatePassword(ctx context.Context, email, hash string) error

		// SaveCode replaces any unused code of the same purpose for the email.
		SaveCode(ctx context.Context, c core.OneTimeCode) error
		LatestCode(ctx context.Context, email string, purpose core.CodePurpose) (core.OneTimeCode, error)
		CodeByHash(ctx context.Context, purpose core.CodePurpose, hash string) (core.OneTimeCode, error)
		IncrementAttempts(ctx context.Context, id int64) error
		MarkCodeUsed(ctx context.Context, id int64, at time.Time) error

		CreateSession(ctx context.Context, s core.Session) error
		SessionByToken(ctx context.Context, token string) (core.Session, error)
		DeleteSession(ctx context.Context, token string) error
		DeleteSessionsFor(ctx context.Context, email string) error
	}

	// Store is the union used by the backend factory.
	Store interface {
		TransactionStore
		BudgetStore
		AccountStore
		Ping(ctx context.Context) error
		Close() error
	}
)
