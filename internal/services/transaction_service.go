package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spendwise/internal/budget"
	"spendwise/internal/core"
	"spendwise/internal/keylock"
	applog "spendwise/internal/log"
	"spendwise/internal/ports"

	"github.com/shopspring/decimal"
)

// BudgetHook is what the transaction flow needs from the budget manager.
type BudgetHook interface {
	OnDebitPosted(ctx context.Context, email string, categoryID int, amount decimal.Decimal, at time.Time) (budget.Result, error)
}

// PostResult is the outcome of posting one transaction. Budget is nil for
// credits.
type PostResult struct {
	Transaction core.Transaction
	Budget      *budget.Result
}

// TransactionService stamps the running balance, persists the transaction
// and runs the budget hook for debits.
type TransactionService struct {
	store      ports.TransactionStore
	budgets    BudgetHook
	locks      *keylock.Map
	invalidate func(email string)
	log        *applog.StructuredLogger
}

func NewTransactionService(store ports.TransactionStore, budgets BudgetHook) *TransactionService {
	return &TransactionService{
		store:      store,
		budgets:    budgets,
		locks:      keylock.New(),
		invalidate: func(string) {},
		log:        applog.NewStructuredLogger(applog.ForComponent(applog.ComponentTransaction)),
	}
}

// OnChange registers a callback run after every persisted transaction,
// typically the dashboard cache invalidation.
func (s *TransactionService) OnChange(fn func(email string)) {
	s.invalidate = fn
}

// Post validates and stores tx. Validation errors come back unwrapped so
// callers can match them with core.IsValidationError. A budget error after
// the insert is returned together with the stored transaction.
func (s *TransactionService) Post(ctx context.Context, tx core.Transaction) (PostResult, error) {
	tx.Email = core.NormalizeEmail(tx.Email)
	if err := tx.Validate(); err != nil {
		return PostResult{}, err
	}

	stored, err := s.insertWithBalance(ctx, tx)
	if err != nil {
		return PostResult{}, err
	}
	s.invalidate(stored.Email)
	s.log.LogTransactionPosted(ctx, stored.Email, stored.ID, stored.CategoryID,
		core.FormatAmount(stored.Amount), string(stored.Type), core.FormatAmount(stored.Balance))

	res := PostResult{Transaction: stored}
	if stored.Type != core.Debit {
		return res, nil
	}

	br, err := s.budgets.OnDebitPosted(ctx, stored.Email, stored.CategoryID, stored.Amount, stored.DateTime)
	if err != nil {
		return res, fmt.Errorf("budget update after transaction %d: %w", stored.ID, err)
	}
	res.Budget = &br
	if br.Outcome != budget.OutcomeNoBudget {
		s.invalidate(stored.Email)
	}
	return res, nil
}

// insertWithBalance serializes read-prior/insert per owner so two concurrent
// posts never stamp from the same prior balance.
func (s *TransactionService) insertWithBalance(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	unlock := s.locks.Lock(tx.Email)
	defer unlock()

	prior := decimal.Zero
	latest, err := s.store.LatestTransaction(ctx, tx.Email)
	switch {
	case err == nil:
		prior = latest.Balance
	case errors.Is(err, core.ErrNotFound):
	default:
		return core.Transaction{}, fmt.Errorf("load prior balance: %w", err)
	}

	tx.Balance = core.ComputeBalance(prior, tx.Amount, tx.Type)
	stored, err := s.store.InsertTransaction(ctx, tx)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}
	return stored, nil
}

// History lists the owner's transactions between from and to; zero bounds
// are open.
func (s *TransactionService) History(ctx context.Context, email string, from, to time.Time) ([]core.Transaction, error) {
	return s.store.ListTransactions(ctx, core.NormalizeEmail(email), from, to)
}
