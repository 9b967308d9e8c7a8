package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spendwise/internal/budget"
	"spendwise/internal/core"
	"spendwise/internal/notify"
	"spendwise/internal/storage/memory"

	"github.com/shopspring/decimal"
)

type okNotifier struct{}

func (okNotifier) SendThresholdEmail(context.Context, notify.ThresholdNotice) bool { return true }

var t0 = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func newTx(amount string, typ core.TxType, cat int, at time.Time) core.Transaction {
	return core.Transaction{
		Email:       "a@x.com",
		Amount:      decimal.RequireFromString(amount),
		Type:        typ,
		Description: "test",
		CategoryID:  cat,
		DateTime:    at,
	}
}

func newServices(t *testing.T) (*TransactionService, *budget.Manager, *memory.Store) {
	t.Helper()
	store := memory.New()
	mgr := budget.NewManager(store, okNotifier{}).WithClock(func() time.Time { return t0 })
	return NewTransactionService(store, mgr), mgr, store
}

func TestPostStampsRunningBalance(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newServices(t)

	steps := []struct {
		tx   core.Transaction
		want string
	}{
		{newTx("1000", core.Credit, 12, t0), "1000"},
		{newTx("250.50", core.Debit, 1, t0.Add(time.Hour)), "749.50"},
		{newTx("800", core.Debit, 7, t0.Add(2*time.Hour)), "-50.50"},
	}
	for i, st := range steps {
		res, err := svc.Post(ctx, st.tx)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if !res.Transaction.Balance.Equal(decimal.RequireFromString(st.want)) {
			t.Fatalf("step %d: balance %s, want %s", i, res.Transaction.Balance, st.want)
		}
	}
}

func TestPostRejectsInvalidBeforePersisting(t *testing.T) {
	ctx := context.Background()
	svc, _, store := newServices(t)

	bad := newTx("10", core.Debit, 999, t0)
	if _, err := svc.Post(ctx, bad); !core.IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := store.LatestTransaction(ctx, "a@x.com"); !errors.Is(err, core.ErrNotFound) {
		t.Fatal("invalid transaction must not be stored")
	}
}

func TestPostRunsBudgetHookForDebitsOnly(t *testing.T) {
	ctx := context.Background()
	svc, mgr, _ := newServices(t)
	if _, err := mgr.Create(ctx, "a@x.com", 1, decimal.NewFromInt(100), decimal.Zero, t0.AddDate(0, 0, 7)); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Post(ctx, newTx("500", core.Credit, 1, t0.Add(time.Hour)))
	if err != nil || res.Budget != nil {
		t.Fatalf("credit must skip budgets: %+v %v", res, err)
	}

	res, err = svc.Post(ctx, newTx("60", core.Debit, 1, t0.Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Budget == nil || res.Budget.Outcome != budget.OutcomeUpdated || !res.Budget.Sent50 {
		t.Fatalf("expected budget update with 50%% email: %+v", res.Budget)
	}
}

func TestPostInvalidatesCache(t *testing.T) {
	svc, _, _ := newServices(t)
	var got []string
	svc.OnChange(func(email string) { got = append(got, email) })

	if _, err := svc.Post(context.Background(), newTx("5", core.Credit, 12, t0)); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "a@x.com" {
		t.Fatalf("unexpected invalidations: %v", got)
	}
}

func TestConcurrentPostsKeepBalanceConsistent(t *testing.T) {
	ctx := context.Background()
	svc, _, store := newServices(t)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// same timestamp: the latest insert is the prior for the next one
			if _, err := svc.Post(ctx, newTx("4", core.Credit, 12, t0)); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	txs, _ := store.ListTransactions(ctx, "a@x.com", time.Time{}, time.Time{})
	max := decimal.Zero
	for _, tx := range txs {
		if tx.Balance.GreaterThan(max) {
			max = tx.Balance
		}
	}
	if len(txs) != 25 || !max.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected 25 txs reaching 100, got %d reaching %s", len(txs), max)
	}
}
