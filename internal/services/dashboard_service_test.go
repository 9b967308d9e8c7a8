package services

import (
	"context"
	"testing"
	"time"

	"spendwise/internal/analytics"
	"spendwise/internal/core"

	"github.com/shopspring/decimal"
)

func TestDashboardLoadAndInvalidate(t *testing.T) {
	ctx := context.Background()
	svc, mgr, store := newServices(t)
	dash := NewDashboardService(store, store, time.UTC)
	svc.OnChange(dash.Invalidate)

	if _, err := mgr.Create(ctx, "a@x.com", 1, decimal.NewFromInt(200), decimal.Zero, t0.AddDate(0, 0, 30)); err != nil {
		t.Fatal(err)
	}
	for _, tx := range []core.Transaction{
		newTx("1000", core.Credit, 12, t0),
		newTx("50", core.Debit, 1, t0.Add(time.Hour)),
		newTx("30", core.Debit, 7, t0.Add(24*time.Hour)),
	} {
		if _, err := svc.Post(ctx, tx); err != nil {
			t.Fatal(err)
		}
	}

	d, err := dash.Load(ctx, "A@x.com")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Overview.Count != 3 || !d.Overview.Balance.Equal(decimal.NewFromInt(920)) {
		t.Fatalf("unexpected overview: %+v", d.Overview)
	}
	if d.Granularity != analytics.GranularityDay || len(d.IncomeExpense) != 2 {
		t.Fatalf("unexpected chart: %s %+v", d.Granularity, d.IncomeExpense)
	}
	if len(d.Active) != 1 || d.Active[0].Percent != 25 || d.Active[0].CategoryName != "Food & Dining" {
		t.Fatalf("unexpected active budgets: %+v", d.Active)
	}
	if len(d.Recent) != 3 || d.Recent[0].CategoryID != 7 {
		t.Fatalf("recent must be newest first: %+v", d.Recent)
	}

	cached, _ := dash.Load(ctx, "a@x.com")
	if cached != d {
		t.Fatal("second load should hit the cache")
	}

	if _, err := svc.Post(ctx, newTx("10", core.Debit, 1, t0.Add(2*time.Hour))); err != nil {
		t.Fatal(err)
	}
	fresh, _ := dash.Load(ctx, "a@x.com")
	if fresh == d || fresh.Overview.Count != 4 {
		t.Fatalf("post must invalidate the cached dashboard: %+v", fresh.Overview)
	}
}
