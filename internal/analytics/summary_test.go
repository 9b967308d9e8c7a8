package analytics

import (
	"testing"
	"time"

	"spendwise/internal/core"

	"github.com/shopspring/decimal"
)

func TestSpendingByCategory(t *testing.T) {
	at := day(2025, 5, 1, 10)
	txs := []core.Transaction{
		{Amount: decimal.NewFromInt(10), Type: core.Debit, CategoryID: 1, DateTime: at},
		{Amount: decimal.NewFromInt(15), Type: core.Debit, CategoryID: 1, DateTime: at},
		{Amount: decimal.NewFromInt(40), Type: core.Debit, CategoryID: 7, DateTime: at},
		{Amount: decimal.NewFromInt(999), Type: core.Credit, CategoryID: 12, DateTime: at},
	}
	got := SpendingByCategory(txs)
	if len(got) != 2 {
		t.Fatalf("credits must be excluded, got %+v", got)
	}
	if got[0].CategoryID != 7 || got[0].Name != "Rent" {
		t.Fatalf("expected Rent first, got %+v", got[0])
	}
	if !got[1].Total.Equal(decimal.NewFromInt(25)) || got[1].Count != 2 {
		t.Fatalf("unexpected food total: %+v", got[1])
	}
}

func TestBalanceOverTimeOrdersByDate(t *testing.T) {
	txs := []core.Transaction{
		{DateTime: day(2025, 5, 3, 0), Balance: decimal.NewFromInt(3)},
		{DateTime: day(2025, 5, 1, 0), Balance: decimal.NewFromInt(1)},
		{DateTime: day(2025, 5, 2, 0), Balance: decimal.NewFromInt(2)},
	}
	pts := BalanceOverTime(txs)
	for i, p := range pts {
		if !p.Balance.Equal(decimal.NewFromInt(int64(i + 1))) {
			t.Fatalf("point %d out of order: %+v", i, p)
		}
	}
	if !txs[0].Balance.Equal(decimal.NewFromInt(3)) {
		t.Fatal("input slice must not be reordered")
	}
}

func TestSummarize(t *testing.T) {
	txs := []core.Transaction{
		{Amount: decimal.NewFromInt(1000), Type: core.Credit, DateTime: day(2025, 5, 1, 0), Balance: decimal.NewFromInt(1000)},
		{Amount: decimal.NewFromInt(250), Type: core.Debit, DateTime: day(2025, 5, 2, 0), Balance: decimal.NewFromInt(750)},
	}
	o := Summarize(txs)
	if !o.Net.Equal(decimal.NewFromInt(750)) || !o.Balance.Equal(decimal.NewFromInt(750)) || o.Count != 2 {
		t.Fatalf("unexpected overview: %+v", o)
	}
	if got := IncomeVsExpense(txs, time.UTC); len(got) != 2 {
		t.Fatalf("expected two daily points, got %+v", got)
	}
}
